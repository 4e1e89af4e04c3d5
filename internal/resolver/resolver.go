// Package resolver finds a person inside a guild from free-form user input.
package resolver

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/slug"
)

const (
	nameWeight  = 1.0
	aliasWeight = 0.85
	// DefaultThreshold is the minimum weighted similarity a fuzzy
	// candidate needs to be returned.
	DefaultThreshold = 0.6
	prefixScore      = 0.9
	minPrefixLen     = 3
)

// Source is the subset of the store the resolver reads.
type Source interface {
	GetPersonBySlug(ctx context.Context, guildID, slug string) (*models.Person, error)
	GetPersonByName(ctx context.Context, guildID, name string) (*models.Person, error)
	GetPersonByAlias(ctx context.Context, guildID, alias string) (*models.Person, error)
	ListPersons(ctx context.Context, guildID string) ([]*models.Person, error)
}

// Tier names which lookup step produced a match.
type Tier string

const (
	TierSlug  Tier = "slug"
	TierName  Tier = "name"
	TierAlias Tier = "alias"
	TierFuzzy Tier = "fuzzy"
)

// Resolver performs tiered person lookups.
type Resolver struct {
	src       Source
	threshold float64
}

// New returns a Resolver over src.
func New(src Source) *Resolver {
	return &Resolver{src: src, threshold: DefaultThreshold}
}

// Resolve returns the first person matched by, in order, slug, display name,
// alias and fuzzy similarity. No scoring happens across tiers.
func (r *Resolver) Resolve(ctx context.Context, guildID, query string) (*models.Person, Tier, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, "", apperr.Validation("query is required")
	}

	if s := slug.Make(query); s != "" {
		p, err := r.src.GetPersonBySlug(ctx, guildID, s)
		if done, err := hit(err); done {
			return p, TierSlug, err
		}
	}
	p, err := r.src.GetPersonByName(ctx, guildID, query)
	if done, err := hit(err); done {
		return p, TierName, err
	}
	p, err = r.src.GetPersonByAlias(ctx, guildID, query)
	if done, err := hit(err); done {
		return p, TierAlias, err
	}

	persons, err := r.src.ListPersons(ctx, guildID)
	if err != nil {
		return nil, "", err
	}
	if best := r.fuzzy(query, persons); best != nil {
		return best, TierFuzzy, nil
	}
	return nil, "", apperr.NotFound("no dossier matches " + query)
}

// hit reports whether a tier lookup ended the search, either with a match
// or with an error other than not-found.
func hit(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	return true, err
}

func (r *Resolver) fuzzy(query string, persons []*models.Person) *models.Person {
	q := slug.Fold(query)
	var (
		best      *models.Person
		bestScore float64
	)
	for _, p := range persons {
		score := nameWeight * Similarity(q, slug.Fold(p.Name))
		for _, a := range p.Aliases {
			if s := aliasWeight * Similarity(q, slug.Fold(a)); s > score {
				score = s
			}
		}
		if score >= r.threshold && score > bestScore {
			best, bestScore = p, score
		}
	}
	return best
}

// Similarity scores two already-folded strings in [0,1]. It takes the better
// of a whole-string edit ratio and the average best per-token ratio, where a
// query token that prefixes a candidate token scores at least 0.9.
func Similarity(query, candidate string) float64 {
	whole := ratio(query, candidate)
	qt, ct := tokens(query), tokens(candidate)
	if len(qt) == 0 || len(ct) == 0 {
		return whole
	}
	var sum float64
	for _, q := range qt {
		var bestTok float64
		for _, c := range ct {
			s := ratio(q, c)
			if len([]rune(q)) >= minPrefixLen && strings.HasPrefix(c, q) && s < prefixScore {
				s = prefixScore
			}
			if s > bestTok {
				bestTok = s
			}
		}
		sum += bestTok
	}
	if avg := sum / float64(len(qt)); avg > whole {
		return avg
	}
	return whole
}

func ratio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// EnsureUniqueName rejects name when it collides, case-insensitively, with
// any slug, display name or alias in the guild. Persons listed in except are
// ignored, so a rename or alias add does not collide with itself.
func (r *Resolver) EnsureUniqueName(ctx context.Context, guildID, name string, except ...int64) error {
	persons, err := r.src.ListPersons(ctx, guildID)
	if err != nil {
		return err
	}
	candidateSlug := slug.Make(name)
	for _, p := range persons {
		if slices.Contains(except, p.ID) {
			continue
		}
		if p.Slug == candidateSlug || slug.Equal(p.Name, name) {
			return apperr.New(apperr.ErrConflict, "a dossier named "+p.Name+" already exists")
		}
		for _, a := range p.Aliases {
			if slug.Equal(a, name) {
				return apperr.New(apperr.ErrConflict, name+" is already an alias of "+p.Name)
			}
		}
	}
	return nil
}
