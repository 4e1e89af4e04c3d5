package dossier

import (
	"context"
	"errors"
	"slices"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/linker"
	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/resolver"
	"github.com/starford/dossier/internal/slug"
	"github.com/starford/dossier/internal/sse"
	"github.com/starford/dossier/internal/store"
)

// CreatePersonInput is the input for CreatePerson.
type CreatePersonInput struct {
	GuildID   string
	Name      string
	SummaryMD string
	Tags      []string
	CreatedBy string
}

// CreatePerson stores a new, unlinked person after checking the name is not
// ambiguous in its guild.
func (e *Engine) CreatePerson(ctx context.Context, in CreatePersonInput) (*models.Person, error) {
	guildID, err := text("guild_id", in.GuildID, 0)
	if err != nil {
		return nil, err
	}
	if !e.GuildAllowed(guildID) {
		return nil, apperr.NotFound("guild not found")
	}
	name, err := e.checkName(ctx, guildID, in.Name)
	if err != nil {
		return nil, err
	}
	summary, err := optionalText("summary_md", in.SummaryMD, maxSummary)
	if err != nil {
		return nil, err
	}
	p, err := e.db.CreatePerson(ctx, store.NewPerson{
		GuildID:   guildID,
		Name:      name,
		SummaryMD: summary,
		Tags:      in.Tags,
		CreatedBy: in.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	e.publish(sse.KindPersonUpdated, p, 0, 0)
	return p, nil
}

func (e *Engine) checkName(ctx context.Context, guildID, name string, except ...int64) (string, error) {
	name, err := text("name", name, maxName)
	if err != nil {
		return "", err
	}
	if slug.Make(name) == "" {
		return "", apperr.Validation("name must contain a letter or digit")
	}
	if err := e.resolver.EnsureUniqueName(ctx, guildID, name, except...); err != nil {
		return "", err
	}
	return name, nil
}

// RenamePerson changes the display name and recomputes the slug.
func (e *Engine) RenamePerson(ctx context.Context, personID int64, name string) (*models.Person, error) {
	p, err := e.person(ctx, personID)
	if err != nil {
		return nil, err
	}
	name, err = e.checkName(ctx, p.GuildID, name, p.ID)
	if err != nil {
		return nil, err
	}
	updated, err := e.db.RenamePerson(ctx, p.ID, name)
	if err != nil {
		return nil, err
	}
	e.publish(sse.KindPersonUpdated, updated, 0, 0)
	return updated, nil
}

// AddAlias adds a lookup alias. It must not collide with another person's
// slug, name or alias; repeating one of the person's own aliases is a no-op.
func (e *Engine) AddAlias(ctx context.Context, personID int64, alias string) ([]string, error) {
	alias, err := text("alias", alias, maxName)
	if err != nil {
		return nil, err
	}
	p, err := e.person(ctx, personID)
	if err != nil {
		return nil, err
	}
	if err := e.resolver.EnsureUniqueName(ctx, p.GuildID, alias, p.ID); err != nil {
		return nil, err
	}
	aliases, err := e.db.AddAlias(ctx, p.ID, alias)
	if err != nil {
		return nil, err
	}
	e.publish(sse.KindPersonUpdated, p, 0, 0)
	return aliases, nil
}

// AttachThread links an unlinked person to a thread. Re-attaching the same
// thread refreshes the starter id; a different thread is a conflict.
func (e *Engine) AttachThread(ctx context.Context, personID int64, threadID, starterID string) (*models.Person, error) {
	threadID, err := text("thread_id", threadID, 0)
	if err != nil {
		return nil, err
	}
	starterID, err = text("starter_message_id", starterID, 0)
	if err != nil {
		return nil, err
	}
	if _, err := e.person(ctx, personID); err != nil {
		return nil, err
	}
	p, err := e.db.AttachThread(ctx, personID, threadID, starterID)
	if err != nil {
		return nil, err
	}
	e.publish(sse.KindPersonUpdated, p, 0, 0)
	return p, nil
}

// GetDossier returns the person and its entries. A stored thread that no
// longer resolves is unlinked before returning, without failing the read.
func (e *Engine) GetDossier(ctx context.Context, personID int64) (*models.Dossier, error) {
	p, err := e.person(ctx, personID)
	if err != nil {
		return nil, err
	}
	if p.ThreadID != nil {
		resolved, _, err := e.ResolveThread(ctx, personID)
		if err != nil && !errors.Is(err, apperr.ErrThreadConflict) {
			return nil, err
		}
		if resolved != nil {
			p = resolved
		}
	}
	entries, err := e.db.ListEntries(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &models.Dossier{Person: p, Entries: entries}, nil
}

// ListPersons returns the guild's persons ordered by name.
func (e *Engine) ListPersons(ctx context.Context, guildID string) ([]*models.Person, error) {
	guildID, err := text("guild_id", guildID, 0)
	if err != nil {
		return nil, err
	}
	if !e.GuildAllowed(guildID) {
		return nil, apperr.NotFound("guild not found")
	}
	return e.db.ListPersons(ctx, guildID)
}

// Lookup resolves free-form input to a person in the guild.
func (e *Engine) Lookup(ctx context.Context, guildID, query string) (*models.Person, resolver.Tier, error) {
	guildID, err := text("guild_id", guildID, 0)
	if err != nil {
		return nil, "", err
	}
	if !e.GuildAllowed(guildID) {
		return nil, "", apperr.NotFound("guild not found")
	}
	return e.resolver.Resolve(ctx, guildID, query)
}

// person loads a person and hides persons of guilds outside the allowlist.
func (e *Engine) person(ctx context.Context, personID int64) (*models.Person, error) {
	p, err := e.db.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if !e.GuildAllowed(p.GuildID) {
		return nil, apperr.NotFound("person not found")
	}
	return p, nil
}

// GuildAllowed reports whether guildID passes the allowlist.
func (e *Engine) GuildAllowed(guildID string) bool {
	return len(e.allowlist) == 0 || slices.Contains(e.allowlist, guildID)
}

// Guilds returns the allowlist when set, otherwise every guild with persons.
func (e *Engine) Guilds(ctx context.Context) ([]string, error) {
	if len(e.allowlist) > 0 {
		return slices.Clone(e.allowlist), nil
	}
	return e.db.ListGuildIDs(ctx)
}

// MentionIndex builds the mention index for a guild from persons whose
// thread currently resolves. Unlinked persons and dead threads are left out.
func (e *Engine) MentionIndex(ctx context.Context, guildID string) (*linker.Index, error) {
	persons, err := e.db.ListPersons(ctx, guildID)
	if err != nil {
		return nil, err
	}
	var targets []linker.Target
	for _, p := range persons {
		if p.ThreadID == nil || !e.threadLive(ctx, *p.ThreadID) {
			continue
		}
		names := append([]string{p.Name}, p.Aliases...)
		targets = append(targets, linker.Target{GuildID: p.GuildID, ThreadID: *p.ThreadID, Names: names})
	}
	return e.linker.Build(targets), nil
}

func (e *Engine) threadLive(ctx context.Context, threadID string) bool {
	if e.live != nil {
		if _, ok := e.live.Get(threadID); ok {
			return true
		}
	}
	if _, err := e.gw.FetchThread(ctx, threadID); err != nil {
		return false
	}
	e.markLive(threadID)
	return true
}

func (e *Engine) markLive(threadID string) {
	if e.live != nil {
		e.live.SetDefault(threadID, struct{}{})
	}
}

func (e *Engine) forgetLive(threadID string) {
	if e.live != nil {
		e.live.Delete(threadID)
	}
}
