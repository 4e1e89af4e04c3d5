// Package dossier is the reconciliation engine. It keeps the local store
// authoritative while mirroring each dossier into a remote thread: one pinned
// starter message for the summary and one message per entry.
package dossier

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/starford/dossier/internal/linker"
	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/remote"
	"github.com/starford/dossier/internal/resolver"
	"github.com/starford/dossier/internal/sse"
	"github.com/starford/dossier/internal/store"
)

// Publisher receives dossier change notifications.
type Publisher interface {
	PublishDossierEvent(ev sse.DossierEvent)
}

// Engine coordinates the local store and the remote gateway.
type Engine struct {
	db       store.Dossiers
	gw       remote.Gateway
	resolver *resolver.Resolver
	linker   *linker.Linker
	events   Publisher
	log      *slog.Logger

	// live caches threads known to resolve, keyed by thread id. Only the
	// mention index reads it; thread-link resolution always fetches.
	live      *cache.Cache
	allowlist []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLinker sets the mention linker. The default links to Discord with the
// default cap.
func WithLinker(l *linker.Linker) Option {
	return func(e *Engine) { e.linker = l }
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithLiveCache caches positive thread liveness checks made while building
// mention indexes. ttl <= 0 disables the cache.
func WithLiveCache(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.live = cache.New(ttl, 0)
		}
	}
}

// WithGuildAllowlist restricts reads to the given guilds. An empty list
// allows every guild.
func WithGuildAllowlist(guilds []string) Option {
	return func(e *Engine) { e.allowlist = slices.Clone(guilds) }
}

// New creates an Engine over db and gw.
func New(db store.Dossiers, gw remote.Gateway, opts ...Option) *Engine {
	e := &Engine{
		db:       db,
		gw:       gw,
		resolver: resolver.New(db),
		linker:   linker.New(linker.DefaultLinkBase, linker.DefaultMaxLinks),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) publish(kind string, p *models.Person, entryID int64, reposted int) {
	if e.events == nil || p == nil {
		return
	}
	e.events.PublishDossierEvent(sse.DossierEvent{
		Kind:     kind,
		GuildID:  p.GuildID,
		PersonID: p.ID,
		EntryID:  entryID,
		Reposted: reposted,
	})
}
