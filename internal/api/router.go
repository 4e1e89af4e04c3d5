package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dossier/internal/dossier"
	"github.com/starford/dossier/internal/ratelimit"
)

// RouterConfig carries the collaborators of the /api router.
type RouterConfig struct {
	Engine      *dossier.Engine
	Limiter     *ratelimit.Limiter
	AuthEnabled bool
	Token       string
	// SSE, if non-nil, is mounted at GET /events inside the auth group.
	SSE  http.Handler
	Port int
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(cfg RouterConfig) chi.Router {
	h := NewHandler(cfg.Engine, cfg.Limiter, cfg.Port)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(cfg.AuthEnabled, cfg.Token))

	r.Get("/persons", h.ListPersons)
	r.Post("/persons", h.CreatePerson)
	r.Route("/persons/{id}", func(r chi.Router) {
		r.Get("/", h.GetPerson)
		r.Patch("/", h.RenamePerson)
		r.Patch("/summary", h.UpdateSummary)
		r.Post("/aliases", h.AddAlias)
		r.Put("/thread", h.AttachThread)
		r.Post("/entries", h.CreateEntry)
		r.Patch("/entries/{entryId}", h.UpdateEntry)
		r.Post("/refresh-links", h.RefreshLinks)
	})

	r.Get("/lookup", h.Lookup)
	r.Get("/config", h.Config)

	if cfg.SSE != nil {
		r.Get("/events", cfg.SSE.ServeHTTP)
	}

	return r
}
