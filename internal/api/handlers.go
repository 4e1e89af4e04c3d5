package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/dossier"
	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/ratelimit"
)

// Handler holds API route handlers.
type Handler struct {
	engine  *dossier.Engine
	limiter *ratelimit.Limiter
	port    int
}

// NewHandler creates a new Handler.
func NewHandler(engine *dossier.Engine, limiter *ratelimit.Limiter, port int) *Handler {
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultWindow)
	}
	return &Handler{engine: engine, limiter: limiter, port: port}
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid " + name)
	}
	return id, nil
}

// ListPersons handles GET /api/persons.
//
//	@Summary		List a guild's persons ordered by name
//	@Tags			persons
//	@Produce		json
//	@Param			guild_id	query		string	true	"Guild id"
//	@Success		200			{object}	PersonListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/persons [get]
func (h *Handler) ListPersons(w http.ResponseWriter, r *http.Request) {
	guildID := strings.TrimSpace(r.URL.Query().Get("guild_id"))
	if guildID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'guild_id' is required"))
		return
	}
	persons, err := h.engine.ListPersons(r.Context(), guildID)
	if err != nil {
		writeError(w, r, "list persons", err)
		return
	}
	writeJSON(w, http.StatusOK, PersonListResponse{Persons: persons})
}

// CreatePerson handles POST /api/persons.
//
//	@Summary		Create an unlinked person
//	@Tags			persons
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreatePersonRequest	true	"Person to create"
//	@Success		201		{object}	PersonResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/persons [post]
func (h *Handler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	var req CreatePersonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "create person", err)
		return
	}
	p, err := h.engine.CreatePerson(r.Context(), dossier.CreatePersonInput{
		GuildID:   req.GuildID,
		Name:      req.Name,
		SummaryMD: req.SummaryMD,
		Tags:      req.Tags,
		CreatedBy: models.Deref(req.CreatedBy),
	})
	if err != nil {
		writeError(w, r, "create person", err)
		return
	}
	writeJSON(w, http.StatusCreated, PersonResponse{Status: "ok", Person: p})
}

// GetPerson handles GET /api/persons/{id}.
//
//	@Summary		Get a dossier: the person and its entries
//	@Tags			persons
//	@Produce		json
//	@Param			id	path		int	true	"Person id"
//	@Success		200	{object}	models.Dossier
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/persons/{id} [get]
func (h *Handler) GetPerson(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, "get person", err)
		return
	}
	d, err := h.engine.GetDossier(r.Context(), id)
	if err != nil {
		writeError(w, r, "get person", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// RenamePerson handles PATCH /api/persons/{id}.
//
//	@Summary		Rename a person and recompute its slug
//	@Tags			persons
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int					true	"Person id"
//	@Param			body	body		RenamePersonRequest	true	"New name"
//	@Success		200		{object}	PersonResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/persons/{id} [patch]
func (h *Handler) RenamePerson(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, "rename person", err)
		return
	}
	var req RenamePersonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "rename person", err)
		return
	}
	p, err := h.engine.RenamePerson(r.Context(), id, req.Name)
	if err != nil {
		writeError(w, r, "rename person", err)
		return
	}
	writeJSON(w, http.StatusOK, PersonResponse{Status: "ok", Person: p})
}

// UpdateSummary handles PATCH /api/persons/{id}/summary.
//
//	@Summary		Update the summary and its pinned starter message
//	@Tags			persons
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int				true	"Person id"
//	@Param			body	body		SummaryRequest	true	"New summary"
//	@Success		200		{object}	PersonResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/persons/{id}/summary [patch]
func (h *Handler) UpdateSummary(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, "update summary", err)
		return
	}
	var req SummaryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "update summary", err)
		return
	}
	p, err := h.engine.UpdateSummary(r.Context(), id, req.SummaryMD, models.Deref(req.UpdatedBy))
	if err != nil {
		writeError(w, r, "update summary", err)
		return
	}
	writeJSON(w, http.StatusOK, PersonResponse{Status: "ok", Person: p})
}

// AddAlias handles POST /api/persons/{id}/aliases.
//
//	@Summary		Add a lookup alias
//	@Tags			persons
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int				true	"Person id"
//	@Param			body	body		AliasRequest	true	"Alias"
//	@Success		200		{object}	AliasResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/persons/{id}/aliases [post]
func (h *Handler) AddAlias(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, "add alias", err)
		return
	}
	var req AliasRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "add alias", err)
		return
	}
	aliases, err := h.engine.AddAlias(r.Context(), id, req.Alias)
	if err != nil {
		writeError(w, r, "add alias", err)
		return
	}
	writeJSON(w, http.StatusOK, AliasResponse{Status: "ok", Aliases: aliases})
}

// AttachThread handles PUT /api/persons/{id}/thread.
//
//	@Summary		Link a person to its remote thread
//	@Tags			persons
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int				true	"Person id"
//	@Param			body	body		ThreadRequest	true	"Thread and starter message ids"
//	@Success		200		{object}	PersonResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/persons/{id}/thread [put]
func (h *Handler) AttachThread(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, "attach thread", err)
		return
	}
	var req ThreadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "attach thread", err)
		return
	}
	p, err := h.engine.AttachThread(r.Context(), id, req.ThreadID, req.StarterMessageID)
	if err != nil {
		writeError(w, r, "attach thread", err)
		return
	}
	writeJSON(w, http.StatusOK, PersonResponse{Status: "ok", Person: p})
}

// CreateEntry handles POST /api/persons/{id}/entries.
//
//	@Summary		Add an entry and post it to the thread
//	@Tags			entries
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int				true	"Person id"
//	@Param			body	body		EntryRequest	true	"Entry"
//	@Success		201		{object}	EntryResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/persons/{id}/entries [post]
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, "create entry", err)
		return
	}
	var req EntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "create entry", err)
		return
	}
	entry, err := h.engine.CreateEntry(r.Context(), id, req.Title, req.BodyMD, models.Deref(req.CreatedBy))
	if err != nil {
		writeError(w, r, "create entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, EntryResponse{Status: "ok", Entry: entry})
}

// UpdateEntry handles PATCH /api/persons/{id}/entries/{entryId}.
//
//	@Summary		Update an entry, reposting it if its message is gone
//	@Tags			entries
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int					true	"Person id"
//	@Param			entryId	path		int					true	"Entry id"
//	@Param			body	body		EntryUpdateRequest	true	"Entry"
//	@Success		200		{object}	EntryResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/persons/{id}/entries/{entryId} [patch]
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, "update entry", err)
		return
	}
	entryID, err := idParam(r, "entryId")
	if err != nil {
		writeError(w, r, "update entry", err)
		return
	}
	var req EntryUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, "update entry", err)
		return
	}
	entry, reposted, err := h.engine.UpdateEntry(r.Context(), id, entryID, req.Title, req.BodyMD, models.Deref(req.UpdatedBy))
	if err != nil {
		writeError(w, r, "update entry", err)
		return
	}
	writeJSON(w, http.StatusOK, EntryResponse{Status: "ok", Entry: entry, Reposted: &reposted})
}

// RefreshLinks handles POST /api/persons/{id}/refresh-links.
//
//	@Summary		Re-render every entry with current mention links
//	@Tags			entries
//	@Produce		json
//	@Param			id	path		int	true	"Person id"
//	@Success		200	{object}	RefreshResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/persons/{id}/refresh-links [post]
func (h *Handler) RefreshLinks(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, "refresh links", err)
		return
	}
	res, err := h.engine.RefreshLinks(r.Context(), id)
	if err != nil {
		writeError(w, r, "refresh links", err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Status: "ok", Updated: res.Updated, Reposted: res.Reposted})
}

// Lookup handles GET /api/lookup.
//
//	@Summary		Resolve a name, alias or near miss to a person
//	@Tags			persons
//	@Produce		json
//	@Param			guild_id	query		string	true	"Guild id"
//	@Param			q			query		string	true	"Name to look up"
//	@Param			channel_id	query		string	false	"Caller channel, part of the cooldown key"
//	@Success		200			{object}	LookupResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		429			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/lookup [get]
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	guildID := strings.TrimSpace(q.Get("guild_id"))
	query := strings.TrimSpace(q.Get("q"))
	if guildID == "" || query == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameters 'guild_id' and 'q' are required"))
		return
	}
	channel := q.Get("channel_id")
	if channel == "" {
		channel = r.RemoteAddr
	}
	if !h.limiter.TryConsume(guildID + ":" + channel + ":who") {
		w.Header().Set("Retry-After", strconv.Itoa(int(h.limiter.Window().Seconds())))
		writeError(w, r, "lookup", apperr.New(apperr.ErrRateLimited, "slow down: lookups are rate limited"))
		return
	}
	p, tier, err := h.engine.Lookup(r.Context(), guildID, query)
	if err != nil {
		writeError(w, r, "lookup", err)
		return
	}
	writeJSON(w, http.StatusOK, LookupResponse{Person: p, Match: string(tier)})
}

// Config handles GET /api/config.
//
//	@Summary		Guilds served and the HTTP port
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	ConfigResponse
//	@Security		BearerAuth
//	@Router			/config [get]
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	guilds, err := h.engine.Guilds(r.Context())
	if err != nil {
		writeError(w, r, "config", err)
		return
	}
	writeJSON(w, http.StatusOK, ConfigResponse{Guilds: guilds, Port: h.port})
}
