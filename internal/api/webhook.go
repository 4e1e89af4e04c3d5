package api

import (
	"io"
	"net/http"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/ingest"
)

// WebhookHandler serves POST /webhook. It authenticates with the payload's
// own credential, so it is mounted outside bearer auth.
type WebhookHandler struct {
	gateway *ingest.Gateway
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(gw *ingest.Gateway) *WebhookHandler {
	return &WebhookHandler{gateway: gw}
}

// ServeHTTP handles POST /webhook.
//
//	@Summary		Apply an authenticated summary and/or entry update
//	@Tags			webhook
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Failure		400	{object}	errResponse
//	@Failure		401	{object}	errResponse
//	@Router			/webhook [post]
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, "webhook", apperr.Wrap(apperr.ErrValidation, "failed to read body", err))
		return
	}
	if _, err := h.gateway.Handle(r.Context(), raw); err != nil {
		writeError(w, r, "webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK())
}
