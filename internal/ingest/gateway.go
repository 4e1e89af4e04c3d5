package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/models"
)

// Applier is the part of the reconciliation engine an update drives.
type Applier interface {
	UpdateSummary(ctx context.Context, personID int64, summary, updatedBy string) (*models.Person, error)
	CreateEntry(ctx context.Context, personID int64, title, body, createdBy string) (*models.Entry, error)
}

// Result reports what an update changed.
type Result struct {
	Person *models.Person
	Entry  *models.Entry
}

// Gateway validates, authenticates and applies webhook payloads.
type Gateway struct {
	verifier *Verifier
	engine   Applier
	log      *slog.Logger
}

// NewGateway returns a Gateway. A nil logger uses slog.Default.
func NewGateway(v *Verifier, engine Applier, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{verifier: v, engine: engine, log: log}
}

// Handle processes one raw request body. Schema errors come first, then
// authentication, then the person id check, then the summary update and
// finally the entry creation.
func (g *Gateway) Handle(ctx context.Context, raw []byte) (*Result, error) {
	var p Payload
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&p); err != nil {
		return nil, apperr.Wrap(apperr.ErrValidation, "invalid payload", err)
	}
	if err := p.Validate(); err != nil {
		return nil, apperr.Validation("invalid payload: " + err.Error())
	}
	if err := g.verifier.Verify(&p, raw); err != nil {
		g.log.Warn("webhook signature rejected", slog.String("person_id", string(p.PersonID)))
		return nil, err
	}
	personID, ok := p.PersonID.Int64()
	if !ok {
		return nil, apperr.Validation("person_id must be numeric")
	}

	res := &Result{}
	if p.SummaryMD != nil {
		person, err := g.engine.UpdateSummary(ctx, personID, *p.SummaryMD, models.Deref(p.UpdatedBy))
		if err != nil {
			return nil, err
		}
		res.Person = person
	}
	if p.NewEntry != nil {
		entry, err := g.engine.CreateEntry(ctx, personID, p.NewEntry.Title, p.NewEntry.BodyMD, models.Deref(p.NewEntry.CreatedBy))
		if err != nil {
			return nil, err
		}
		res.Entry = entry
	}
	g.log.Info("webhook applied", slog.Int64("person_id", personID),
		slog.Bool("summary", res.Person != nil), slog.Bool("entry", res.Entry != nil))
	return res, nil
}
