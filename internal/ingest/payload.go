// Package ingest authenticates externally submitted dossier updates and
// applies them through the reconciliation engine.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// UpdateType is the only accepted payload type.
const UpdateType = "poi.update"

// PersonID accepts a JSON number or string and keeps its textual form.
type PersonID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *PersonID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = PersonID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("person_id must be a number or string")
	}
	*id = PersonID(n.String())
	return nil
}

// Int64 parses the id.
func (id PersonID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(id)), 10, 64)
	return n, err == nil
}

// NewEntry is the optional entry carried by an update.
type NewEntry struct {
	Title     string  `json:"title"`
	BodyMD    string  `json:"body_md"`
	CreatedBy *string `json:"created_by,omitempty"`
}

// Validate implements validation.Validatable.
func (e NewEntry) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Title, validation.Required, validation.RuneLength(1, 200)),
		validation.Field(&e.BodyMD, validation.Required),
	)
}

// Payload is the webhook body.
type Payload struct {
	Secret    string    `json:"secret"`
	Type      string    `json:"type"`
	PersonID  PersonID  `json:"person_id"`
	SummaryMD *string   `json:"summary_md,omitempty"`
	UpdatedBy *string   `json:"updated_by,omitempty"`
	NewEntry  *NewEntry `json:"new_entry,omitempty"`
}

// Validate implements validation.Validatable.
func (p Payload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Secret, validation.Required),
		validation.Field(&p.Type, validation.Required, validation.In(UpdateType)),
		validation.Field(&p.PersonID, validation.Required),
		validation.Field(&p.SummaryMD, validation.RuneLength(0, 600)),
		validation.Field(&p.NewEntry),
	)
}

type canonicalEntry struct {
	Title     string  `json:"title"`
	BodyMD    string  `json:"body_md"`
	CreatedBy *string `json:"created_by"`
}

type canonicalPayload struct {
	Type      string          `json:"type"`
	PersonID  string          `json:"person_id"`
	SummaryMD *string         `json:"summary_md"`
	UpdatedBy *string         `json:"updated_by"`
	NewEntry  *canonicalEntry `json:"new_entry"`
}

// Canonical returns the signed form of p: its semantic fields in fixed order,
// absent optionals as explicit nulls, person_id as a string, and no secret.
func Canonical(p *Payload) ([]byte, error) {
	c := canonicalPayload{
		Type:      p.Type,
		PersonID:  string(p.PersonID),
		SummaryMD: p.SummaryMD,
		UpdatedBy: p.UpdatedBy,
	}
	if p.NewEntry != nil {
		c.NewEntry = &canonicalEntry{
			Title:     p.NewEntry.Title,
			BodyMD:    p.NewEntry.BodyMD,
			CreatedBy: p.NewEntry.CreatedBy,
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
