package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dossier/internal/models"
)

// CreatePersonRequest is the request body for creating a person.
type CreatePersonRequest struct {
	GuildID   string   `json:"guild_id" example:"123456789012345678" validate:"required"`
	Name      string   `json:"name" example:"Elena Ruiz" validate:"required"`
	SummaryMD string   `json:"summary_md" example:"Runs the night market."`
	Tags      []string `json:"tags"`
	CreatedBy *string  `json:"created_by"`
}

// Validate implements validation.Validatable.
func (r *CreatePersonRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.GuildID, validation.Required),
		validation.Field(&r.Name, validation.Required, validation.RuneLength(1, 100)),
		validation.Field(&r.SummaryMD, validation.RuneLength(0, 600)),
	)
}

// RenamePersonRequest is the request body for renaming a person.
type RenamePersonRequest struct {
	Name string `json:"name" example:"Elena Ruiz-Vega" validate:"required"`
}

// Validate implements validation.Validatable.
func (r *RenamePersonRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required, validation.RuneLength(1, 100)),
	)
}

// SummaryRequest is the request body for a summary update.
type SummaryRequest struct {
	SummaryMD string  `json:"summary_md" example:"Runs the night market." validate:"required"`
	UpdatedBy *string `json:"updated_by"`
}

// Validate implements validation.Validatable.
func (r *SummaryRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.SummaryMD, validation.Required, validation.RuneLength(1, 600)),
	)
}

// EntryRequest is the request body for creating an entry.
type EntryRequest struct {
	Title     string  `json:"title" example:"Sighting" validate:"required"`
	BodyMD    string  `json:"body_md" example:"Seen at the docks with Marcus." validate:"required"`
	CreatedBy *string `json:"created_by"`
}

// Validate implements validation.Validatable.
func (r *EntryRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Required, validation.RuneLength(1, 200)),
		validation.Field(&r.BodyMD, validation.Required),
	)
}

// EntryUpdateRequest is the request body for updating an entry.
type EntryUpdateRequest struct {
	Title     string  `json:"title" example:"Sighting" validate:"required"`
	BodyMD    string  `json:"body_md" example:"Seen at the docks." validate:"required"`
	UpdatedBy *string `json:"updated_by"`
}

// Validate implements validation.Validatable.
func (r *EntryUpdateRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Required, validation.RuneLength(1, 200)),
		validation.Field(&r.BodyMD, validation.Required),
	)
}

// AliasRequest is the request body for adding an alias.
type AliasRequest struct {
	Alias string `json:"alias" example:"The Fixer" validate:"required"`
}

// Validate implements validation.Validatable.
func (r *AliasRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Alias, validation.Required, validation.RuneLength(1, 100)),
	)
}

// ThreadRequest is the request body for attaching a thread.
type ThreadRequest struct {
	ThreadID         string `json:"thread_id" example:"1200000000000000001" validate:"required"`
	StarterMessageID string `json:"starter_message_id" example:"1200000000000000001" validate:"required"`
}

// Validate implements validation.Validatable.
func (r *ThreadRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ThreadID, validation.Required),
		validation.Field(&r.StarterMessageID, validation.Required),
	)
}

// PersonListResponse wraps a guild's persons.
type PersonListResponse struct {
	Persons []*models.Person `json:"persons" validate:"required"`
}

// PersonResponse wraps a person after a write.
type PersonResponse struct {
	Status string         `json:"status" example:"ok"`
	Person *models.Person `json:"person"`
}

// EntryResponse wraps an entry after a write.
type EntryResponse struct {
	Status   string        `json:"status" example:"ok"`
	Entry    *models.Entry `json:"entry"`
	Reposted *bool         `json:"reposted,omitempty"`
}

// RefreshResponse reports a bulk link refresh.
type RefreshResponse struct {
	Status   string `json:"status" example:"ok"`
	Updated  int    `json:"updated" example:"3"`
	Reposted int    `json:"reposted" example:"0"`
}

// AliasResponse lists a person's aliases after an add.
type AliasResponse struct {
	Status  string   `json:"status" example:"ok"`
	Aliases []string `json:"aliases"`
}

// LookupResponse is the result of a name lookup.
type LookupResponse struct {
	Person *models.Person `json:"person"`
	Match  string         `json:"match" example:"alias"`
}

// ConfigResponse describes the server to dashboard clients.
type ConfigResponse struct {
	Guilds []string `json:"guilds"`
	Port   int      `json:"port" example:"8080"`
}

// StatusResponse is the plain acknowledgement body.
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

func statusOK() StatusResponse { return StatusResponse{Status: "ok"} }
