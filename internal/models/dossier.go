// Package models defines the domain types for dossiers.
package models

import "time"

// Person is the identity a dossier is kept for, scoped to one guild.
type Person struct {
	ID               int64     `json:"id"`
	GuildID          string    `json:"guild_id"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	Aliases          []string  `json:"aliases"`
	SummaryMD        string    `json:"summary_md"`
	Tags             []string  `json:"tags"`
	ThreadID         *string   `json:"thread_id"`
	StarterMessageID *string   `json:"starter_message_id"`
	CreatedBy        *string   `json:"created_by"`
	LastUpdatedBy    *string   `json:"last_updated_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Linked reports whether the person currently claims a remote thread.
// The claim is re-validated by the engine before every remote call.
func (p *Person) Linked() bool {
	return p.ThreadID != nil && p.StarterMessageID != nil
}

// Entry is a timestamped note owned by one person.
type Entry struct {
	ID        int64     `json:"id"`
	PersonID  int64     `json:"person_id"`
	Title     string    `json:"title"`
	BodyMD    string    `json:"body_md"`
	CreatedBy *string   `json:"created_by"`
	UpdatedBy *string   `json:"updated_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	MessageID *string   `json:"message_id"`
}

// Dossier is a person together with its entries.
type Dossier struct {
	Person  *Person  `json:"person"`
	Entries []*Entry `json:"entries"`
}

// Deref returns *s or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
