package store

import (
	"context"

	"github.com/starford/dossier/internal/models"
)

// NewPerson is the input for CreatePerson.
type NewPerson struct {
	GuildID   string
	Name      string
	SummaryMD string
	Tags      []string
	CreatedBy string
}

// NewEntry is the input for AddEntry.
type NewEntry struct {
	PersonID  int64
	Title     string
	BodyMD    string
	CreatedBy string
	MessageID string
}

// EntryUpdate is the input for UpdateEntry. Empty UpdatedBy keeps the
// previous editor; empty MessageID keeps the previous message id.
type EntryUpdate struct {
	EntryID   int64
	Title     string
	BodyMD    string
	UpdatedBy string
	MessageID string
}

// Dossiers defines the local store operations the dossier engine relies on.
// Consumers should depend on this interface rather than the concrete *DB type.
type Dossiers interface {
	CreatePerson(ctx context.Context, p NewPerson) (*models.Person, error)
	RenamePerson(ctx context.Context, personID int64, name string) (*models.Person, error)
	GetPerson(ctx context.Context, personID int64) (*models.Person, error)
	GetPersonBySlug(ctx context.Context, guildID, slug string) (*models.Person, error)
	GetPersonByName(ctx context.Context, guildID, name string) (*models.Person, error)
	GetPersonByAlias(ctx context.Context, guildID, alias string) (*models.Person, error)
	ListPersons(ctx context.Context, guildID string) ([]*models.Person, error)
	ListGuildIDs(ctx context.Context) ([]string, error)
	AttachThread(ctx context.Context, personID int64, threadID, starterID string) (*models.Person, error)
	SetStarterMessage(ctx context.Context, personID int64, threadID, starterID string) error
	ClearThread(ctx context.Context, personID int64) (*models.Person, error)
	UpdateSummary(ctx context.Context, personID int64, summary, updatedBy string) (*models.Person, error)
	AddAlias(ctx context.Context, personID int64, alias string) ([]string, error)
	AddEntry(ctx context.Context, e NewEntry) (*models.Entry, error)
	UpdateEntry(ctx context.Context, u EntryUpdate) (*models.Entry, error)
	GetEntry(ctx context.Context, entryID int64) (*models.Entry, error)
	ListEntries(ctx context.Context, personID int64) ([]*models.Entry, error)
}

// Verify *DB satisfies Dossiers at compile time.
var _ Dossiers = (*DB)(nil)
