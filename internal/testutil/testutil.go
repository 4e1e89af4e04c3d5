// Package testutil provides shared test helpers for setting up databases and
// linked dossiers.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/remote"
	"github.com/starford/dossier/internal/store"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "dossier-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(context.Background(), dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Person creates an unlinked person with optional aliases.
func Person(t *testing.T, db *store.DB, guildID, name string, aliases ...string) *models.Person {
	t.Helper()
	ctx := context.Background()
	p, err := db.CreatePerson(ctx, store.NewPerson{GuildID: guildID, Name: name})
	if err != nil {
		t.Fatalf("create person %q: %v", name, err)
	}
	for _, a := range aliases {
		if p.Aliases, err = db.AddAlias(ctx, p.ID, a); err != nil {
			t.Fatalf("add alias %q: %v", a, err)
		}
	}
	return p
}

// LinkedPerson creates a person and a thread for it on gw, then attaches the
// thread locally.
func LinkedPerson(t *testing.T, db *store.DB, gw *remote.Memory, guildID, name string, aliases ...string) *models.Person {
	t.Helper()
	p := Person(t, db, guildID, name, aliases...)
	threadID, starterID := gw.CreateThread(guildID, "**"+name+"**")
	linked, err := db.AttachThread(context.Background(), p.ID, threadID, starterID)
	if err != nil {
		t.Fatalf("attach thread for %q: %v", name, err)
	}
	return linked
}
