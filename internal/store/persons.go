package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/slug"
)

const personColumns = `p.id, p.guild_id, p.name, p.slug, p.thread_id, p.starter_message_id,
	p.summary_md, p.tags_json, p.created_by, p.last_updated_by, p.created_at, p.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(row rowScanner) (*models.Person, error) {
	var (
		p                                         models.Person
		threadID, starterID, createdBy, updatedBy sql.NullString
		tagsJSON                                  string
	)
	if err := row.Scan(&p.ID, &p.GuildID, &p.Name, &p.Slug, &threadID, &starterID,
		&p.SummaryMD, &tagsJSON, &createdBy, &updatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ThreadID = nullPtr(threadID)
	p.StarterMessageID = nullPtr(starterID)
	p.CreatedBy = nullPtr(createdBy)
	p.LastUpdatedBy = nullPtr(updatedBy)
	if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil || p.Tags == nil {
		p.Tags = []string{}
	}
	p.Aliases = []string{}
	return &p, nil
}

func nullPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreatePerson inserts an unlinked person. The slug is derived from the name.
func (db *DB) CreatePerson(ctx context.Context, p NewPerson) (*models.Person, error) {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	now := time.Now().UTC()

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO persons (guild_id, name, name_fold, slug, summary_md, tags_json, created_by, last_updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.GuildID, p.Name, slug.Fold(p.Name), slug.Make(p.Name), p.SummaryMD, string(tagsJSON),
		nullString(p.CreatedBy), nullString(p.CreatedBy), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.New(apperr.ErrConflict, "a dossier with that name already exists")
		}
		return nil, fmt.Errorf("store: insert person: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: insert person id: %w", err)
	}
	return db.GetPerson(ctx, id)
}

// RenamePerson changes the display name and recomputes the slug.
func (db *DB) RenamePerson(ctx context.Context, personID int64, name string) (*models.Person, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE persons SET name = ?, name_fold = ?, slug = ?, updated_at = ? WHERE id = ?
	`, name, slug.Fold(name), slug.Make(name), time.Now().UTC(), personID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.New(apperr.ErrConflict, "a dossier with that name already exists")
		}
		return nil, fmt.Errorf("store: rename person: %w", err)
	}
	if err := expectRow(res, "person not found"); err != nil {
		return nil, err
	}
	return db.GetPerson(ctx, personID)
}

// GetPerson returns the person with its aliases, or apperr.ErrNotFound.
func (db *DB) GetPerson(ctx context.Context, personID int64) (*models.Person, error) {
	return db.getPerson(ctx, `SELECT `+personColumns+` FROM persons p WHERE p.id = ?`, personID)
}

// GetPersonBySlug looks a person up by exact slug.
func (db *DB) GetPersonBySlug(ctx context.Context, guildID, s string) (*models.Person, error) {
	return db.getPerson(ctx, `SELECT `+personColumns+` FROM persons p WHERE p.guild_id = ? AND p.slug = ?`, guildID, s)
}

// GetPersonByName looks a person up by display name under slug.Fold.
func (db *DB) GetPersonByName(ctx context.Context, guildID, name string) (*models.Person, error) {
	return db.getPerson(ctx, `SELECT `+personColumns+` FROM persons p WHERE p.guild_id = ? AND p.name_fold = ?`, guildID, slug.Fold(name))
}

// GetPersonByAlias looks a person up by alias under slug.Fold.
func (db *DB) GetPersonByAlias(ctx context.Context, guildID, alias string) (*models.Person, error) {
	return db.getPerson(ctx, `
		SELECT `+personColumns+` FROM persons p
		JOIN aliases a ON a.person_id = p.id
		WHERE p.guild_id = ? AND a.alias_fold = ?
		ORDER BY p.id LIMIT 1
	`, guildID, slug.Fold(alias))
}

func (db *DB) getPerson(ctx context.Context, query string, args ...any) (*models.Person, error) {
	p, err := scanPerson(db.conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("person not found")
		}
		return nil, fmt.Errorf("store: get person: %w", err)
	}
	aliases, err := db.listAliases(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Aliases = aliases
	return p, nil
}

// ListPersons returns every person in the guild ordered by name, case-insensitively.
func (db *DB) ListPersons(ctx context.Context, guildID string) ([]*models.Person, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+personColumns+` FROM persons p
		WHERE p.guild_id = ?
		ORDER BY p.name_fold, p.id
	`, guildID)
	if err != nil {
		return nil, fmt.Errorf("store: list persons: %w", err)
	}
	defer rows.Close()

	out := []*models.Person{}
	byID := make(map[int64]*models.Person)
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan person: %w", err)
		}
		out = append(out, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	aliasRows, err := db.conn.QueryContext(ctx, `
		SELECT a.person_id, a.alias_text FROM aliases a
		JOIN persons p ON p.id = a.person_id
		WHERE p.guild_id = ?
		ORDER BY a.alias_fold
	`, guildID)
	if err != nil {
		return nil, fmt.Errorf("store: list guild aliases: %w", err)
	}
	defer aliasRows.Close()
	for aliasRows.Next() {
		var (
			personID int64
			text     string
		)
		if err := aliasRows.Scan(&personID, &text); err != nil {
			return nil, err
		}
		if p, ok := byID[personID]; ok {
			p.Aliases = append(p.Aliases, text)
		}
	}
	return out, aliasRows.Err()
}

// ListGuildIDs returns every guild that has at least one person.
func (db *DB) ListGuildIDs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT DISTINCT guild_id FROM persons ORDER BY guild_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list guilds: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// AttachThread links an unlinked person to a thread. Re-attaching the same
// thread only replaces the starter message id; attaching a different thread
// while linked is a conflict.
func (db *DB) AttachThread(ctx context.Context, personID int64, threadID, starterID string) (*models.Person, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE persons
		   SET thread_id = ?, starter_message_id = ?, updated_at = ?
		 WHERE id = ? AND (thread_id IS NULL OR thread_id = ?)
	`, threadID, starterID, time.Now().UTC(), personID, threadID)
	if err != nil {
		return nil, fmt.Errorf("store: attach thread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: attach thread rows: %w", err)
	}
	if n == 0 {
		if _, err := db.GetPerson(ctx, personID); err != nil {
			return nil, err
		}
		return nil, apperr.New(apperr.ErrConflict, "person is linked to another thread")
	}
	return db.GetPerson(ctx, personID)
}

// SetStarterMessage records a new starter message for the given thread. It is
// a no-op when the person is no longer linked to threadID.
func (db *DB) SetStarterMessage(ctx context.Context, personID int64, threadID, starterID string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE persons SET starter_message_id = ?, updated_at = ?
		 WHERE id = ? AND thread_id = ?
	`, starterID, time.Now().UTC(), personID, threadID)
	if err != nil {
		return fmt.Errorf("store: set starter message: %w", err)
	}
	return nil
}

// ClearThread unlinks the person from its thread.
func (db *DB) ClearThread(ctx context.Context, personID int64) (*models.Person, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE persons
		   SET thread_id = NULL, starter_message_id = NULL, updated_at = ?
		 WHERE id = ?
	`, time.Now().UTC(), personID)
	if err != nil {
		return nil, fmt.Errorf("store: clear thread: %w", err)
	}
	if err := expectRow(res, "person not found"); err != nil {
		return nil, err
	}
	return db.GetPerson(ctx, personID)
}

// UpdateSummary stores a new summary and editor.
func (db *DB) UpdateSummary(ctx context.Context, personID int64, summary, updatedBy string) (*models.Person, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE persons
		   SET summary_md = ?, updated_at = ?, last_updated_by = ?
		 WHERE id = ?
	`, summary, time.Now().UTC(), nullString(updatedBy), personID)
	if err != nil {
		return nil, fmt.Errorf("store: update summary: %w", err)
	}
	if err := expectRow(res, "person not found"); err != nil {
		return nil, err
	}
	return db.GetPerson(ctx, personID)
}

// AddAlias adds alias to the person, ignoring duplicates under slug.Fold,
// and returns the person's aliases.
func (db *DB) AddAlias(ctx context.Context, personID int64, alias string) ([]string, error) {
	if _, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO aliases (person_id, alias_text, alias_fold) VALUES (?, ?, ?)`,
		personID, alias, slug.Fold(alias)); err != nil {
		return nil, fmt.Errorf("store: add alias: %w", err)
	}
	return db.listAliases(ctx, personID)
}

func (db *DB) listAliases(ctx context.Context, personID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT alias_text FROM aliases WHERE person_id = ? ORDER BY alias_fold`, personID)
	if err != nil {
		return nil, fmt.Errorf("store: list aliases: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func expectRow(res sql.Result, notFound string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound(notFound)
	}
	return nil
}
