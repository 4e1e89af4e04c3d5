package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/models"
)

const entryColumns = `id, person_id, title, body_md, created_by, updated_by, message_id, created_at, updated_at`

func scanEntry(row rowScanner) (*models.Entry, error) {
	var (
		e                             models.Entry
		createdBy, updatedBy, message sql.NullString
	)
	if err := row.Scan(&e.ID, &e.PersonID, &e.Title, &e.BodyMD, &createdBy, &updatedBy, &message,
		&e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.CreatedBy = nullPtr(createdBy)
	e.UpdatedBy = nullPtr(updatedBy)
	e.MessageID = nullPtr(message)
	return &e, nil
}

// AddEntry inserts a new entry for a person.
func (db *DB) AddEntry(ctx context.Context, e NewEntry) (*models.Entry, error) {
	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO entries (person_id, title, body_md, created_by, updated_by, message_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.PersonID, e.Title, e.BodyMD, nullString(e.CreatedBy), nullString(e.CreatedBy),
		nullString(e.MessageID), now, now)
	if err != nil {
		return nil, fmt.Errorf("store: insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: insert entry id: %w", err)
	}
	return db.GetEntry(ctx, id)
}

// UpdateEntry overwrites title, body and message id. COALESCE keeps the
// previous editor and message id when the update leaves them empty.
func (db *DB) UpdateEntry(ctx context.Context, u EntryUpdate) (*models.Entry, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE entries
		   SET title = ?,
		       body_md = ?,
		       updated_by = COALESCE(?, updated_by, created_by),
		       updated_at = ?,
		       message_id = COALESCE(?, message_id)
		 WHERE id = ?
	`, u.Title, u.BodyMD, nullString(u.UpdatedBy), time.Now().UTC(), nullString(u.MessageID), u.EntryID)
	if err != nil {
		return nil, fmt.Errorf("store: update entry: %w", err)
	}
	if err := expectRow(res, "entry not found"); err != nil {
		return nil, err
	}
	return db.GetEntry(ctx, u.EntryID)
}

// GetEntry returns an entry by id, or apperr.ErrNotFound.
func (db *DB) GetEntry(ctx context.Context, entryID int64) (*models.Entry, error) {
	e, err := scanEntry(db.conn.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("entry not found")
		}
		return nil, fmt.Errorf("store: get entry: %w", err)
	}
	return e, nil
}

// ListEntries returns the person's entries, oldest first.
func (db *DB) ListEntries(ctx context.Context, personID int64) ([]*models.Entry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE person_id = ? ORDER BY created_at ASC, id ASC`, personID)
	if err != nil {
		return nil, fmt.Errorf("store: list entries: %w", err)
	}
	defer rows.Close()
	out := []*models.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
