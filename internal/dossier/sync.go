package dossier

import (
	"context"
	"errors"
	"log/slog"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/linker"
	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/remote"
	"github.com/starford/dossier/internal/sse"
	"github.com/starford/dossier/internal/store"
)

var errThreadMissing = apperr.New(apperr.ErrThreadConflict, "dossier thread missing; re-link the thread and retry")

// ResolveThread loads the person and validates its stored thread against the
// remote side. A thread that no longer resolves is unlinked locally and the
// call fails with apperr.ErrThreadConflict.
func (e *Engine) ResolveThread(ctx context.Context, personID int64) (*models.Person, *remote.Thread, error) {
	p, err := e.person(ctx, personID)
	if err != nil {
		return nil, nil, err
	}
	if p.ThreadID == nil {
		return p, nil, errThreadMissing
	}
	threadID := *p.ThreadID
	th, err := e.gw.FetchThread(ctx, threadID)
	if err != nil {
		e.log.Warn("dossier thread unresolved, unlinking",
			slog.Int64("person_id", p.ID), slog.String("thread_id", threadID), slog.Any("error", err))
		e.forgetLive(threadID)
		cleared, cerr := e.db.ClearThread(ctx, p.ID)
		if cerr != nil {
			return nil, nil, apperr.Wrap(apperr.ErrSyncFailure, "failed to unlink missing thread", cerr)
		}
		e.publish(sse.KindPersonUpdated, cleared, 0, 0)
		return cleared, nil, errThreadMissing
	}
	e.markLive(threadID)
	return p, th, nil
}

func placeholder(p *models.Person) string {
	return "**" + p.Name + "** — (summary pending)"
}

// ensureStarter returns the live starter message for the thread, recreating
// and pinning it when neither the stored id nor the platform knows one.
func (e *Engine) ensureStarter(ctx context.Context, p *models.Person, th *remote.Thread) (*remote.Message, error) {
	if p.StarterMessageID != nil {
		if msg, err := e.gw.FetchMessage(ctx, th, *p.StarterMessageID); err == nil {
			return msg, nil
		}
	}

	if msg, err := e.gw.FetchStarterMessage(ctx, th); err == nil {
		if msg.ID != models.Deref(p.StarterMessageID) {
			if err := e.db.SetStarterMessage(ctx, p.ID, th.ID, msg.ID); err != nil {
				return nil, apperr.Wrap(apperr.ErrSyncFailure, "failed to store starter message", err)
			}
			p.StarterMessageID = &msg.ID
		}
		return msg, nil
	}

	content := p.SummaryMD
	if content == "" {
		content = placeholder(p)
	}
	msg, err := e.gw.SendMessage(ctx, th, content)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrSyncFailure, "failed to recreate starter message", err)
	}
	e.pin(ctx, msg)
	if err := e.db.SetStarterMessage(ctx, p.ID, th.ID, msg.ID); err != nil {
		return nil, apperr.Wrap(apperr.ErrSyncFailure, "failed to store starter message", err)
	}
	p.StarterMessageID = &msg.ID
	e.log.Info("starter message recreated", slog.Int64("person_id", p.ID), slog.String("message_id", msg.ID))
	return msg, nil
}

func (e *Engine) pin(ctx context.Context, msg *remote.Message) {
	if err := e.gw.PinMessage(ctx, msg); err != nil {
		e.log.Warn("pin failed", slog.String("message_id", msg.ID), slog.Any("error", err))
	}
}

// UpdateSummary edits the pinned starter message and stores the new summary.
func (e *Engine) UpdateSummary(ctx context.Context, personID int64, summary, updatedBy string) (*models.Person, error) {
	summary, err := text("summary_md", summary, maxSummary)
	if err != nil {
		return nil, err
	}
	p, th, err := e.ResolveThread(ctx, personID)
	if err != nil {
		return nil, err
	}
	starter, err := e.ensureStarter(ctx, p, th)
	if err != nil {
		return nil, err
	}
	msg, err := e.gw.EditMessage(ctx, th, starter.ID, summary)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrSyncFailure, "failed to update starter message", err)
	}
	e.pin(ctx, msg)

	updated, err := e.db.UpdateSummary(ctx, p.ID, summary, updatedBy)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrSyncFailure, "failed to store summary", err)
	}
	e.publish(sse.KindPersonUpdated, updated, 0, 0)
	return updated, nil
}

func entryContent(title, linkedBody string) string {
	return "**" + title + "**\n\n" + linkedBody
}

// CreateEntry posts a new entry message and stores the entry with its id.
// If the local write fails the posted message is deleted again.
func (e *Engine) CreateEntry(ctx context.Context, personID int64, title, body, createdBy string) (*models.Entry, error) {
	title, err := text("title", title, maxTitle)
	if err != nil {
		return nil, err
	}
	body, err = text("body_md", body, 0)
	if err != nil {
		return nil, err
	}
	p, th, err := e.ResolveThread(ctx, personID)
	if err != nil {
		return nil, err
	}
	idx, err := e.MentionIndex(ctx, p.GuildID)
	if err != nil {
		return nil, err
	}

	msg, err := e.gw.SendMessage(ctx, th, entryContent(title, idx.Link(body)))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrSyncFailure, "failed to post entry", err)
	}
	entry, err := e.db.AddEntry(ctx, store.NewEntry{
		PersonID:  p.ID,
		Title:     title,
		BodyMD:    body,
		CreatedBy: createdBy,
		MessageID: msg.ID,
	})
	if err != nil {
		e.compensate(ctx, th, msg.ID)
		return nil, apperr.Wrap(apperr.ErrSyncFailure, "failed to store entry", err)
	}
	e.publish(sse.KindEntryCreated, p, entry.ID, 0)
	return entry, nil
}

func (e *Engine) compensate(ctx context.Context, th *remote.Thread, messageID string) {
	if err := e.gw.DeleteMessage(ctx, th, messageID); err != nil {
		e.log.Warn("compensating delete failed, remote message orphaned",
			slog.String("thread_id", th.ID), slog.String("message_id", messageID), slog.Any("error", err))
	}
}

// UpdateEntry rewrites an entry. When its remote message is gone the content
// is posted as a new message and reposted is true.
func (e *Engine) UpdateEntry(ctx context.Context, personID, entryID int64, title, body, updatedBy string) (*models.Entry, bool, error) {
	title, err := text("title", title, maxTitle)
	if err != nil {
		return nil, false, err
	}
	body, err = text("body_md", body, 0)
	if err != nil {
		return nil, false, err
	}
	existing, err := e.entryOf(ctx, personID, entryID)
	if err != nil {
		return nil, false, err
	}
	p, th, err := e.ResolveThread(ctx, personID)
	if err != nil {
		return nil, false, err
	}
	idx, err := e.MentionIndex(ctx, p.GuildID)
	if err != nil {
		return nil, false, err
	}
	entry, reposted, err := e.syncEntry(ctx, th, idx, existing, title, body, updatedBy)
	if err != nil {
		return nil, false, err
	}
	e.publish(sse.KindEntryUpdated, p, entry.ID, boolInt(reposted))
	return entry, reposted, nil
}

func (e *Engine) entryOf(ctx context.Context, personID, entryID int64) (*models.Entry, error) {
	entry, err := e.db.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.PersonID != personID {
		return nil, apperr.NotFound("entry not found")
	}
	return entry, nil
}

// syncEntry edits the entry's message in place or reposts it, then persists.
func (e *Engine) syncEntry(ctx context.Context, th *remote.Thread, idx *linker.Index, existing *models.Entry, title, body, editor string) (*models.Entry, bool, error) {
	content := entryContent(title, idx.Link(body))

	var messageID string
	if existing.MessageID != nil {
		if _, err := e.gw.FetchMessage(ctx, th, *existing.MessageID); err == nil {
			msg, err := e.gw.EditMessage(ctx, th, *existing.MessageID, content)
			switch {
			case err == nil:
				messageID = msg.ID
			case !errors.Is(err, remote.ErrUnresolved):
				return nil, false, apperr.Wrap(apperr.ErrSyncFailure, "failed to edit entry message", err)
			}
		}
	}

	reposted := false
	if messageID == "" {
		msg, err := e.gw.SendMessage(ctx, th, content)
		if err != nil {
			return nil, false, apperr.Wrap(apperr.ErrSyncFailure, "failed to repost entry", err)
		}
		messageID, reposted = msg.ID, true
		e.log.Info("entry message reposted",
			slog.Int64("entry_id", existing.ID), slog.String("message_id", messageID))
	}

	entry, err := e.db.UpdateEntry(ctx, store.EntryUpdate{
		EntryID:   existing.ID,
		Title:     title,
		BodyMD:    body,
		UpdatedBy: editor,
		MessageID: messageID,
	})
	if err != nil {
		if reposted {
			e.compensate(ctx, th, messageID)
		}
		return nil, false, apperr.Wrap(apperr.ErrSyncFailure, "failed to store entry", err)
	}
	return entry, reposted, nil
}

// RefreshResult counts the entries touched by RefreshLinks.
type RefreshResult struct {
	Updated  int `json:"updated"`
	Reposted int `json:"reposted"`
}

// RefreshLinks re-renders every entry of the person with the current mention
// index. With no remote tampering a second run reposts nothing.
func (e *Engine) RefreshLinks(ctx context.Context, personID int64) (RefreshResult, error) {
	var res RefreshResult
	p, th, err := e.ResolveThread(ctx, personID)
	if err != nil {
		return res, err
	}
	entries, err := e.db.ListEntries(ctx, p.ID)
	if err != nil {
		return res, err
	}
	idx, err := e.MentionIndex(ctx, p.GuildID)
	if err != nil {
		return res, err
	}
	for _, entry := range entries {
		editor := entry.UpdatedBy
		if editor == nil {
			editor = entry.CreatedBy
		}
		_, reposted, err := e.syncEntry(ctx, th, idx, entry, entry.Title, entry.BodyMD, models.Deref(editor))
		if err != nil {
			return res, err
		}
		res.Updated++
		if reposted {
			res.Reposted++
		}
	}
	e.publish(sse.KindLinksRefreshed, p, 0, res.Reposted)
	return res, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
