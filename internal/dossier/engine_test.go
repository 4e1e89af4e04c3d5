package dossier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/remote"
	"github.com/starford/dossier/internal/sse"
	"github.com/starford/dossier/internal/store"
	"github.com/starford/dossier/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []sse.DossierEvent
}

func (r *recorder) PublishDossierEvent(ev sse.DossierEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// failingStore injects local write failures after remote calls succeed.
type failingStore struct {
	store.Dossiers
	addEntryErr    error
	updateEntryErr error
}

func (f *failingStore) AddEntry(ctx context.Context, e store.NewEntry) (*models.Entry, error) {
	if f.addEntryErr != nil {
		return nil, f.addEntryErr
	}
	return f.Dossiers.AddEntry(ctx, e)
}

func (f *failingStore) UpdateEntry(ctx context.Context, u store.EntryUpdate) (*models.Entry, error) {
	if f.updateEntryErr != nil {
		return nil, f.updateEntryErr
	}
	return f.Dossiers.UpdateEntry(ctx, u)
}

type fixture struct {
	db  *store.DB
	gw  *remote.Memory
	eng *Engine
	rec *recorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{db: testutil.TestDB(t), gw: remote.NewMemory(), rec: &recorder{}}
	opts = append([]Option{WithPublisher(f.rec)}, opts...)
	f.eng = New(f.db, f.gw, opts...)
	return f
}

func TestUpdateSummaryEditsPinnedStarter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")

	updated, err := f.eng.UpdateSummary(ctx, p.ID, "  Runs the night market.  ", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Runs the night market.", updated.SummaryMD)
	assert.Equal(t, "u1", models.Deref(updated.LastUpdatedBy))

	msg, ok := f.gw.Message(*p.ThreadID, *p.StarterMessageID)
	require.True(t, ok)
	assert.Equal(t, "Runs the night market.", msg.Content)
	assert.True(t, msg.Pinned)
	assert.Equal(t, []string{sse.KindPersonUpdated}, f.rec.kinds())
}

func TestUpdateSummaryRecreatesMissingStarter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")
	f.gw.RemoveMessage(*p.ThreadID, *p.StarterMessageID)

	updated, err := f.eng.UpdateSummary(ctx, p.ID, "fresh", "")
	require.NoError(t, err)
	require.NotNil(t, updated.StarterMessageID)
	assert.NotEqual(t, *p.StarterMessageID, *updated.StarterMessageID)

	msg, ok := f.gw.Message(*p.ThreadID, *updated.StarterMessageID)
	require.True(t, ok)
	assert.Equal(t, "fresh", msg.Content)
	assert.True(t, msg.Pinned)
	assert.Equal(t, 1, f.gw.MessageCount(*p.ThreadID))
}

func TestUpdateSummaryAdoptsPlatformStarter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.Person(t, f.db, "g1", "Elena Ruiz")
	threadID, starterID := f.gw.CreateThread("g1", "**Elena Ruiz**")
	_, err := f.db.AttachThread(ctx, p.ID, threadID, "stale-starter")
	require.NoError(t, err)

	updated, err := f.eng.UpdateSummary(ctx, p.ID, "Runs the night market.", "")
	require.NoError(t, err)
	require.NotNil(t, updated.StarterMessageID)
	assert.Equal(t, starterID, *updated.StarterMessageID)

	stored, err := f.db.GetPerson(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, starterID, models.Deref(stored.StarterMessageID))

	msg, ok := f.gw.Message(threadID, starterID)
	require.True(t, ok)
	assert.Equal(t, "Runs the night market.", msg.Content)
	assert.True(t, msg.Pinned)
	assert.Equal(t, 1, f.gw.MessageCount(threadID))
}

func TestUpdateSummaryPinFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")
	f.gw.FailNext("pin", errors.New("missing permissions"))

	_, err := f.eng.UpdateSummary(context.Background(), p.ID, "ok", "")
	assert.NoError(t, err)
}

func TestUpdateSummaryValidatesBeforeRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")

	_, err := f.eng.UpdateSummary(ctx, p.ID, "   ", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.eng.UpdateSummary(ctx, p.ID, strings.Repeat("é", maxSummary+1), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.eng.UpdateSummary(ctx, p.ID, strings.Repeat("é", maxSummary), "")
	assert.NoError(t, err)

	_, err = f.eng.UpdateSummary(ctx, 9999, "x", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUnlinkedPersonIsThreadConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.Person(t, f.db, "g1", "Elena Ruiz")

	_, err := f.eng.UpdateSummary(ctx, p.ID, "x", "")
	assert.ErrorIs(t, err, apperr.ErrThreadConflict)
	_, err = f.eng.CreateEntry(ctx, p.ID, "t", "b", "")
	assert.ErrorIs(t, err, apperr.ErrThreadConflict)
	_, err = f.eng.RefreshLinks(ctx, p.ID)
	assert.ErrorIs(t, err, apperr.ErrThreadConflict)
}

func TestDriftRepairAndRelink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")
	f.gw.DeleteThread(*p.ThreadID)

	_, err := f.eng.CreateEntry(ctx, p.ID, "Sighting", "Seen at the docks.", "")
	require.ErrorIs(t, err, apperr.ErrThreadConflict)

	stored, err := f.db.GetPerson(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ThreadID)
	assert.Nil(t, stored.StarterMessageID)

	threadID, starterID := f.gw.CreateThread("g1", "**Elena Ruiz**")
	_, err = f.eng.AttachThread(ctx, p.ID, threadID, starterID)
	require.NoError(t, err)

	entry, err := f.eng.CreateEntry(ctx, p.ID, "Sighting", "Seen at the docks.", "")
	require.NoError(t, err)
	require.NotNil(t, entry.MessageID)
	_, ok := f.gw.Message(threadID, *entry.MessageID)
	assert.True(t, ok)
}

func TestCreateEntryLinksMentions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")
	marcus := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Marcus", "The Fixer")

	entry, err := f.eng.CreateEntry(ctx, p.ID, " Deal ", "Met the fixer. `Marcus` stayed quiet.", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Deal", entry.Title)
	assert.Equal(t, "Met the fixer. `Marcus` stayed quiet.", entry.BodyMD)

	msg, ok := f.gw.Message(*p.ThreadID, *entry.MessageID)
	require.True(t, ok)
	want := "**Deal**\n\nMet [the fixer](https://discord.com/channels/g1/" + *marcus.ThreadID + "). `Marcus` stayed quiet."
	assert.Equal(t, want, msg.Content)
	assert.Equal(t, []string{sse.KindEntryCreated}, f.rec.kinds())
}

func TestMentionIndexSkipsUnresolvablePersons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")
	testutil.Person(t, f.db, "g1", "Nadia")
	gone := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Oskar")
	f.gw.DeleteThread(*gone.ThreadID)

	body := "Nadia and Oskar were there."
	entry, err := f.eng.CreateEntry(ctx, p.ID, "Meeting", body, "")
	require.NoError(t, err)
	msg, ok := f.gw.Message(*p.ThreadID, *entry.MessageID)
	require.True(t, ok)
	assert.Equal(t, "**Meeting**\n\n"+body, msg.Content)
}

func TestCreateEntryCompensatesOnLocalFailure(t *testing.T) {
	db := testutil.TestDB(t)
	gw := remote.NewMemory()
	eng := New(&failingStore{Dossiers: db, addEntryErr: errors.New("disk full")}, gw)
	p := testutil.LinkedPerson(t, db, gw, "g1", "Elena Ruiz")

	_, err := eng.CreateEntry(context.Background(), p.ID, "t", "b", "")
	require.ErrorIs(t, err, apperr.ErrSyncFailure)
	assert.Equal(t, "failed to store entry", apperr.Message(err))
	assert.Equal(t, 1, gw.MessageCount(*p.ThreadID), "only the starter message remains")
}

func TestCreateEntrySendFailure(t *testing.T) {
	f := newFixture(t)
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")
	f.gw.FailNext("send", errors.New("503"))

	_, err := f.eng.CreateEntry(context.Background(), p.ID, "t", "b", "")
	require.ErrorIs(t, err, apperr.ErrSyncFailure)
	entries, err := f.db.ListEntries(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpdateEntryInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")
	entry, err := f.eng.CreateEntry(ctx, p.ID, "t", "b", "u1")
	require.NoError(t, err)

	updated, reposted, err := f.eng.UpdateEntry(ctx, p.ID, entry.ID, "t2", "b2", "u2")
	require.NoError(t, err)
	assert.False(t, reposted)
	assert.Equal(t, *entry.MessageID, *updated.MessageID)
	assert.Equal(t, "u2", models.Deref(updated.UpdatedBy))

	msg, _ := f.gw.Message(*p.ThreadID, *entry.MessageID)
	assert.Equal(t, "**t2**\n\nb2", msg.Content)
}

func TestUpdateEntryRepostsDeletedMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")
	entry, err := f.eng.CreateEntry(ctx, p.ID, "t", "b", "")
	require.NoError(t, err)
	f.gw.RemoveMessage(*p.ThreadID, *entry.MessageID)

	updated, reposted, err := f.eng.UpdateEntry(ctx, p.ID, entry.ID, "t", "b again", "")
	require.NoError(t, err)
	assert.True(t, reposted)
	require.NotNil(t, updated.MessageID)
	assert.NotEqual(t, *entry.MessageID, *updated.MessageID)

	msg, ok := f.gw.Message(*p.ThreadID, *updated.MessageID)
	require.True(t, ok)
	assert.Equal(t, "**t**\n\nb again", msg.Content)
}

func TestUpdateEntryRepostsWhenEditReportsUnresolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")
	entry, err := f.eng.CreateEntry(ctx, p.ID, "t", "b", "")
	require.NoError(t, err)
	f.gw.FailNext("edit", remote.ErrUnresolved)

	updated, reposted, err := f.eng.UpdateEntry(ctx, p.ID, entry.ID, "t", "b", "")
	require.NoError(t, err)
	assert.True(t, reposted)
	assert.NotEqual(t, *entry.MessageID, *updated.MessageID)
}

func TestUpdateEntryRepostCompensatesOnLocalFailure(t *testing.T) {
	db := testutil.TestDB(t)
	gw := remote.NewMemory()
	fs := &failingStore{Dossiers: db}
	eng := New(fs, gw)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, db, gw, "g1", "Elena Ruiz")
	entry, err := eng.CreateEntry(ctx, p.ID, "t", "b", "")
	require.NoError(t, err)
	gw.RemoveMessage(*p.ThreadID, *entry.MessageID)

	fs.updateEntryErr = errors.New("locked")
	_, _, err = eng.UpdateEntry(ctx, p.ID, entry.ID, "t", "b", "")
	require.ErrorIs(t, err, apperr.ErrSyncFailure)
	assert.Equal(t, 1, gw.MessageCount(*p.ThreadID))
}

func TestUpdateEntryOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")
	other := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Marcus")
	entry, err := f.eng.CreateEntry(ctx, p.ID, "t", "b", "")
	require.NoError(t, err)

	_, _, err = f.eng.UpdateEntry(ctx, other.ID, entry.ID, "t", "b", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, _, err = f.eng.UpdateEntry(ctx, p.ID, 9999, "t", "b", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, _, err = f.eng.UpdateEntry(ctx, p.ID, entry.ID, "", "b", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRefreshLinksIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")
	marcus := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Marcus")
	for _, body := range []string{"one", "two with the fixer", "three"} {
		_, err := f.eng.CreateEntry(ctx, p.ID, "t", body, "")
		require.NoError(t, err)
	}
	entries, err := f.db.ListEntries(ctx, p.ID)
	require.NoError(t, err)
	f.gw.RemoveMessage(*p.ThreadID, *entries[0].MessageID)

	// A new alias is picked up on refresh.
	_, err = f.eng.AddAlias(ctx, marcus.ID, "The Fixer")
	require.NoError(t, err)

	res, err := f.eng.RefreshLinks(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, RefreshResult{Updated: 3, Reposted: 1}, res)

	res, err = f.eng.RefreshLinks(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, RefreshResult{Updated: 3, Reposted: 0}, res)

	msg, ok := f.gw.Message(*p.ThreadID, *entries[1].MessageID)
	require.True(t, ok)
	assert.Contains(t, msg.Content, "[the fixer](https://discord.com/channels/g1/"+*marcus.ThreadID+")")
}

func TestGetDossierUnlinksDeadThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")
	_, err := f.eng.CreateEntry(ctx, p.ID, "t", "b", "")
	require.NoError(t, err)
	f.gw.DeleteThread(*p.ThreadID)

	d, err := f.eng.GetDossier(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, d.Person.Linked())
	assert.Len(t, d.Entries, 1)

	_, err = f.eng.GetDossier(ctx, 9999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreatePersonRejectsAmbiguousNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.eng.CreatePerson(ctx, CreatePersonInput{GuildID: "g1", Name: " Elena Ruiz ", Tags: []string{"market"}})
	require.NoError(t, err)
	assert.Equal(t, "Elena Ruiz", p.Name)
	assert.Equal(t, "elena-ruiz", p.Slug)
	assert.False(t, p.Linked())

	_, err = f.eng.AddAlias(ctx, p.ID, "Lena")
	require.NoError(t, err)

	for _, name := range []string{"elena ruiz", "Elena-Ruiz", "LENA"} {
		_, err := f.eng.CreatePerson(ctx, CreatePersonInput{GuildID: "g1", Name: name})
		assert.ErrorIs(t, err, apperr.ErrConflict, name)
	}
	for _, name := range []string{"", "!!!", strings.Repeat("a", maxName+1)} {
		_, err := f.eng.CreatePerson(ctx, CreatePersonInput{GuildID: "g1", Name: name})
		assert.ErrorIs(t, err, apperr.ErrValidation, name)
	}
	_, err = f.eng.CreatePerson(ctx, CreatePersonInput{GuildID: "g2", Name: "Elena Ruiz"})
	assert.NoError(t, err)
}

func TestAddAliasConflictsAcrossPersons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	elena := testutil.Person(t, f.db, "g1", "Elena Ruiz", "Lena")
	marcus := testutil.Person(t, f.db, "g1", "Marcus")

	_, err := f.eng.AddAlias(ctx, marcus.ID, "lena")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = f.eng.AddAlias(ctx, marcus.ID, "Elena Ruiz")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	aliases, err := f.eng.AddAlias(ctx, elena.ID, "LENA")
	require.NoError(t, err)
	assert.Equal(t, []string{"Lena"}, aliases)
}

func TestRenamePerson(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.Person(t, f.db, "g1", "Elena Ruiz")
	testutil.Person(t, f.db, "g1", "Marcus")

	renamed, err := f.eng.RenamePerson(ctx, p.ID, "Elena Ruiz-Vega")
	require.NoError(t, err)
	assert.Equal(t, "elena-ruiz-vega", renamed.Slug)

	_, err = f.eng.RenamePerson(ctx, p.ID, "marcus")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = f.eng.RenamePerson(ctx, p.ID, "ELENA RUIZ-VEGA")
	assert.NoError(t, err)
}

func TestAttachThreadConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.LinkedPerson(t, f.db, f.gw, "g1", "Elena Ruiz")

	_, err := f.eng.AttachThread(ctx, p.ID, "other-thread", "other-starter")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = f.eng.AttachThread(ctx, p.ID, "", "x")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGuildAllowlist(t *testing.T) {
	f := newFixture(t, WithGuildAllowlist([]string{"g1"}))
	ctx := context.Background()
	testutil.Person(t, f.db, "g1", "Elena Ruiz")
	outsider := testutil.Person(t, f.db, "g2", "Marcus")

	persons, err := f.eng.ListPersons(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, persons, 1)

	_, err = f.eng.ListPersons(ctx, "g2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, _, err = f.eng.Lookup(ctx, "g2", "Marcus")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.eng.GetDossier(ctx, outsider.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	guilds, err := f.eng.Guilds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, guilds)
}

func TestGuildAllowlistGatesWrites(t *testing.T) {
	f := newFixture(t, WithGuildAllowlist([]string{"g1"}))
	ctx := context.Background()
	outsider := testutil.LinkedPerson(t, f.db, f.gw, "g2", "Marcus")

	_, err := f.eng.UpdateSummary(ctx, outsider.ID, "x", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.eng.CreateEntry(ctx, outsider.ID, "t", "b", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.eng.RefreshLinks(ctx, outsider.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.eng.AddAlias(ctx, outsider.ID, "The Fixer")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.eng.RenamePerson(ctx, outsider.ID, "Marco")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.eng.AttachThread(ctx, outsider.ID, *outsider.ThreadID, "s")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.eng.CreatePerson(ctx, CreatePersonInput{GuildID: "g2", Name: "Nadia"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Equal(t, 1, f.gw.MessageCount(*outsider.ThreadID))
	assert.Empty(t, f.rec.kinds())
}

func TestGuildsWithoutAllowlist(t *testing.T) {
	f := newFixture(t)
	testutil.Person(t, f.db, "g2", "Marcus")
	testutil.Person(t, f.db, "g1", "Elena Ruiz")

	guilds, err := f.eng.Guilds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, guilds)
}

func TestLiveCacheSkipsRepeatFetches(t *testing.T) {
	f := newFixture(t, WithLiveCache(time.Minute))
	ctx := context.Background()
	testutil.LinkedPerson(t, f.db, f.gw, "g1", "Marcus")

	_, err := f.eng.MentionIndex(ctx, "g1")
	require.NoError(t, err)
	// The next fetch would fail; a cached thread is not fetched again.
	f.gw.FailNext("fetch_thread", errors.New("timeout"))
	idx, err := f.eng.MentionIndex(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
}
