package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/dossier/internal/apperr"
	"github.com/starford/dossier/internal/models"
)

const secret = "s3cret"

type call struct {
	kind     string
	personID int64
	a, b, by string
}

type fakeEngine struct {
	calls []call
	err   error
}

func (f *fakeEngine) UpdateSummary(_ context.Context, id int64, summary, by string) (*models.Person, error) {
	f.calls = append(f.calls, call{kind: "summary", personID: id, a: summary, by: by})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Person{ID: id, SummaryMD: summary}, nil
}

func (f *fakeEngine) CreateEntry(_ context.Context, id int64, title, body, by string) (*models.Entry, error) {
	f.calls = append(f.calls, call{kind: "entry", personID: id, a: title, b: body, by: by})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Entry{ID: 1, PersonID: id, Title: title, BodyMD: body}, nil
}

func newGateway() (*Gateway, *fakeEngine) {
	eng := &fakeEngine{}
	return NewGateway(NewVerifier(secret), eng, nil), eng
}

func body(t *testing.T, v map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCanonicalFieldOrderAndNulls(t *testing.T) {
	summary := "a <b> & c"
	p := &Payload{Type: UpdateType, PersonID: "42", SummaryMD: &summary}
	got, err := Canonical(p)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"poi.update","person_id":"42","summary_md":"a <b> & c","updated_by":null,"new_entry":null}`, string(got))

	p = &Payload{Type: UpdateType, PersonID: "7", NewEntry: &NewEntry{Title: "t", BodyMD: "b"}}
	got, err = Canonical(p)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"poi.update","person_id":"7","summary_md":null,"updated_by":null,"new_entry":{"title":"t","body_md":"b","created_by":null}}`, string(got))
}

func TestPersonIDAcceptsNumberOrString(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`{"person_id": 12}`), &p))
	assert.Equal(t, PersonID("12"), p.PersonID)
	require.NoError(t, json.Unmarshal([]byte(`{"person_id": "12"}`), &p))
	n, ok := p.PersonID.Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(12), n)
	assert.Error(t, json.Unmarshal([]byte(`{"person_id": true}`), &p))
}

func TestRawSecretAccepted(t *testing.T) {
	g, eng := newGateway()
	raw := body(t, map[string]any{
		"secret": secret, "type": UpdateType, "person_id": 3,
		"summary_md": "new summary", "updated_by": "bot",
	})
	res, err := g.Handle(context.Background(), raw)
	require.NoError(t, err)
	require.NotNil(t, res.Person)
	assert.Nil(t, res.Entry)
	assert.Equal(t, []call{{kind: "summary", personID: 3, a: "new summary", by: "bot"}}, eng.calls)
}

func TestCanonicalDigestAcceptedAndTamperingRejected(t *testing.T) {
	summary := "original"
	p := &Payload{Type: UpdateType, PersonID: "3", SummaryMD: &summary}
	canonical, err := Canonical(p)
	require.NoError(t, err)
	sig := Digest(secret, canonical)

	g, eng := newGateway()
	_, err = g.Handle(context.Background(), body(t, map[string]any{
		"secret": sig, "type": UpdateType, "person_id": "3", "summary_md": "original",
	}))
	require.NoError(t, err)
	require.Len(t, eng.calls, 1)

	_, err = g.Handle(context.Background(), body(t, map[string]any{
		"secret": sig, "type": UpdateType, "person_id": "3", "summary_md": "altered",
	}))
	assert.ErrorIs(t, err, apperr.ErrSignatureInvalid)
	assert.Len(t, eng.calls, 1, "rejected update must not reach the engine")
}

func TestRawBodyDigestAccepted(t *testing.T) {
	v := NewVerifier(secret)
	raw := []byte(`{"type":"poi.update","person_id":5,"new_entry":{"title":"t","body_md":"b"}}`)
	var p Payload
	require.NoError(t, json.Unmarshal(raw, &p))
	p.Secret = Digest(secret, raw)

	assert.NoError(t, v.Verify(&p, raw))
	tampered := []byte(strings.Replace(string(raw), `"b"`, `"x"`, 1))
	assert.ErrorIs(t, v.Verify(&p, tampered), apperr.ErrSignatureInvalid)
}

func TestSchemaErrorsPrecedeSignature(t *testing.T) {
	g, eng := newGateway()
	cases := []map[string]any{
		{"secret": "wrong", "type": "other", "person_id": 1},
		{"secret": "wrong", "type": UpdateType},
		{"secret": "", "type": UpdateType, "person_id": 1},
		{"secret": "wrong", "type": UpdateType, "person_id": 1, "summary_md": strings.Repeat("x", 601)},
		{"secret": "wrong", "type": UpdateType, "person_id": 1, "new_entry": map[string]any{"title": "", "body_md": "b"}},
	}
	for _, c := range cases {
		_, err := g.Handle(context.Background(), body(t, c))
		assert.ErrorIs(t, err, apperr.ErrValidation, c)
	}
	_, err := g.Handle(context.Background(), []byte("{not json"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, eng.calls)
}

func TestNonNumericPersonIDAfterAuth(t *testing.T) {
	g, eng := newGateway()
	_, err := g.Handle(context.Background(), body(t, map[string]any{
		"secret": "wrong", "type": UpdateType, "person_id": "abc",
	}))
	assert.ErrorIs(t, err, apperr.ErrSignatureInvalid)

	_, err = g.Handle(context.Background(), body(t, map[string]any{
		"secret": secret, "type": UpdateType, "person_id": "abc",
	}))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "person_id must be numeric", apperr.Message(err))
	assert.Empty(t, eng.calls)
}

func TestSummaryThenEntry(t *testing.T) {
	g, eng := newGateway()
	_, err := g.Handle(context.Background(), body(t, map[string]any{
		"secret": secret, "type": UpdateType, "person_id": 9,
		"summary_md": "s",
		"new_entry":  map[string]any{"title": "t", "body_md": "b", "created_by": "c"},
	}))
	require.NoError(t, err)
	require.Len(t, eng.calls, 2)
	assert.Equal(t, "summary", eng.calls[0].kind)
	assert.Equal(t, call{kind: "entry", personID: 9, a: "t", b: "b", by: "c"}, eng.calls[1])
}

func TestEngineErrorStopsProcessing(t *testing.T) {
	g, eng := newGateway()
	eng.err = apperr.New(apperr.ErrThreadConflict, "dossier thread missing")
	_, err := g.Handle(context.Background(), body(t, map[string]any{
		"secret": secret, "type": UpdateType, "person_id": 9,
		"summary_md": "s",
		"new_entry":  map[string]any{"title": "t", "body_md": "b"},
	}))
	assert.ErrorIs(t, err, apperr.ErrThreadConflict)
	assert.Len(t, eng.calls, 1)
}

func TestSecretRotation(t *testing.T) {
	v := NewVerifier("old")
	p := &Payload{Secret: "new", Type: UpdateType, PersonID: "1"}
	assert.ErrorIs(t, v.Verify(p, nil), apperr.ErrSignatureInvalid)
	v.SetSecret("new")
	assert.NoError(t, v.Verify(p, nil))
}
