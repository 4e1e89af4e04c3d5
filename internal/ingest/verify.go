package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync/atomic"

	"github.com/starford/dossier/internal/apperr"
)

// Verifier checks payload credentials against a shared secret that can be
// rotated while the server runs.
type Verifier struct {
	secret atomic.Pointer[string]
}

// NewVerifier returns a Verifier for secret.
func NewVerifier(secret string) *Verifier {
	v := &Verifier{}
	v.SetSecret(secret)
	return v
}

// SetSecret replaces the shared secret.
func (v *Verifier) SetSecret(secret string) {
	v.secret.Store(&secret)
}

// Digest returns the hex HMAC-SHA256 of data keyed by secret.
func Digest(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Verify accepts the claimed credential when it equals the raw secret, the
// digest of the canonical payload, or the digest of the raw request body.
func (v *Verifier) Verify(p *Payload, raw []byte) error {
	secret := *v.secret.Load()
	claimed := strings.TrimSpace(p.Secret)
	if secret == "" || claimed == "" {
		return apperr.New(apperr.ErrSignatureInvalid, "invalid signature")
	}
	if equal(claimed, secret) {
		return nil
	}
	if canonical, err := Canonical(p); err == nil && equal(claimed, Digest(secret, canonical)) {
		return nil
	}
	if len(raw) > 0 && equal(claimed, Digest(secret, raw)) {
		return nil
	}
	return apperr.New(apperr.ErrSignatureInvalid, "invalid signature")
}
