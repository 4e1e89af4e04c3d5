// Package slug derives the normalized per-guild key of a person name.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Make returns the slug for name: case-folded, diacritics stripped, and every
// run of non-alphanumeric characters collapsed to a single '-'.
func Make(name string) string {
	folded := Fold(name)
	// Casers and transformers carry state; build fresh ones per call.
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), folded)
	if err != nil {
		stripped = folded
	}

	var b strings.Builder
	b.Grow(len(stripped))
	pendingSep := false
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// Fold returns the case-folded, whitespace-trimmed form of s used for
// case-insensitive comparisons.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Equal reports whether a and b are equal under Fold.
func Equal(a, b string) bool {
	return Fold(a) == Fold(b)
}
