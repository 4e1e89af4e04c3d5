package dossier

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dossier/internal/apperr"
)

const (
	maxSummary = 600
	maxTitle   = 200
	maxName    = 100
)

// text trims value and checks it is non-empty and at most maxRunes long.
// maxRunes <= 0 only requires a value.
func text(field, value string, maxRunes int) (string, error) {
	value = strings.TrimSpace(value)
	rules := []validation.Rule{validation.Required}
	if maxRunes > 0 {
		rules = append(rules, validation.RuneLength(1, maxRunes))
	}
	if err := validation.Validate(value, rules...); err != nil {
		return "", apperr.Validation(field + " " + err.Error())
	}
	return value, nil
}

// optionalText is text for fields that may be empty.
func optionalText(field, value string, maxRunes int) (string, error) {
	value = strings.TrimSpace(value)
	if err := validation.Validate(value, validation.RuneLength(0, maxRunes)); err != nil {
		return "", apperr.Validation(field + " " + err.Error())
	}
	return value, nil
}
