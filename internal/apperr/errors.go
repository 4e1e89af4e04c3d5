// Package apperr defines the error kinds surfaced by the dossier core and
// their HTTP status mapping.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrThreadConflict   = errors.New("thread missing")
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrSyncFailure      = errors.New("sync failure")
	ErrRateLimited      = errors.New("rate limited")
)

// Error pairs a public message with one of the sentinel kinds above.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// New returns an Error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap returns an Error of the given kind that keeps cause for logging.
func Wrap(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Validation is shorthand for New(ErrValidation, msg).
func Validation(msg string) *Error { return New(ErrValidation, msg) }

// NotFound is shorthand for New(ErrNotFound, msg).
func NotFound(msg string) *Error { return New(ErrNotFound, msg) }

// Status maps err to an HTTP status code. Unknown errors are 500.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrThreadConflict), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the public message for err. Errors that are not *Error
// never leak their text.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrValidation):
		return "invalid request"
	case errors.Is(err, ErrThreadConflict):
		return "dossier thread missing"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrSignatureInvalid):
		return "invalid signature"
	case errors.Is(err, ErrRateLimited):
		return "slow down"
	}
	return "internal error"
}
