// Package apperr defines the typed failure kinds shared by all domain
// services. Handlers map kinds to HTTP status codes; services never
// return untyped errors for expected failures.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an application failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindAuthorization
	KindConflict
	KindProximity
	KindExpired
	KindFormat
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindProximity:
		return "proximity"
	case KindExpired:
		return "expired"
	case KindFormat:
		return "format"
	}
	return "unknown"
}

// Error is a typed application error. Details optionally carries a
// payload surfaced to the client, e.g. the colliding schedule on a
// conflict.
type Error struct {
	Kind    Kind
	Message string
	Details interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a typed error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func Authorization(format string, args ...interface{}) *Error {
	return New(KindAuthorization, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, format, args...)
}

func Proximity(format string, args ...interface{}) *Error {
	return New(KindProximity, format, args...)
}

func Expired(format string, args ...interface{}) *Error {
	return New(KindExpired, format, args...)
}

func Format(format string, args ...interface{}) *Error {
	return New(KindFormat, format, args...)
}

// WithDetails returns a copy of the error carrying a client-visible payload.
func (e *Error) WithDetails(details interface{}) *Error {
	out := *e
	out.Details = details
	return &out
}

// KindOf extracts the kind from an error chain, KindUnknown for
// infrastructure errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
