// Package apperr defines the machine-readable error kinds that cross the
// orchestration boundary. Every failure surfaced to a caller carries one Kind
// and a human-readable message; wrapped causes stay internal.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	Unauthorized     Kind = "UNAUTHORIZED"
	Forbidden        Kind = "FORBIDDEN"
	NotFound         Kind = "NOT_FOUND"
	ValidationFailed Kind = "VALIDATION_FAILED"
	InvalidState     Kind = "INVALID_STATE"
	Expired          Kind = "EXPIRED"
	TokenMismatch    Kind = "TOKEN_MISMATCH"
	ToolNotAllowed   Kind = "TOOL_NOT_ALLOWED"
	InvalidInput     Kind = "INVALID_INPUT"
	ApplyFailed      Kind = "APPLY_FAILED"
	ModelUnavailable Kind = "MODEL_UNAVAILABLE"
	Internal         Kind = "INTERNAL"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. The message is what callers see.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or Internal for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the user-visible message of err. Unclassified errors
// collapse to a generic message so internals never leak.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
