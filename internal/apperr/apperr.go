// Package apperr encodes the error taxonomy every component in the
// orchestrator classifies its failures into. It wraps an underlying error
// with a stable Kind so job records and HTTP responses can distinguish
// "fix your input" from "retry me" from "page an operator".
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy names from the design doc. Names, not types:
// callers switch on these strings when deciding propagation policy.
type Kind string

const (
	Validation       Kind = "validation"
	NotFound         Kind = "not_found"
	Conflict         Kind = "conflict"
	Handler          Kind = "handler"
	Timeout          Kind = "timeout"
	TransientBackend Kind = "transient_backend"
	PermanentBackend Kind = "permanent_backend"
	Security         Kind = "security"
)

// Error pairs a Kind with the wrapped cause and an operator-facing message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error around an existing cause, following the teacher's
// fmt.Errorf("...: %w") convention but preserving the Kind for callers
// that need to branch on it instead of pattern-matching a message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise it classifies unknown errors as Handler, the same
// default the dispatch engine uses for an opaque handler panic/error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Handler
}

// IsRetryable reports whether the dispatch engine's bounded backoff loop
// should retry the operation that produced err rather than writing a
// terminal state.
func IsRetryable(err error) bool {
	return KindOf(err) == TransientBackend
}

// Fatal reports whether err should abort the current worker and alert an
// operator rather than being recovered locally.
func Fatal(err error) bool {
	k := KindOf(err)
	return k == PermanentBackend || k == Security
}
