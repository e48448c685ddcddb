package generr

import (
	"fmt"
	"time"
)

// Error is a classified generation failure.
//
// An Error is immutable once created: With and WithContext return copies,
// so an error captured for one attempt is never mutated by the next.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Message is the human-readable description.
	Message string

	// Context carries diagnostic fields (stage, attempt, indices,
	// provider, upstream status, truncated raw response).
	Context map[string]any

	// Cause is the wrapped upstream error, if any.
	Cause error

	// At is the creation time.
	At time.Time
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		At:      time.Now().UTC(),
	}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an Error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	e := New(kind, message)
	e.Cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retriable reports whether this error's kind should be retried.
func (e *Error) Retriable() bool {
	return Retriable(e.Kind)
}

// Repairable reports whether this error's kind can be recovered locally.
func (e *Error) Repairable() bool {
	return Repairable(e.Kind)
}

// Terminal reports whether this error's kind is unrecoverable.
func (e *Error) Terminal() bool {
	return Terminal(e.Kind)
}

// Delay returns the backoff before the given attempt is retried.
func (e *Error) Delay(attempt int) time.Duration {
	return Backoff(e.Kind, attempt)
}

// With returns a copy of the error with one context field added.
func (e *Error) With(key string, value any) *Error {
	return e.WithContext(map[string]any{key: value})
}

// WithContext returns a copy of the error with the given fields merged
// into its context map. The receiver is not modified.
func (e *Error) WithContext(fields map[string]any) *Error {
	cp := &Error{
		Kind:    e.Kind,
		Message: e.Message,
		Cause:   e.Cause,
		At:      e.At,
		Context: make(map[string]any, len(e.Context)+len(fields)),
	}
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	for k, v := range fields {
		cp.Context[k] = v
	}
	return cp
}

// ForAttempt returns a copy of the error recording the attempt number
// it was observed on.
func (e *Error) ForAttempt(attempt int) *Error {
	return e.With("attempt", attempt)
}
