package generr

import (
	"context"
	"errors"
	"strings"
)

// StatusError is an upstream failure that surfaced an HTTP-like status code.
// Provider adapters should return this (or wrap one) so classification can
// use the status instead of message matching.
type StatusError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return e.Message
}

// KindForStatus maps an HTTP-like status code to a kind.
func KindForStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimit
	case status == 401 || status == 403:
		return KindAuth
	case status == 400:
		return KindInvalidInput
	case status == 503:
		return KindServiceUnavailable
	case status >= 500:
		return KindTransientAPI
	default:
		return KindUnknown
	}
}

// FromError classifies an arbitrary error into an *Error.
//
// Already-classified errors pass through with the extra context merged.
// Status-bearing errors classify by code, context cancellation maps to
// CANCELLED, deadline expiry to TIMEOUT, and everything else falls back to
// message-substring matching.
func FromError(err error, fields map[string]any) *Error {
	if err == nil {
		return nil
	}

	var ge *Error
	if errors.As(err, &ge) {
		if len(fields) == 0 {
			return ge
		}
		return ge.WithContext(fields)
	}

	kind := classifyUnknown(err)
	e := Wrap(kind, err.Error(), err)
	if len(fields) > 0 {
		e = e.WithContext(fields)
	}
	return e
}

func classifyUnknown(err error) Kind {
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var se *StatusError
	if errors.As(err, &se) {
		return KindForStatus(se.StatusCode)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
		return KindRateLimit
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return KindTimeout
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"):
		return KindAuth
	case strings.Contains(msg, "safety"), strings.Contains(msg, "policy"):
		return KindContentPolicy
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return KindNetwork
	default:
		return KindUnknown
	}
}
