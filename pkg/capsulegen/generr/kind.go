// Package generr provides error classification for the generation pipeline.
//
// The package implements a three-tier taxonomy:
//   - Retriable: transient provider failures, retried with exponential backoff
//   - Repairable: malformed structured output, recovered locally
//   - Terminal: bad input, policy, auth - surfaced immediately
//
// Every error kind belongs to exactly one tier.
package generr

import (
	"math/rand/v2"
	"time"
)

// Kind identifies a class of generation failure.
type Kind string

// Retriable kinds.
const (
	KindRateLimit          Kind = "RATE_LIMIT"
	KindTimeout            Kind = "TIMEOUT"
	KindTransientAPI       Kind = "TRANSIENT_API"
	KindNetwork            Kind = "NETWORK"
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
)

// Repairable kinds.
const (
	KindJSONMalformed  Kind = "JSON_MALFORMED"
	KindSchemaInvalid  Kind = "SCHEMA_INVALID"
	KindSchemaMismatch Kind = "SCHEMA_MISMATCH"
)

// Terminal kinds.
const (
	KindInvalidInput     Kind = "INVALID_INPUT"
	KindContentPolicy    Kind = "CONTENT_POLICY"
	KindAuth             Kind = "AUTH"
	KindConfig           Kind = "CONFIG"
	KindUnsupported      Kind = "UNSUPPORTED"
	KindRetriesExhausted Kind = "RETRIES_EXHAUSTED"
	KindBudgetExceeded   Kind = "BUDGET_EXCEEDED"
	KindCancelled        Kind = "CANCELLED"
	KindUnknown          Kind = "UNKNOWN"
)

// Tier represents how an error kind should be handled.
type Tier int

const (
	// TierRetriable indicates retry with backoff will likely help.
	TierRetriable Tier = iota

	// TierRepairable indicates the output can be recovered locally.
	TierRepairable

	// TierTerminal indicates neither retry nor repair will help.
	TierTerminal
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierRetriable:
		return "retriable"
	case TierRepairable:
		return "repairable"
	case TierTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// policy is the fixed handling policy for a kind.
type policy struct {
	tier        Tier
	baseBackoff time.Duration
	maxRetries  int
}

var policies = map[Kind]policy{
	KindRateLimit:          {TierRetriable, 5 * time.Second, 3},
	KindTimeout:            {TierRetriable, 2 * time.Second, 3},
	KindTransientAPI:       {TierRetriable, 1 * time.Second, 3},
	KindNetwork:            {TierRetriable, 1 * time.Second, 3},
	KindServiceUnavailable: {TierRetriable, 10 * time.Second, 2},

	KindJSONMalformed:  {TierRepairable, 0, 0},
	KindSchemaInvalid:  {TierRepairable, 0, 0},
	KindSchemaMismatch: {TierRepairable, 0, 0},

	KindInvalidInput:     {TierTerminal, 0, 0},
	KindContentPolicy:    {TierTerminal, 0, 0},
	KindAuth:             {TierTerminal, 0, 0},
	KindConfig:           {TierTerminal, 0, 0},
	KindUnsupported:      {TierTerminal, 0, 0},
	KindRetriesExhausted: {TierTerminal, 0, 0},
	KindBudgetExceeded:   {TierTerminal, 0, 0},
	KindCancelled:        {TierTerminal, 0, 0},
	KindUnknown:          {TierTerminal, 0, 0},
}

// Kinds returns every known kind. The order is unspecified.
func Kinds() []Kind {
	ks := make([]Kind, 0, len(policies))
	for k := range policies {
		ks = append(ks, k)
	}
	return ks
}

// TierOf returns the handling tier for a kind.
// Unknown kinds are terminal.
func TierOf(k Kind) Tier {
	p, ok := policies[k]
	if !ok {
		return TierTerminal
	}
	return p.tier
}

// Retriable reports whether the kind should be retried with backoff.
func Retriable(k Kind) bool {
	return TierOf(k) == TierRetriable
}

// Repairable reports whether the kind can be recovered locally.
func Repairable(k Kind) bool {
	return TierOf(k) == TierRepairable
}

// Terminal reports whether the kind is unrecoverable.
func Terminal(k Kind) bool {
	return TierOf(k) == TierTerminal
}

// MaxRetries returns the retry budget for a kind.
// Zero for every repairable and terminal kind.
func MaxRetries(k Kind) int {
	return policies[k].maxRetries
}

// backoffCap bounds any single backoff wait.
const backoffCap = 60 * time.Second

// Backoff returns the wait before the given attempt is retried.
// Attempt numbering starts at 1. The wait grows as
// base * 2^(attempt-1) plus up to one second of jitter, capped at 60s.
// Non-retriable kinds always return 0.
func Backoff(k Kind, attempt int) time.Duration {
	p, ok := policies[k]
	if !ok || p.tier != TierRetriable || p.baseBackoff <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	d := p.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}

	jitter := time.Duration(rand.Int64N(int64(time.Second)))
	if d+jitter > backoffCap {
		return backoffCap
	}
	return d + jitter
}
