// Package breaker provides a per-provider circuit breaker.
//
// The breaker protects the provider, not any one caller: state for a given
// provider name is shared across every generation run that talks to it.
// State lives behind an injected Store so a multi-instance deployment can
// back it with a shared cache instead of process memory.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// State is the circuit state for one provider.
type State string

// Circuit states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config tunes breaker behavior. Zero values take defaults.
type Config struct {
	// FailureThreshold is the failure count that opens the circuit. Default 5.
	FailureThreshold int

	// FailureWindow bounds how long failures accumulate; a failure older
	// than the window resets the count. Default 60s.
	FailureWindow time.Duration

	// ResetTimeout is how long an open circuit waits before probing. Default 60s.
	ResetTimeout time.Duration

	// SuccessThreshold is the consecutive successes needed to close a
	// half-open circuit. Default 2.
	SuccessThreshold int
}

// DefaultConfig is the standard breaker configuration.
var DefaultConfig = Config{
	FailureThreshold: 5,
	FailureWindow:    60 * time.Second,
	ResetTimeout:     60 * time.Second,
	SuccessThreshold: 2,
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = DefaultConfig.FailureWindow
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultConfig.ResetTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultConfig.SuccessThreshold
	}
	return c
}

// Decision is the outcome of an Allow check.
type Decision struct {
	// Allowed reports whether the call may proceed.
	Allowed bool

	// State is the circuit state after the check.
	State State

	// RetryIn is how long until the circuit will probe again.
	// Only set when Allowed is false.
	RetryIn time.Duration

	// Reason explains a rejection.
	Reason string
}

// Breaker gates provider calls based on recent health.
type Breaker struct {
	store        Store
	cfg          Config
	now          func() time.Time
	logger       *slog.Logger
	onTransition func(provider string, from, to State)
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger used for transition events.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) { b.logger = logger }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithOnTransition sets a callback invoked on every state transition.
func WithOnTransition(fn func(provider string, from, to State)) Option {
	return func(b *Breaker) { b.onTransition = fn }
}

// New creates a Breaker over the given store.
// A nil store defaults to an in-process memory store.
func New(store Store, cfg Config, opts ...Option) *Breaker {
	if store == nil {
		store = NewMemoryStore()
	}
	b := &Breaker{
		store:  store,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call to the provider may proceed.
// An open circuit whose reset timeout has elapsed transitions to half-open
// and lets the triggering request through as a probe.
func (b *Breaker) Allow(ctx context.Context, provider string) (Decision, error) {
	now := b.now()
	var d Decision
	_, err := b.store.Update(ctx, provider, func(s *Snapshot) {
		switch s.State {
		case StateOpen:
			elapsed := now.Sub(s.LastFailureAt)
			if elapsed < b.cfg.ResetTimeout {
				d = Decision{
					Allowed: false,
					State:   StateOpen,
					RetryIn: b.cfg.ResetTimeout - elapsed,
					Reason:  fmt.Sprintf("provider %s unavailable, retry in %s", provider, (b.cfg.ResetTimeout - elapsed).Round(time.Second)),
				}
				return
			}
			b.transition(provider, s, StateHalfOpen, now)
			s.Successes = 0
			d = Decision{Allowed: true, State: StateHalfOpen}
		case StateHalfOpen:
			d = Decision{Allowed: true, State: StateHalfOpen}
		default:
			d = Decision{Allowed: true, State: StateClosed}
		}
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// RecordSuccess records a successful provider call.
func (b *Breaker) RecordSuccess(ctx context.Context, provider string) error {
	now := b.now()
	_, err := b.store.Update(ctx, provider, func(s *Snapshot) {
		switch s.State {
		case StateHalfOpen:
			s.Successes++
			if s.Successes >= b.cfg.SuccessThreshold {
				b.transition(provider, s, StateClosed, now)
				s.Failures = 0
				s.Successes = 0
			}
		default:
			s.Failures = 0
		}
	})
	return err
}

// RecordFailure records a failed provider call.
// Any failure while half-open reopens the circuit immediately.
func (b *Breaker) RecordFailure(ctx context.Context, provider string) error {
	now := b.now()
	_, err := b.store.Update(ctx, provider, func(s *Snapshot) {
		switch s.State {
		case StateHalfOpen:
			b.transition(provider, s, StateOpen, now)
			s.LastFailureAt = now
		case StateOpen:
			s.Failures++
			s.LastFailureAt = now
		default:
			// Stale failures outside the window no longer count.
			if !s.LastFailureAt.IsZero() && now.Sub(s.LastFailureAt) > b.cfg.FailureWindow {
				s.Failures = 0
			}
			s.Failures++
			s.LastFailureAt = now
			if s.Failures >= b.cfg.FailureThreshold {
				b.transition(provider, s, StateOpen, now)
			}
		}
	})
	return err
}

// Reset returns the provider's circuit to closed with cleared counters.
func (b *Breaker) Reset(ctx context.Context, provider string) error {
	now := b.now()
	_, err := b.store.Update(ctx, provider, func(s *Snapshot) {
		if s.State != StateClosed {
			b.transition(provider, s, StateClosed, now)
		}
		s.Failures = 0
		s.Successes = 0
		s.LastFailureAt = time.Time{}
	})
	return err
}

// Snapshot returns the current state for a provider without modifying it.
func (b *Breaker) Snapshot(ctx context.Context, provider string) (Snapshot, error) {
	return b.store.Get(ctx, provider)
}

func (b *Breaker) transition(provider string, s *Snapshot, to State, now time.Time) {
	from := s.State
	if from == "" {
		from = StateClosed
	}
	s.State = to
	s.LastTransitionAt = now
	b.logger.Info("circuit state change",
		slog.String("provider", provider),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	if b.onTransition != nil {
		b.onTransition(provider, from, to)
	}
}
