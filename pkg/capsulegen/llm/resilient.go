package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/caplearn/capsulegen/pkg/capsulegen/breaker"
	"github.com/caplearn/capsulegen/pkg/capsulegen/generr"
	"github.com/caplearn/capsulegen/pkg/capsulegen/observability"
)

// Per-attempt deadlines. Attachment-bearing calls get longer because
// document ingestion dominates their latency.
const (
	DefaultTimeout    = 90 * time.Second
	AttachmentTimeout = 120 * time.Second
)

// CallOptions tunes a single resilient call.
type CallOptions struct {
	// Timeout is the per-attempt deadline. Zero selects the caller's
	// configured deadline for the request shape.
	Timeout time.Duration
}

// Result is a completed resilient call.
type Result struct {
	// Response is the successful provider output.
	Response *Response

	// Attempts is the number of attempts made, including the final one.
	Attempts int

	// WasRetried is true when at least one attempt failed before success.
	WasRetried bool
}

// Caller wraps a Client with circuit-breaker gating and
// classification-driven retry.
type Caller struct {
	provider          string
	client            Client
	breaker           *breaker.Breaker
	logger            *slog.Logger
	metrics           observability.MetricsRecorder
	sleep             func(ctx context.Context, d time.Duration) error
	defaultTimeout    time.Duration
	attachmentTimeout time.Duration
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CallerOption {
	return func(c *Caller) { c.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) CallerOption {
	return func(c *Caller) { c.metrics = m }
}

// WithSleep overrides the backoff sleep. Intended for tests that must
// not wait out real backoff delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) CallerOption {
	return func(c *Caller) { c.sleep = fn }
}

// WithTimeouts overrides the per-attempt deadlines for plain and
// attachment-bearing requests. Non-positive values keep the defaults.
func WithTimeouts(call, attachmentCall time.Duration) CallerOption {
	return func(c *Caller) {
		if call > 0 {
			c.defaultTimeout = call
		}
		if attachmentCall > 0 {
			c.attachmentTimeout = attachmentCall
		}
	}
}

// NewCaller creates a resilient caller for one named provider.
func NewCaller(provider string, client Client, brk *breaker.Breaker, opts ...CallerOption) *Caller {
	c := &Caller{
		provider:          provider,
		client:            client,
		breaker:           brk,
		logger:            slog.Default(),
		metrics:           observability.NoopMetrics{},
		sleep:             sleepCtx,
		defaultTimeout:    DefaultTimeout,
		attachmentTimeout: AttachmentTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the provider name this caller is bound to.
func (c *Caller) Provider() string {
	return c.provider
}

// NoteFailure records a provider failure discovered after the call
// returned, such as output that no recovery strategy could parse. Even a
// transport-level success is a failure when the payload is unusable.
func (c *Caller) NoteFailure(ctx context.Context) {
	if err := c.breaker.RecordFailure(ctx, c.provider); err != nil {
		c.logger.Warn("breaker failure record failed",
			slog.String("provider", c.provider),
			slog.String("error", err.Error()))
	}
}

// Call performs one logical structured-output call with resilience.
//
// The circuit breaker is consulted once up front: a rejected call costs
// nothing and returns SERVICE_UNAVAILABLE immediately. Otherwise attempts
// run under a per-attempt deadline; retriable failures back off and retry
// within the kind's budget, and exhaustion surfaces as RETRIES_EXHAUSTED
// wrapping the last failure. Every failure is recorded against the
// breaker regardless of tier.
func (c *Caller) Call(ctx context.Context, req Request, opts CallOptions) (*Result, error) {
	decision, err := c.breaker.Allow(ctx, c.provider)
	if err != nil {
		return nil, generr.Wrap(generr.KindConfig, "circuit breaker store unavailable", err)
	}
	if !decision.Allowed {
		return nil, generr.New(generr.KindServiceUnavailable, decision.Reason).
			WithContext(map[string]any{
				"provider": c.provider,
				"retry_in": decision.RetryIn.String(),
			})
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
		if req.HasAttachment() {
			timeout = c.attachmentTimeout
		}
	}

	attempt := 1
	for {
		start := time.Now()
		resp, callErr := c.invoke(ctx, req, timeout)
		c.metrics.RecordProviderCall(ctx, c.provider, time.Since(start), callErr)

		if callErr == nil {
			if err := c.breaker.RecordSuccess(ctx, c.provider); err != nil {
				c.logger.Warn("breaker success record failed",
					slog.String("provider", c.provider),
					slog.String("error", err.Error()))
			}
			c.metrics.RecordTokens(ctx, c.provider, int64(resp.Usage.TotalTokens))
			return &Result{
				Response:   resp,
				Attempts:   attempt,
				WasRetried: attempt > 1,
			}, nil
		}

		ge := generr.FromError(callErr, map[string]any{
			"provider": c.provider,
			"attempt":  attempt,
		})

		// Even a repairable failure means the provider is misbehaving.
		if err := c.breaker.RecordFailure(ctx, c.provider); err != nil {
			c.logger.Warn("breaker failure record failed",
				slog.String("provider", c.provider),
				slog.String("error", err.Error()))
		}

		if !ge.Retriable() {
			return nil, ge
		}
		if attempt > generr.MaxRetries(ge.Kind) {
			return nil, generr.Wrap(generr.KindRetriesExhausted, "provider call retries exhausted", ge).
				WithContext(map[string]any{
					"provider": c.provider,
					"attempts": attempt,
				})
		}

		delay := ge.Delay(attempt)
		c.logger.Warn("provider call failed, retrying",
			slog.String("provider", c.provider),
			slog.String("kind", string(ge.Kind)),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
		)
		c.metrics.RecordProviderRetry(ctx, c.provider, string(ge.Kind))

		if err := c.sleep(ctx, delay); err != nil {
			return nil, generr.Wrap(generr.KindCancelled, "cancelled during backoff", err).
				With("provider", c.provider)
		}
		attempt++
	}
}

// invoke runs a single attempt under its own deadline.
// The deadline timer is released on both paths.
func (c *Caller) invoke(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.client.Call(attemptCtx, req)
	if err != nil {
		// Distinguish the parent being cancelled from the attempt timing out.
		if ctx.Err() != nil {
			return nil, generr.Wrap(generr.KindCancelled, "call cancelled", ctx.Err()).
				With("provider", c.provider)
		}
		return nil, err
	}
	return resp, nil
}

// sleepCtx sleeps for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still yield to cancellation.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
