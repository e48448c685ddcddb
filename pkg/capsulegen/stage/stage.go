// Package stage implements the three generation stage executors:
// outline, per-module lesson plan, and per-lesson content.
//
// Each executor is a pure function of (provider caller, typed input):
// validate preconditions, build a deterministic prompt, call the provider
// through the resilience wrapper, recover structured output, validate it,
// and return a typed Result carrying cost and timing on both arms.
package stage

import (
	"log/slog"
	"time"

	"github.com/caplearn/capsulegen/pkg/capsulegen/generr"
	"github.com/caplearn/capsulegen/pkg/capsulegen/llm"
	"github.com/caplearn/capsulegen/pkg/capsulegen/observability"
)

// Name identifies a pipeline stage.
type Name string

// Stage names.
const (
	NameOutline Name = "outline"
	NamePlan    Name = "lesson_plan"
	NameContent Name = "lesson_content"
)

// SourceType selects where course material comes from.
type SourceType string

// Source types.
const (
	SourceTopic    SourceType = "topic"
	SourceDocument SourceType = "document"
)

// Result is the outcome of one stage executor call.
// Token usage and duration are recorded on both arms: failed calls still
// cost tokens.
type Result[T any] struct {
	// Payload is the typed product. Valid only when Err is nil.
	Payload T

	// Tokens is the token cost of the call, including failed attempts.
	Tokens llm.Usage

	// Duration is wall-clock time for the whole executor call.
	Duration time.Duration

	// Attempts is the provider-level attempt count.
	Attempts int

	// WasRetried is true when the provider call needed more than one attempt.
	WasRetried bool

	// Err is the classified failure, nil on success.
	Err *generr.Error

	// Retriable reports whether re-running the executor may succeed.
	// Schema failures are retriable here even though their kind is not:
	// a fresh call against the same prompt can produce valid output.
	Retriable bool
}

// Success reports whether the stage produced a valid payload.
func (r Result[T]) Success() bool {
	return r.Err == nil
}

// Executor runs stage calls against one provider.
type Executor struct {
	Caller  *llm.Caller
	Logger  *slog.Logger
	Metrics observability.MetricsRecorder

	// Spans emits one trace span per stage execution. Defaults to a no-op;
	// assign a real manager to enable tracing.
	Spans observability.SpanManager
}

// NewExecutor creates an executor with sane defaults for optional fields.
func NewExecutor(caller *llm.Caller, logger *slog.Logger, metrics observability.MetricsRecorder) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Executor{
		Caller:  caller,
		Logger:  logger,
		Metrics: metrics,
		Spans:   observability.NoopSpanManager{},
	}
}

func failure[T any](err error, tokens llm.Usage, started time.Time, attempts int, retriable bool) Result[T] {
	ge := generr.FromError(err, nil)
	return Result[T]{
		Tokens:     tokens,
		Duration:   time.Since(started),
		Attempts:   attempts,
		WasRetried: attempts > 1,
		Err:        ge,
		Retriable:  retriable,
	}
}

func success[T any](payload T, tokens llm.Usage, started time.Time, attempts int) Result[T] {
	return Result[T]{
		Payload:    payload,
		Tokens:     tokens,
		Duration:   time.Since(started),
		Attempts:   attempts,
		WasRetried: attempts > 1,
	}
}
