package capsulegen

import (
	"context"
	"log/slog"
	"time"

	"github.com/caplearn/capsulegen/pkg/capsulegen/checkpoint"
	"github.com/caplearn/capsulegen/pkg/capsulegen/observability"
	"github.com/caplearn/capsulegen/pkg/capsulegen/stage"
)

// Orchestration-level retry defaults. Distinct from the provider-level
// retry inside the call wrapper: these re-run whole stage executions.
const (
	DefaultStageRetries = 2
	DefaultRetryDelay   = time.Second
)

// Generator drives generation runs through the three-stage pipeline.
// It is safe to share one Generator across concurrent runs; per-run state
// lives in Run.
type Generator struct {
	exec         *stage.Executor
	snapshots    checkpoint.Store
	logger       *slog.Logger
	metrics      observability.MetricsRecorder
	spans        observability.SpanManager
	stageRetries int
	retryDelay   time.Duration
	difficulty   string
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithSpans sets the trace span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(g *Generator) { g.spans = s }
}

// WithSnapshotStore enables run snapshot persistence for resumption.
func WithSnapshotStore(s checkpoint.Store) Option {
	return func(g *Generator) { g.snapshots = s }
}

// WithStageRetries sets how many times a retriable stage failure is re-run.
func WithStageRetries(n int) Option {
	return func(g *Generator) {
		if n >= 0 {
			g.stageRetries = n
		}
	}
}

// WithRetryDelay sets the base delay between stage retries. The actual
// delay scales linearly with the attempt number.
func WithRetryDelay(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.retryDelay = d
		}
	}
}

// WithDefaultDifficulty sets the difficulty used when the input leaves it
// empty.
func WithDefaultDifficulty(d string) Option {
	return func(g *Generator) { g.difficulty = d }
}

// withSleep overrides the retry sleep. Used in tests.
func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Generator) { g.sleep = fn }
}

// NewGenerator creates a generator over the given stage executor.
func NewGenerator(exec *stage.Executor, opts ...Option) *Generator {
	g := &Generator{
		exec:         exec,
		snapshots:    checkpoint.NewMemoryStore(),
		logger:       slog.Default(),
		metrics:      observability.NoopMetrics{},
		spans:        observability.NoopSpanManager{},
		stageRetries: DefaultStageRetries,
		retryDelay:   DefaultRetryDelay,
		difficulty:   "intermediate",
		sleep:        sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// sleepCtx sleeps for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
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
