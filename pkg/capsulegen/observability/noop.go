package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordProviderCall does nothing.
func (NoopMetrics) RecordProviderCall(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordProviderRetry does nothing.
func (NoopMetrics) RecordProviderRetry(_ context.Context, _, _ string) {}

// RecordTokens does nothing.
func (NoopMetrics) RecordTokens(_ context.Context, _ string, _ int64) {}

// RecordStage does nothing.
func (NoopMetrics) RecordStage(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordBreakerTransition does nothing.
func (NoopMetrics) RecordBreakerTransition(_ context.Context, _, _, _ string) {}

// RecordGeneration does nothing.
func (NoopMetrics) RecordGeneration(_ context.Context, _ bool, _ time.Duration) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartGenerationSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartGenerationSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartStageSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartStageSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
