package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordProviderCall records one provider attempt with its outcome.
	RecordProviderCall(ctx context.Context, provider string, duration time.Duration, err error)

	// RecordProviderRetry records a retry triggered by the given error kind.
	RecordProviderRetry(ctx context.Context, provider, kind string)

	// RecordTokens records token consumption attributed to a provider.
	RecordTokens(ctx context.Context, provider string, total int64)

	// RecordStage records a stage execution.
	RecordStage(ctx context.Context, stage string, duration time.Duration, err error)

	// RecordBreakerTransition records a circuit state change.
	RecordBreakerTransition(ctx context.Context, provider, from, to string)

	// RecordGeneration records a completed generation run.
	RecordGeneration(ctx context.Context, success bool, duration time.Duration)
}

type otelMetrics struct {
	providerCalls      metric.Int64Counter
	providerLatency    metric.Float64Histogram
	providerErrors     metric.Int64Counter
	providerRetries    metric.Int64Counter
	tokensUsed         metric.Int64Counter
	stageLatency       metric.Float64Histogram
	stageErrors        metric.Int64Counter
	breakerTransitions metric.Int64Counter
	generationRuns     metric.Int64Counter
	generationLatency  metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("capsulegen")

	providerCalls, err := meter.Int64Counter("capsulegen.provider.calls",
		metric.WithDescription("Number of provider call attempts"),
	)
	if err != nil {
		return nil, err
	}

	providerLatency, err := meter.Float64Histogram("capsulegen.provider.latency_ms",
		metric.WithDescription("Provider call latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	providerErrors, err := meter.Int64Counter("capsulegen.provider.errors",
		metric.WithDescription("Number of failed provider call attempts"),
	)
	if err != nil {
		return nil, err
	}

	providerRetries, err := meter.Int64Counter("capsulegen.provider.retries",
		metric.WithDescription("Number of provider call retries"),
	)
	if err != nil {
		return nil, err
	}

	tokensUsed, err := meter.Int64Counter("capsulegen.tokens.used",
		metric.WithDescription("Total tokens consumed"),
	)
	if err != nil {
		return nil, err
	}

	stageLatency, err := meter.Float64Histogram("capsulegen.stage.latency_ms",
		metric.WithDescription("Stage execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stageErrors, err := meter.Int64Counter("capsulegen.stage.errors",
		metric.WithDescription("Number of failed stage executions"),
	)
	if err != nil {
		return nil, err
	}

	breakerTransitions, err := meter.Int64Counter("capsulegen.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
	)
	if err != nil {
		return nil, err
	}

	generationRuns, err := meter.Int64Counter("capsulegen.generation.runs",
		metric.WithDescription("Number of generation runs"),
	)
	if err != nil {
		return nil, err
	}

	generationLatency, err := meter.Float64Histogram("capsulegen.generation.latency_ms",
		metric.WithDescription("Generation run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		providerCalls:      providerCalls,
		providerLatency:    providerLatency,
		providerErrors:     providerErrors,
		providerRetries:    providerRetries,
		tokensUsed:         tokensUsed,
		stageLatency:       stageLatency,
		stageErrors:        stageErrors,
		breakerTransitions: breakerTransitions,
		generationRuns:     generationRuns,
		generationLatency:  generationLatency,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider; configure it before
// calling this function.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordProviderCall records one provider attempt.
func (m *otelMetrics) RecordProviderCall(ctx context.Context, provider string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("provider", provider)}
	m.providerCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.providerLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		m.providerErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordProviderRetry records a retry.
func (m *otelMetrics) RecordProviderRetry(ctx context.Context, provider, kind string) {
	m.providerRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordTokens records token consumption.
func (m *otelMetrics) RecordTokens(ctx context.Context, provider string, total int64) {
	m.tokensUsed.Add(ctx, total, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordStage records a stage execution.
func (m *otelMetrics) RecordStage(ctx context.Context, stage string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("stage", stage)}
	m.stageLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		m.stageErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordBreakerTransition records a circuit state change.
func (m *otelMetrics) RecordBreakerTransition(ctx context.Context, provider, from, to string) {
	m.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordGeneration records a generation run.
func (m *otelMetrics) RecordGeneration(ctx context.Context, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{attribute.Bool("success", success)}
	m.generationRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.generationLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}
