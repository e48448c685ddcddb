package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the capsulegen tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("capsulegen")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartGenerationSpan starts a span for an entire generation run.
	StartGenerationSpan(ctx context.Context, runID, sourceType string) (context.Context, trace.Span)

	// StartStageSpan starts a span for one stage execution.
	// The stage span should be a child of the generation span.
	StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider; configure the
// provider before calling this function.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartGenerationSpan starts a span for an entire generation run.
func (m *otelSpanManager) StartGenerationSpan(ctx context.Context, runID, sourceType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "capsulegen.generate",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("source.type", sourceType),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartStageSpan starts a span for one stage execution.
func (m *otelSpanManager) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "capsulegen.stage."+stage,
		trace.WithAttributes(
			attribute.String("stage", stage),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
