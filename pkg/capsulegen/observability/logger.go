// Package observability provides structured logging, metrics, and tracing
// for the generation pipeline.
//
// Logging uses slog, metrics and tracing use OpenTelemetry. Everything is
// opt-in with no-op implementations when disabled.
package observability

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger builds a human-readable slog logger writing to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// EnrichLogger adds generation context to a logger.
func EnrichLogger(logger *slog.Logger, runID, stage string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("stage", stage),
	)
}

// LogGenerationStart logs the start of a generation run.
func LogGenerationStart(logger *slog.Logger, runID, sourceType string) {
	if logger == nil {
		return
	}
	logger.Info("generation starting",
		slog.String("run_id", runID),
		slog.String("source_type", sourceType),
	)
}

// LogGenerationComplete logs successful completion with totals.
func LogGenerationComplete(logger *slog.Logger, runID string, durationMs float64, lessons, totalTokens int) {
	if logger == nil {
		return
	}
	logger.Info("generation completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("lessons", lessons),
		slog.Int("total_tokens", totalTokens),
	)
}

// LogGenerationError logs a failed generation run.
func LogGenerationError(logger *slog.Logger, runID, stage string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("generation failed",
		slog.String("run_id", runID),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogGenerationAborted logs a cooperative abort.
func LogGenerationAborted(logger *slog.Logger, runID, stage string) {
	if logger == nil {
		return
	}
	logger.Info("generation aborted",
		slog.String("run_id", runID),
		slog.String("stage", stage),
	)
}

// LogStageStart logs stage execution start.
func LogStageStart(logger *slog.Logger, stage string) {
	if logger == nil {
		return
	}
	logger.Debug("stage starting", slog.String("stage", stage))
}

// LogStageComplete logs successful stage completion.
func LogStageComplete(logger *slog.Logger, stage string, durationMs float64, tokens int) {
	if logger == nil {
		return
	}
	logger.Debug("stage completed",
		slog.String("stage", stage),
		slog.Float64("duration_ms", durationMs),
		slog.Int("tokens", tokens),
	)
}

// LogStageRetry logs an orchestration-level stage retry.
func LogStageRetry(logger *slog.Logger, stage string, attempt int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("stage failed, retrying",
		slog.String("stage", stage),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// LogRecovery logs a structured-output recovery outcome.
func LogRecovery(logger *slog.Logger, stage, strategy string, repaired bool) {
	if logger == nil {
		return
	}
	if strategy == "direct" {
		return // nothing noteworthy
	}
	logger.Debug("model output recovered",
		slog.String("stage", stage),
		slog.String("strategy", strategy),
		slog.Bool("repaired", repaired),
	)
}

// LogSnapshot logs a run snapshot save.
func LogSnapshot(logger *slog.Logger, runID string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("run snapshot saved",
		slog.String("run_id", runID),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogSnapshotError logs a snapshot failure (non-fatal).
func LogSnapshotError(logger *slog.Logger, runID, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("run snapshot failed",
		slog.String("run_id", runID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// The returned function reports elapsed milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
