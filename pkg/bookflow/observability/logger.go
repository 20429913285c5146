// Package observability provides production-grade observability for
// bookflow: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds workflow context to a logger.
// Returns a new logger with workflow, execution_id, and booking_id fields.
func EnrichLogger(logger *slog.Logger, workflow, executionID, bookingID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("workflow", workflow),
		slog.String("execution_id", executionID),
		slog.String("booking_id", bookingID),
	)
}

// LogWorkflowStart logs the start of a workflow run.
func LogWorkflowStart(logger *slog.Logger, workflow, executionID string) {
	if logger == nil {
		return
	}
	logger.Info("workflow starting",
		slog.String("workflow", workflow),
		slog.String("execution_id", executionID),
	)
}

// LogWorkflowComplete logs successful workflow completion.
func LogWorkflowComplete(logger *slog.Logger, workflow, executionID string, durationMs float64, stepCount int) {
	if logger == nil {
		return
	}
	logger.Info("workflow completed",
		slog.String("workflow", workflow),
		slog.String("execution_id", executionID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("steps_executed", stepCount),
	)
}

// LogWorkflowError logs workflow failure.
func LogWorkflowError(logger *slog.Logger, workflow, executionID string, err error, durationMs float64, failedStep string) {
	if logger == nil {
		return
	}
	logger.Error("workflow failed",
		slog.String("workflow", workflow),
		slog.String("execution_id", executionID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("failed_step", failedStep),
	)
}

// LogStepStart logs step execution start.
func LogStepStart(logger *slog.Logger, step string) {
	if logger == nil {
		return
	}
	logger.Debug("step starting",
		slog.String("step", step),
	)
}

// LogStepComplete logs successful step completion.
func LogStepComplete(logger *slog.Logger, step string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("step completed",
		slog.String("step", step),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStepError logs step execution error.
func LogStepError(logger *slog.Logger, step string, err error) {
	if logger == nil {
		return
	}
	logger.Error("step failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
}

// LogCompensation logs one compensation invocation.
func LogCompensation(logger *slog.Logger, step string, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("compensation failed",
			slog.String("step", step),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("compensation applied",
		slog.String("step", step),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in
// milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
