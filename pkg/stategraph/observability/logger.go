// Package observability provides logging, metrics and tracing helpers for
// graph runs.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry or Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"context"
	"log/slog"
	"time"
)

// EnrichLogger adds run context to a logger.
// Returns a new logger with run_id and, when set, thread_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123", "thread-7")
//	enriched.Info("doing work") // includes run_id, thread_id
func EnrichLogger(logger *slog.Logger, runID, threadID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	logger = logger.With(slog.String("run_id", runID))
	if threadID != "" {
		logger = logger.With(slog.String("thread_id", threadID))
	}
	return logger
}

// LogRunStart logs the start of a graph run.
func LogRunStart(logger *slog.Logger, runID, startNode string) {
	if logger == nil {
		return
	}
	logger.Info("graph run starting",
		slog.String("run_id", runID),
		slog.String("start_node", startNode),
	)
}

// LogRunComplete logs successful graph run completion.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, steps int) {
	if logger == nil {
		return
	}
	logger.Info("graph run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("steps", steps),
	)
}

// LogRunError logs graph run failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("graph run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogRunTruncated logs a run that stopped at the iteration limit.
func LogRunTruncated(logger *slog.Logger, maxIterations int, nextNode string) {
	if logger == nil {
		return
	}
	logger.Warn("max iterations reached, returning truncated state",
		slog.Int("max_iterations", maxIterations),
		slog.String("next_node", nextNode),
	)
}

// LogNodeStart logs node execution start. Verbose runs log at info.
func LogNodeStart(logger *slog.Logger, node string, step int, verbose bool) {
	if logger == nil {
		return
	}
	level := slog.LevelDebug
	if verbose {
		level = slog.LevelInfo
	}
	logger.Log(context.Background(), level, "node starting",
		slog.String("node_id", node),
		slog.Int("step", step),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, node string, durationMs float64, verbose bool) {
	if logger == nil {
		return
	}
	level := slog.LevelDebug
	if verbose {
		level = slog.LevelInfo
	}
	logger.Log(context.Background(), level, "node completed",
		slog.String("node_id", node),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, node string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", node),
		slog.String("error", err.Error()),
	)
}

// LogInterrupt logs an interrupt that has no handler attached.
func LogInterrupt(logger *slog.Logger, message, node string, step int) {
	if logger == nil {
		return
	}
	logger.Info(message,
		slog.String("node_id", node),
		slog.Int("step", step),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, node string, step int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_id", node),
		slog.Int("step", step),
	)
}

// LogCheckpointError logs a checkpoint failure.
func LogCheckpointError(logger *slog.Logger, node string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("checkpoint failed",
		slog.String("node_id", node),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
