// Package observability provides production-grade observability features
// for givebus: structured logging, metrics, and distributed tracing.
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

// EnrichLogger adds event context to a logger.
// Returns a new logger with component, event_id, event_type, and
// correlation_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "hybrid-bus", evt.ID, evt.Type, evt.CorrelationID)
//	enriched.Info("forwarding event") // includes all four fields
func EnrichLogger(logger *slog.Logger, component, eventID, eventType, correlationID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("component", component),
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("correlation_id", correlationID),
	)
}

// LogPublish logs a successful publish.
func LogPublish(logger *slog.Logger, eventID, eventType string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("event published",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogPublishError logs a publish failure.
func LogPublishError(logger *slog.Logger, eventID, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event publish failed",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogHandlerError logs a handler failure (non-fatal to the publish).
func LogHandlerError(logger *slog.Logger, eventID, processor string, err error) {
	if logger == nil {
		return
	}
	logger.Error("handler failed",
		slog.String("event_id", eventID),
		slog.String("processor", processor),
		slog.String("error", err.Error()),
	)
}

// LogForwardSkipped logs a best-effort forward that was skipped or
// swallowed. The event remains durable in the store.
func LogForwardSkipped(logger *slog.Logger, eventID, target, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("remote forward skipped",
		slog.String("event_id", eventID),
		slog.String("target", target),
		slog.String("reason", reason),
	)
}

// LogBreakerTransition logs a circuit breaker state change.
func LogBreakerTransition(logger *slog.Logger, name, from, to string) {
	if logger == nil {
		return
	}
	logger.Info("circuit breaker state changed",
		slog.String("breaker", name),
		slog.String("from", from),
		slog.String("to", to),
	)
}

// LogDeadLetter logs an event entering the dead-letter queue.
func LogDeadLetter(logger *slog.Logger, eventID, processor string, failureCount int) {
	if logger == nil {
		return
	}
	logger.Warn("event dead-lettered",
		slog.String("event_id", eventID),
		slog.String("processor", processor),
		slog.Int("failure_count", failureCount),
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
		return float64(time.Since(start).Milliseconds())
	}
}
