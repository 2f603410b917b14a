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

// MetricsRecorder records event-pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records one publish with its duration and error status.
	RecordPublish(ctx context.Context, eventType string, duration time.Duration, err error)

	// RecordHandlerFailure records a processor/handler failure.
	RecordHandlerFailure(ctx context.Context, eventType, processor string)

	// RecordBreakerTransition records a circuit breaker state change.
	RecordBreakerTransition(ctx context.Context, breaker, from, to string)

	// RecordDLQDepth records the current dead-letter queue depth for a
	// processor.
	RecordDLQDepth(ctx context.Context, processor string, depth int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	publishes          metric.Int64Counter
	publishLatency     metric.Float64Histogram
	publishErrors      metric.Int64Counter
	handlerFailures    metric.Int64Counter
	breakerTransitions metric.Int64Counter
	dlqDepth           metric.Int64Gauge
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("givebus")

	publishes, err := meter.Int64Counter("givebus.events.published",
		metric.WithDescription("Number of events published"),
	)
	if err != nil {
		return nil, err
	}

	publishLatency, err := meter.Float64Histogram("givebus.publish.latency_ms",
		metric.WithDescription("Publish latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	publishErrors, err := meter.Int64Counter("givebus.publish.errors",
		metric.WithDescription("Number of publish failures"),
	)
	if err != nil {
		return nil, err
	}

	handlerFailures, err := meter.Int64Counter("givebus.handler.failures",
		metric.WithDescription("Number of handler/processor failures"),
	)
	if err != nil {
		return nil, err
	}

	breakerTransitions, err := meter.Int64Counter("givebus.breaker.transitions",
		metric.WithDescription("Number of circuit breaker state transitions"),
	)
	if err != nil {
		return nil, err
	}

	dlqDepth, err := meter.Int64Gauge("givebus.dlq.depth",
		metric.WithDescription("Dead-letter queue depth per processor"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		publishes:          publishes,
		publishLatency:     publishLatency,
		publishErrors:      publishErrors,
		handlerFailures:    handlerFailures,
		breakerTransitions: breakerTransitions,
		dlqDepth:           dlqDepth,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records one publish.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventType string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}

	m.publishes.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.publishLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.publishErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordHandlerFailure records a handler failure.
func (m *otelMetrics) RecordHandlerFailure(ctx context.Context, eventType, processor string) {
	m.handlerFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("processor", processor),
	))
}

// RecordBreakerTransition records a breaker state change.
func (m *otelMetrics) RecordBreakerTransition(ctx context.Context, breaker, from, to string) {
	m.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordDLQDepth records the queue depth for a processor.
func (m *otelMetrics) RecordDLQDepth(ctx context.Context, processor string, depth int64) {
	m.dlqDepth.Record(ctx, depth, metric.WithAttributes(
		attribute.String("processor", processor),
	))
}
