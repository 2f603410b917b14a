package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/givebus/givebus/pkg/givebus/event"
)

// Middleware hooks into the publish pipeline. All fields are optional.
type Middleware struct {
	// Name identifies the middleware in logs.
	Name string

	// BeforePublish runs before persistence and dispatch. Returning an
	// error rejects the event.
	BeforePublish func(ctx context.Context, evt *event.Event) error

	// AfterPublish runs after dispatch completes, regardless of handler
	// outcomes.
	AfterPublish func(ctx context.Context, evt *event.Event)

	// OnError runs for every handler or before-publish failure.
	OnError func(ctx context.Context, evt *event.Event, err error)
}

// ValidationMiddleware rejects events that fail schema validation against
// the registry. Unknown event types are rejected too, so every type that
// flows through the bus must be registered.
func ValidationMiddleware(registry *event.Registry) Middleware {
	return Middleware{
		Name: "validation",
		BeforePublish: func(ctx context.Context, evt *event.Event) error {
			return registry.Validate(evt)
		},
	}
}

// LoggingMiddleware logs every publish and every failure.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return Middleware{
		Name: "logging",
		BeforePublish: func(ctx context.Context, evt *event.Event) error {
			logger.Debug("publishing event",
				slog.String("event_id", evt.ID),
				slog.String("event_type", evt.Type),
				slog.String("correlation_id", evt.CorrelationID),
			)
			return nil
		},
		AfterPublish: func(ctx context.Context, evt *event.Event) {
			logger.Info("event published",
				slog.String("event_id", evt.ID),
				slog.String("event_type", evt.Type),
			)
		},
		OnError: func(ctx context.Context, evt *event.Event, err error) {
			logger.Error("event handling failed",
				slog.String("event_id", evt.ID),
				slog.String("event_type", evt.Type),
				slog.String("error", err.Error()),
			)
		},
	}
}

// TimingMiddleware records wall-clock publish latency through the given
// observer callback. The observer receives the event type and the elapsed
// time between before- and after-publish. Start times live in the
// middleware, keyed by event id, so nothing transient touches the event
// or its persisted form.
func TimingMiddleware(observe func(eventType string, elapsed time.Duration)) Middleware {
	var mu sync.Mutex
	started := make(map[string]time.Time)
	return Middleware{
		Name: "timing",
		BeforePublish: func(ctx context.Context, evt *event.Event) error {
			now := time.Now()
			mu.Lock()
			// Entries for events rejected by a later middleware never
			// see AfterPublish; sweep anything old enough that its
			// publish cannot still be in flight.
			for id, t := range started {
				if now.Sub(t) > time.Minute {
					delete(started, id)
				}
			}
			started[evt.ID] = now
			mu.Unlock()
			return nil
		},
		AfterPublish: func(ctx context.Context, evt *event.Event) {
			mu.Lock()
			start, ok := started[evt.ID]
			delete(started, evt.ID)
			mu.Unlock()
			if ok {
				observe(evt.Type, time.Since(start))
			}
		},
	}
}
