// Package processor contains the idempotent write processors that react
// to published events: the campaign write table, its CQRS projections,
// subscriptions, role assignments, payouts, image metadata and project
// updates. Every processor is guarded by the idempotency tracker so a
// redelivered event is applied at most once.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/givebus/givebus/pkg/givebus/bus"
	"github.com/givebus/givebus/pkg/givebus/event"
	"github.com/givebus/givebus/pkg/givebus/idempotency"
)

// Processor is one idempotent write handler. EventTypes returns the
// type patterns it subscribes to (exact types or namespace wildcards).
type Processor interface {
	Name() string
	EventTypes() []string
	Handle(ctx context.Context, evt *event.Event) error
}

// Deps carries the shared collaborators every processor needs.
type Deps struct {
	Tracker *idempotency.Tracker
	Logger  *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// runIdempotent is the claim-guard wrapper shared by all processors:
// claim the (event, processor) slot, run the write, record the terminal
// marker, and rethrow write failures so the bus error middleware and the
// dead-letter queue see them. A duplicate delivery returns nil early.
func runIdempotent(ctx context.Context, d Deps, name string, evt *event.Event, write func(ctx context.Context) error) error {
	if d.Tracker != nil && !d.Tracker.ShouldProcess(evt.ID, name) {
		d.logger().Debug("duplicate event skipped",
			slog.String("event_id", evt.ID),
			slog.String("event_type", evt.Type),
			slog.String("processor", name),
		)
		return nil
	}

	if err := write(ctx); err != nil {
		if d.Tracker != nil {
			d.Tracker.MarkFailed(evt.ID, name, err.Error())
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	if d.Tracker != nil {
		d.Tracker.MarkComplete(evt.ID, name)
	}
	return nil
}

// RegisterAll subscribes each processor's Handle to the bus under every
// pattern it declares. The returned closure unsubscribes them all.
func RegisterAll(b *bus.Bus, processors ...Processor) func() {
	var unsubs []func()
	for _, p := range processors {
		p := p
		for _, pattern := range p.EventTypes() {
			unsubs = append(unsubs, b.Subscribe(pattern, p.Handle))
		}
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// requireString pulls a required string field out of the payload.
func requireString(evt *event.Event, key string) (string, error) {
	v, ok := evt.PayloadString(key)
	if !ok || v == "" {
		return "", &event.ValidationError{
			EventID:   evt.ID,
			EventType: evt.Type,
			Field:     key,
			Message:   "required payload field is missing",
		}
	}
	return v, nil
}

// payloadFloat reads a numeric payload field, tolerating the numeric
// shapes JSON decoding produces.
func payloadFloat(evt *event.Event, key string) (float64, bool) {
	v, ok := evt.Payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
