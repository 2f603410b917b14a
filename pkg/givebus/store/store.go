// Package store provides the append-only persistent event log.
//
// Save and SaveBatch are the sole write paths; all reads are filtered
// projections sorted by occurrence time. Events are never updated in
// place - corrections are new events.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/givebus/givebus/pkg/givebus/event"
)

// ErrStoreClosed is returned when operating on a closed store.
var ErrStoreClosed = errors.New("event store is closed")

// Store is the durable event log shared across processes.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save appends a single event.
	Save(ctx context.Context, evt *event.Event) error

	// SaveBatch appends events as one write.
	SaveBatch(ctx context.Context, events []*event.Event) error

	// Events returns events occurring at or after from, oldest first.
	// A zero from returns everything.
	Events(ctx context.Context, from time.Time) ([]*event.Event, error)

	// EventsByType returns events of the exact type, oldest first.
	EventsByType(ctx context.Context, eventType string) ([]*event.Event, error)

	// EventsByCorrelation returns events sharing a correlation ID, oldest first.
	EventsByCorrelation(ctx context.Context, correlationID string) ([]*event.Event, error)

	// EventsByAggregate returns events whose derived aggregate ID matches,
	// oldest first.
	EventsByAggregate(ctx context.Context, aggregateID string) ([]*event.Event, error)

	// Close releases resources.
	Close() error
}

// aggregateKeys are the payload fields an aggregate ID is derived from,
// in priority order. First match wins.
var aggregateKeys = []string{"userId", "campaignId", "donationId", "organizationId", "projectId"}

// AggregateID derives the aggregate identifier from an event's payload.
// Returns "" when no known key is present.
func AggregateID(evt *event.Event) string {
	for _, key := range aggregateKeys {
		if id, ok := evt.PayloadString(key); ok && id != "" {
			return id
		}
	}
	return ""
}
