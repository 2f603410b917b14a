package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/givebus/givebus/pkg/givebus/event"
)

// MemoryStore is an in-memory Store.
// Suitable for testing and single-instance deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*event.Event
	closed bool
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save appends a single event.
func (s *MemoryStore) Save(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.events = append(s.events, evt.Clone())
	return nil
}

// SaveBatch appends events as one write.
func (s *MemoryStore) SaveBatch(_ context.Context, events []*event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	for _, evt := range events {
		s.events = append(s.events, evt.Clone())
	}
	return nil
}

// Events returns events occurring at or after from, oldest first.
func (s *MemoryStore) Events(_ context.Context, from time.Time) ([]*event.Event, error) {
	return s.filter(func(evt *event.Event) bool {
		return from.IsZero() || !evt.Timestamp.Before(from)
	})
}

// EventsByType returns events of the exact type, oldest first.
func (s *MemoryStore) EventsByType(_ context.Context, eventType string) ([]*event.Event, error) {
	return s.filter(func(evt *event.Event) bool {
		return evt.Type == eventType
	})
}

// EventsByCorrelation returns events sharing a correlation ID, oldest first.
func (s *MemoryStore) EventsByCorrelation(_ context.Context, correlationID string) ([]*event.Event, error) {
	return s.filter(func(evt *event.Event) bool {
		return evt.CorrelationID == correlationID
	})
}

// EventsByAggregate returns events whose derived aggregate ID matches.
func (s *MemoryStore) EventsByAggregate(_ context.Context, aggregateID string) ([]*event.Event, error) {
	return s.filter(func(evt *event.Event) bool {
		return AggregateID(evt) == aggregateID
	})
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) filter(keep func(*event.Event) bool) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var result []*event.Event
	for _, evt := range s.events {
		if keep(evt) {
			result = append(result, evt.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
