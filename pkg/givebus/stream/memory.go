package stream

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// MemoryLog is an in-memory Log.
// Suitable for testing and single-instance deployments.
type MemoryLog struct {
	mu      sync.RWMutex
	streams map[string][]Message
	nextID  int64

	// FailPings makes Ping fail this many times (test hook).
	failPings int
	// FailPublishes makes Publish fail this many times (test hook).
	failPublishes int
}

// NewMemoryLog creates an empty in-memory append log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{streams: make(map[string][]Message)}
}

// Publish appends fields to the named stream.
func (l *MemoryLog) Publish(_ context.Context, stream string, fields map[string]string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failPublishes > 0 {
		l.failPublishes--
		return "", errors.New("stream write unavailable")
	}

	l.nextID++
	id := strconv.FormatInt(l.nextID, 10)

	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	l.streams[stream] = append(l.streams[stream], Message{ID: id, Fields: copied})
	return id, nil
}

// Read returns up to count entries after lastID, in append order.
func (l *MemoryLog) Read(_ context.Context, stream, lastID string, count int) ([]Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.streams[stream]
	start := 0
	if lastID != "" {
		for i, msg := range entries {
			if msg.ID == lastID {
				start = i + 1
				break
			}
		}
	}

	end := len(entries)
	if count > 0 && start+count < end {
		end = start + count
	}

	result := make([]Message, end-start)
	copy(result, entries[start:end])
	return result, nil
}

// Ping verifies connectivity.
func (l *MemoryLog) Ping(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failPings > 0 {
		l.failPings--
		return errors.New("stream unavailable")
	}
	return nil
}

// Close releases resources.
func (l *MemoryLog) Close() error { return nil }

// Len returns the number of entries in a stream.
func (l *MemoryLog) Len(stream string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.streams[stream])
}

// FailNextPings makes the next n pings fail.
func (l *MemoryLog) FailNextPings(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failPings = n
}

// FailNextPublishes makes the next n publishes fail.
func (l *MemoryLog) FailNextPublishes(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failPublishes = n
}

// Compile-time check that MemoryLog implements Log.
var _ Log = (*MemoryLog)(nil)
