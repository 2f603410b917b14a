// Package dlq captures events whose processors failed and supports
// reprocessing them later, individually or in bulk.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/givebus/givebus/pkg/givebus/event"
)

// ErrEntryNotFound is returned when a dead-letter entry does not exist.
var ErrEntryNotFound = errors.New("dead-letter entry not found")

// Entry is one failed event for one processor. The same event can have
// independent entries for different processors.
type Entry struct {
	Event         *event.Event
	Processor     string
	FailureCount  int
	LastError     string
	FirstFailedAt time.Time
	LastFailedAt  time.Time
}

// Store persists dead-letter entries, keyed by (event ID, processor).
type Store interface {
	// Save inserts or replaces an entry.
	Save(ctx context.Context, entry *Entry) error

	// Get returns the entry for an event and processor, or
	// ErrEntryNotFound.
	Get(ctx context.Context, eventID, processor string) (*Entry, error)

	// Delete removes an entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, eventID, processor string) error

	// List returns entries for a processor, oldest first failure first.
	// An empty processor lists everything.
	List(ctx context.Context, processor string) ([]*Entry, error)

	// Close releases store resources.
	Close() error
}

// Handler retries one dead-lettered event.
type Handler func(ctx context.Context, evt *event.Event) error

// ProcessorStats summarizes the queue for one processor.
type ProcessorStats struct {
	Entries       int
	TotalFailures int
	OldestFailure time.Time
}

// Result aggregates a bulk reprocess run.
type Result struct {
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []error
}

// Config configures a Manager.
type Config struct {
	// Store persists entries. Required.
	Store Store

	// Logger receives reprocessing logs. Default: slog.Default()
	Logger *slog.Logger
}

// Manager owns a dead-letter store and coordinates reprocessing.
// Concurrent reprocess calls claim entries so no entry is retried twice
// at once.
type Manager struct {
	store  Store
	logger *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool

	now func() time.Time
}

// NewManager creates a manager over a store.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("dlq: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		store:    cfg.Store,
		logger:   cfg.Logger,
		inFlight: make(map[string]bool),
		now:      time.Now,
	}, nil
}

// Add records a failed event for a processor. Repeated failures of the
// same event increment the failure count and keep the first failure time.
func (m *Manager) Add(ctx context.Context, evt *event.Event, processor string, cause error) error {
	now := m.now().UTC()

	entry, err := m.store.Get(ctx, evt.ID, processor)
	switch {
	case errors.Is(err, ErrEntryNotFound):
		entry = &Entry{
			Event:         evt.Clone(),
			Processor:     processor,
			FailureCount:  1,
			FirstFailedAt: now,
			LastFailedAt:  now,
		}
	case err != nil:
		return err
	default:
		entry.FailureCount++
		entry.LastFailedAt = now
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}

	if err := m.store.Save(ctx, entry); err != nil {
		return err
	}
	m.logger.Warn("event dead-lettered",
		slog.String("event_id", evt.ID),
		slog.String("event_type", evt.Type),
		slog.String("processor", processor),
		slog.Int("failure_count", entry.FailureCount),
	)
	return nil
}

// ReprocessEvent retries one entry through the handler. Success deletes
// the entry; failure increments its counters and returns the handler
// error. Returns ErrEntryNotFound for unknown entries.
func (m *Manager) ReprocessEvent(ctx context.Context, eventID, processor string, handler Handler) error {
	if !m.claim(eventID, processor) {
		return fmt.Errorf("dlq: entry %s/%s is already being reprocessed", eventID, processor)
	}
	defer m.release(eventID, processor)

	entry, err := m.store.Get(ctx, eventID, processor)
	if err != nil {
		return err
	}
	return m.retry(ctx, entry, handler)
}

// ReprocessAll retries every entry for a processor (or all processors
// when processor is empty), continuing past individual failures. Entries
// claimed by a concurrent reprocess are skipped and counted in Skipped.
func (m *Manager) ReprocessAll(ctx context.Context, processor string, handler Handler) (Result, error) {
	entries, err := m.store.List(ctx, processor)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, entry := range entries {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if !m.claim(entry.Event.ID, entry.Processor) {
			res.Skipped++
			continue
		}
		err := m.retry(ctx, entry, handler)
		m.release(entry.Event.ID, entry.Processor)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("reprocess %s/%s: %w", entry.Event.ID, entry.Processor, err))
			continue
		}
		res.Succeeded++
	}

	m.logger.Info("dead-letter queue reprocessed",
		slog.String("processor", processor),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

// Stats returns per-processor queue statistics.
func (m *Manager) Stats(ctx context.Context) (map[string]ProcessorStats, error) {
	entries, err := m.store.List(ctx, "")
	if err != nil {
		return nil, err
	}

	stats := make(map[string]ProcessorStats)
	for _, entry := range entries {
		s := stats[entry.Processor]
		s.Entries++
		s.TotalFailures += entry.FailureCount
		if s.OldestFailure.IsZero() || entry.FirstFailedAt.Before(s.OldestFailure) {
			s.OldestFailure = entry.FirstFailedAt
		}
		stats[entry.Processor] = s
	}
	return stats, nil
}

// Entries lists the current queue for a processor, oldest first.
func (m *Manager) Entries(ctx context.Context, processor string) ([]*Entry, error) {
	return m.store.List(ctx, processor)
}

func (m *Manager) retry(ctx context.Context, entry *Entry, handler Handler) error {
	if err := handler(ctx, entry.Event.Clone()); err != nil {
		entry.FailureCount++
		entry.LastFailedAt = m.now().UTC()
		entry.LastError = err.Error()
		if saveErr := m.store.Save(ctx, entry); saveErr != nil {
			return errors.Join(err, saveErr)
		}
		return err
	}
	if err := m.store.Delete(ctx, entry.Event.ID, entry.Processor); err != nil {
		return err
	}
	m.logger.Info("dead-lettered event recovered",
		slog.String("event_id", entry.Event.ID),
		slog.String("processor", entry.Processor),
		slog.Int("failure_count", entry.FailureCount),
	)
	return nil
}

func (m *Manager) claim(eventID, processor string) bool {
	key := eventID + "|" + processor
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[key] {
		return false
	}
	m.inFlight[key] = true
	return true
}

func (m *Manager) release(eventID, processor string) {
	m.mu.Lock()
	delete(m.inFlight, eventID+"|"+processor)
	m.mu.Unlock()
}

// sortEntries orders entries by first failure time, then event ID for
// a stable order. Store implementations share it.
func sortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].FirstFailedAt.Equal(entries[j].FirstFailedAt) {
			return entries[i].Event.ID < entries[j].Event.ID
		}
		return entries[i].FirstFailedAt.Before(entries[j].FirstFailedAt)
	})
}
