// Package idempotency provides time-bounded de-duplication for event
// processors. A processor asks ShouldProcess before applying side effects;
// the first caller for a given (event, processor) pair claims the slot and
// later callers are refused until the record expires.
package idempotency

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle state of an idempotency record.
type Status string

const (
	// StatusProcessing marks a claimed slot whose work is still running.
	StatusProcessing Status = "processing"
	// StatusCompleted marks successfully applied side effects.
	StatusCompleted Status = "completed"
	// StatusFailed marks failed processing; the record value carries the
	// reason as "failed:<reason>".
	StatusFailed Status = "failed"
)

// Config configures a Tracker.
type Config struct {
	// ProcessingTTL is the lease on a "processing" marker. A processor
	// that crashes mid-write leaves a marker that expires and allows a
	// safe retry on redelivery. Default: 5 minutes
	ProcessingTTL time.Duration

	// CompletedTTL is how long terminal markers live. After expiry,
	// redelivery is treated as novel; the event store remains the durable
	// record of truth. Default: 24 hours
	CompletedTTL time.Duration

	// SweepInterval is how often expired entries are removed.
	// Default: 1 minute
	SweepInterval time.Duration

	// Logger receives sweep logs. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	ProcessingTTL: 5 * time.Minute,
	CompletedTTL:  24 * time.Hour,
	SweepInterval: time.Minute,
}

type record struct {
	value     string
	expiresAt time.Time
}

// Tracker is an in-memory, process-local de-duplication cache keyed by
// (eventID, processorName). It is a single-writer structure guarded by
// its own mutex; no cross-component locking is required.
type Tracker struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]record

	stopOnce sync.Once
	stopCh   chan struct{}

	now func() time.Time
}

// NewTracker creates a tracker and starts its background sweep.
// Call Close to stop the sweep goroutine.
func NewTracker(cfg Config) *Tracker {
	if cfg.ProcessingTTL <= 0 {
		cfg.ProcessingTTL = DefaultConfig.ProcessingTTL
	}
	if cfg.CompletedTTL <= 0 {
		cfg.CompletedTTL = DefaultConfig.CompletedTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig.SweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Tracker{
		cfg:     cfg,
		entries: make(map[string]record),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go t.sweep()
	return t
}

// ShouldProcess reports whether the processor may apply the event's side
// effects. The first caller for a live key claims the slot by writing a
// processing marker and gets true; concurrent or later callers during the
// live window get false regardless of the record's value.
func (t *Tracker) ShouldProcess(eventID, processor string) bool {
	key := trackerKey(eventID, processor)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.entries[key]; ok && rec.expiresAt.After(now) {
		return false
	}
	t.entries[key] = record{
		value:     string(StatusProcessing),
		expiresAt: now.Add(t.cfg.ProcessingTTL),
	}
	return true
}

// MarkComplete overwrites the marker with a longer-lived completed value.
func (t *Tracker) MarkComplete(eventID, processor string) {
	t.setTerminal(eventID, processor, string(StatusCompleted))
}

// MarkFailed overwrites the marker with a longer-lived failed value
// carrying the reason.
func (t *Tracker) MarkFailed(eventID, processor, reason string) {
	t.setTerminal(eventID, processor, string(StatusFailed)+":"+reason)
}

// Clear removes the record for the key so the next delivery is treated
// as novel. Used by manual reprocessing paths that deliberately retry a
// failed event.
func (t *Tracker) Clear(eventID, processor string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, trackerKey(eventID, processor))
}

// Status returns the live record value for the key, if any.
func (t *Tracker) Status(eventID, processor string) (Status, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.entries[trackerKey(eventID, processor)]
	if !ok || !rec.expiresAt.After(t.now()) {
		return "", "", false
	}
	if reason, found := strings.CutPrefix(rec.value, string(StatusFailed)+":"); found {
		return StatusFailed, reason, true
	}
	return Status(rec.value), "", true
}

// Len returns the number of entries, including expired ones not yet swept.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close stops the background sweep.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *Tracker) setTerminal(eventID, processor, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[trackerKey(eventID, processor)] = record{
		value:     value,
		expiresAt: t.now().Add(t.cfg.CompletedTTL),
	}
}

func (t *Tracker) sweep() {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.removeExpired()
		case <-t.stopCh:
			return
		}
	}
}

func (t *Tracker) removeExpired() {
	now := t.now()

	t.mu.Lock()
	removed := 0
	for key, rec := range t.entries {
		if !rec.expiresAt.After(now) {
			delete(t.entries, key)
			removed++
		}
	}
	remaining := len(t.entries)
	t.mu.Unlock()

	if removed > 0 {
		t.cfg.Logger.Debug("idempotency sweep",
			slog.Int("removed", removed),
			slog.Int("remaining", remaining),
		)
	}
}

func trackerKey(eventID, processor string) string {
	return eventID + "|" + processor
}
