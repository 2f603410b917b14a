package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/givebus/givebus/pkg/givebus/event"
)

// SQLiteStore persists the event log to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (and migrates) an event log at the given path.
// Use ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			occurred_at INTEGER NOT NULL, -- unix nanoseconds
			version TEXT NOT NULL,
			correlation_id TEXT,
			causation_id TEXT,
			aggregate_id TEXT,
			payload BLOB,
			metadata BLOB
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}

	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_aggregate ON events(aggregate_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_occurred ON events(occurred_at)`,
	} {
		if _, err := db.Exec(idx); err != nil {
			db.Close()
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

const insertEventSQL = `
	INSERT INTO events (id, type, occurred_at, version, correlation_id, causation_id, aggregate_id, payload, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Save appends a single event.
func (s *SQLiteStore) Save(ctx context.Context, evt *event.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	payload, metadata, err := encodeEvent(evt)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, insertEventSQL,
		evt.ID, evt.Type, evt.Timestamp.UnixNano(), evt.Version,
		evt.CorrelationID, evt.CausationID, AggregateID(evt), payload, metadata)
	if err != nil {
		return fmt.Errorf("save event %s: %w", evt.ID, err)
	}
	return nil
}

// SaveBatch appends events inside one transaction.
func (s *SQLiteStore) SaveBatch(ctx context.Context, events []*event.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, evt := range events {
		payload, metadata, err := encodeEvent(evt)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			evt.ID, evt.Type, evt.Timestamp.UnixNano(), evt.Version,
			evt.CorrelationID, evt.CausationID, AggregateID(evt), payload, metadata); err != nil {
			return fmt.Errorf("save event %s: %w", evt.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Events returns events occurring at or after from, oldest first.
func (s *SQLiteStore) Events(ctx context.Context, from time.Time) ([]*event.Event, error) {
	if from.IsZero() {
		return s.query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY occurred_at`)
	}
	return s.query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE occurred_at >= ? ORDER BY occurred_at`,
		from.UnixNano())
}

// EventsByType returns events of the exact type, oldest first.
func (s *SQLiteStore) EventsByType(ctx context.Context, eventType string) ([]*event.Event, error) {
	return s.query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE type = ? ORDER BY occurred_at`, eventType)
}

// EventsByCorrelation returns events sharing a correlation ID, oldest first.
func (s *SQLiteStore) EventsByCorrelation(ctx context.Context, correlationID string) ([]*event.Event, error) {
	return s.query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE correlation_id = ? ORDER BY occurred_at`, correlationID)
}

// EventsByAggregate returns events for one aggregate, oldest first.
func (s *SQLiteStore) EventsByAggregate(ctx context.Context, aggregateID string) ([]*event.Event, error) {
	return s.query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE aggregate_id = ? ORDER BY occurred_at`, aggregateID)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

const eventColumns = `id, type, occurred_at, version, correlation_id, causation_id, payload, metadata`

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []*event.Event
	for rows.Next() {
		var (
			evt        event.Event
			occurredAt int64
			payload    []byte
			metadata   []byte
		)
		if err := rows.Scan(&evt.ID, &evt.Type, &occurredAt, &evt.Version,
			&evt.CorrelationID, &evt.CausationID, &payload, &metadata); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Timestamp = time.Unix(0, occurredAt).UTC()

		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &evt.Payload); err != nil {
				return nil, fmt.Errorf("decode payload for %s: %w", evt.ID, err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &evt.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", evt.ID, err)
			}
		}
		result = append(result, &evt)
	}
	return result, rows.Err()
}

func encodeEvent(evt *event.Event) (payload, metadata []byte, err error) {
	if evt.Payload != nil {
		payload, err = json.Marshal(evt.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("encode payload for %s: %w", evt.ID, err)
		}
	}
	if evt.Metadata != nil {
		metadata, err = json.Marshal(evt.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("encode metadata for %s: %w", evt.ID, err)
		}
	}
	return payload, metadata, nil
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
