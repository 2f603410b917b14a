package dlq

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/givebus/givebus/pkg/givebus/event"
)

const createDLQTableSQL = `
CREATE TABLE IF NOT EXISTS dlq_entries (
	event_id        TEXT NOT NULL,
	processor       TEXT NOT NULL,
	failure_count   INTEGER NOT NULL,
	last_error      TEXT NOT NULL DEFAULT '',
	first_failed_at TEXT NOT NULL,
	last_failed_at  TEXT NOT NULL,
	event           BLOB NOT NULL,
	PRIMARY KEY (event_id, processor)
);
CREATE INDEX IF NOT EXISTS idx_dlq_processor ON dlq_entries(processor);
`

// SQLiteStore persists dead-letter entries in SQLite so failed events
// survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) a SQLite-backed dead-letter
// store at path. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open dlq database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(createDLQTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create dlq schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, entry *Entry) error {
	raw, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", entry.Event.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO dlq_entries
			(event_id, processor, failure_count, last_error, first_failed_at, last_failed_at, event)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Event.ID,
		entry.Processor,
		entry.FailureCount,
		entry.LastError,
		entry.FirstFailedAt.UTC().Format(time.RFC3339Nano),
		entry.LastFailedAt.UTC().Format(time.RFC3339Nano),
		raw,
	)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, eventID, processor string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, processor, failure_count, last_error, first_failed_at, last_failed_at, event
		FROM dlq_entries WHERE event_id = ? AND processor = ?`,
		eventID, processor,
	)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	return entry, err
}

func (s *SQLiteStore) Delete(ctx context.Context, eventID, processor string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM dlq_entries WHERE event_id = ? AND processor = ?`,
		eventID, processor,
	)
	return err
}

func (s *SQLiteStore) List(ctx context.Context, processor string) ([]*Entry, error) {
	query := `
		SELECT event_id, processor, failure_count, last_error, first_failed_at, last_failed_at, event
		FROM dlq_entries`
	args := []any{}
	if processor != "" {
		query += ` WHERE processor = ?`
		args = append(args, processor)
	}
	query += ` ORDER BY first_failed_at, event_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry            Entry
		eventID          string
		firstRaw, lastRaw string
		raw              []byte
	)
	if err := row.Scan(&eventID, &entry.Processor, &entry.FailureCount, &entry.LastError, &firstRaw, &lastRaw, &raw); err != nil {
		return nil, err
	}

	var evt event.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", eventID, err)
	}
	entry.Event = &evt

	var err error
	if entry.FirstFailedAt, err = time.Parse(time.RFC3339Nano, firstRaw); err != nil {
		return nil, fmt.Errorf("parse first_failed_at for %s: %w", eventID, err)
	}
	if entry.LastFailedAt, err = time.Parse(time.RFC3339Nano, lastRaw); err != nil {
		return nil, fmt.Errorf("parse last_failed_at for %s: %w", eventID, err)
	}
	return &entry, nil
}
