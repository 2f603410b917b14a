package saga

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createSagaTablesSQL = `
CREATE TABLE IF NOT EXISTS sagas (
	id           TEXT PRIMARY KEY,
	saga_type    TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	current_step INTEGER NOT NULL,
	started_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sagas_type ON sagas(saga_type);

CREATE TABLE IF NOT EXISTS saga_steps (
	saga_id     TEXT NOT NULL,
	step_index  INTEGER NOT NULL,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	PRIMARY KEY (saga_id, step_index)
);
`

// SQLiteStore persists saga instances in SQLite so progress and outcomes
// survive restarts and can be inspected by operators.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) a SQLite-backed saga store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open saga database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(createSagaTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create saga schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, inst *Instance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sagas
			(id, saga_type, aggregate_id, status, current_step, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.Type, inst.AggregateID, string(inst.Status), inst.CurrentStep,
		formatTime(inst.StartedAt), formatTime(inst.FinishedAt),
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM saga_steps WHERE saga_id = ?`, inst.ID); err != nil {
		return err
	}
	for i, rec := range inst.Steps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO saga_steps
				(saga_id, step_index, name, status, error, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			inst.ID, i, rec.Name, string(rec.Status), rec.Error,
			formatTime(rec.StartedAt), formatTime(rec.FinishedAt),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, saga_type, aggregate_id, status, current_step, started_at, finished_at
		FROM sagas WHERE id = ?`, id)

	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadSteps(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *SQLiteStore) List(ctx context.Context, sagaType string) ([]*Instance, error) {
	query := `
		SELECT id, saga_type, aggregate_id, status, current_step, started_at, finished_at
		FROM sagas`
	args := []any{}
	if sagaType != "" {
		query += ` WHERE saga_type = ?`
		args = append(args, sagaType)
	}
	query += ` ORDER BY started_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, inst := range out {
		if err := s.loadSteps(ctx, inst); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) loadSteps(ctx context.Context, inst *Instance) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, status, error, started_at, finished_at
		FROM saga_steps WHERE saga_id = ? ORDER BY step_index`, inst.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec                 StepRecord
			status              string
			startedRaw, doneRaw string
		)
		if err := rows.Scan(&rec.Name, &status, &rec.Error, &startedRaw, &doneRaw); err != nil {
			return err
		}
		rec.Status = StepStatus(status)
		if rec.StartedAt, err = parseTime(startedRaw); err != nil {
			return err
		}
		if rec.FinishedAt, err = parseTime(doneRaw); err != nil {
			return err
		}
		inst.Steps = append(inst.Steps, rec)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*Instance, error) {
	var (
		inst                Instance
		status              string
		startedRaw, doneRaw string
	)
	err := row.Scan(&inst.ID, &inst.Type, &inst.AggregateID, &status, &inst.CurrentStep, &startedRaw, &doneRaw)
	if err != nil {
		return nil, err
	}
	inst.Status = Status(status)
	if inst.StartedAt, err = parseTime(startedRaw); err != nil {
		return nil, err
	}
	if inst.FinishedAt, err = parseTime(doneRaw); err != nil {
		return nil, err
	}
	return &inst, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
