// Package runstore records evaluation runs and their per-step metrics in
// SQLite.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

var ErrNotInitialized = errors.New("runstore: store is not initialized")

// Run is one invocation of eval or sample.
type Run struct {
	ID         string
	Kind       string
	Config     map[string]any
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    map[string]float64
}

// Step is the outcome of one batch.
type Step struct {
	RunID     string
	Split     string
	Batch     int
	Loss      float64
	Monitored bool
	F1Samples float64
	F1Det     float64
}

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("runstore: sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	s.db = db
	return nil
}

// StartRun inserts a run. StartedAt defaults to now.
func (s *SQLiteStore) StartRun(ctx context.Context, run Run) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if run.ID == "" {
		return errors.New("runstore: run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encode run config: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, config, started_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.Kind, cfg, run.StartedAt.Format(time.RFC3339Nano))
	return err
}

// LogStep appends or replaces the metrics of one batch.
func (s *SQLiteStore) LogStep(ctx context.Context, step Step) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO steps (run_id, split, batch, loss, monitored, f1_samples, f1_det)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, split, batch) DO UPDATE SET
			loss = excluded.loss,
			monitored = excluded.monitored,
			f1_samples = excluded.f1_samples,
			f1_det = excluded.f1_det
	`, step.RunID, step.Split, step.Batch, step.Loss, step.Monitored, step.F1Samples, step.F1Det)
	return err
}

// FinishRun stores the summary and the finish time.
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, summary map[string]float64) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE runs SET summary = ?, finished_at = ? WHERE id = ?
	`, payload, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("runstore: unknown run %s", id)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Run{}, false, err
	}
	row := db.QueryRowContext(ctx, `
		SELECT id, kind, config, started_at, finished_at, summary FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	return run, true, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, config, started_at, finished_at, summary FROM runs
		ORDER BY started_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Steps(ctx context.Context, runID string) ([]Step, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, split, batch, loss, monitored, f1_samples, f1_det FROM steps
		WHERE run_id = ? ORDER BY split, batch
	`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var steps []Step
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.RunID, &st.Split, &st.Batch, &st.Loss, &st.Monitored, &st.F1Samples, &st.F1Det); err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run      Run
		cfg      []byte
		started  string
		finished sql.NullString
		summary  []byte
	)
	if err := row.Scan(&run.ID, &run.Kind, &cfg, &started, &finished, &summary); err != nil {
		return Run{}, err
	}
	var err error
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("run %s: started_at: %w", run.ID, err)
	}
	if finished.Valid {
		if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished.String); err != nil {
			return Run{}, fmt.Errorf("run %s: finished_at: %w", run.ID, err)
		}
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &run.Config); err != nil {
			return Run{}, fmt.Errorf("decode run %s config: %w", run.ID, err)
		}
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &run.Summary); err != nil {
			return Run{}, fmt.Errorf("decode run %s summary: %w", run.ID, err)
		}
	}
	return run, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			config BLOB,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			summary BLOB
		);
		CREATE TABLE IF NOT EXISTS steps (
			run_id TEXT NOT NULL REFERENCES runs(id),
			split TEXT NOT NULL,
			batch INTEGER NOT NULL,
			loss REAL NOT NULL,
			monitored INTEGER NOT NULL,
			f1_samples REAL NOT NULL,
			f1_det REAL NOT NULL,
			PRIMARY KEY (run_id, split, batch)
		);
	`)
	return err
}
