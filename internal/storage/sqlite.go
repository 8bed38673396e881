package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Reporters record results from several slots at once
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Runs
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		jobs INTEGER NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		requeued INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	-- Results
	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		contract_id TEXT NOT NULL,
		address TEXT NOT NULL,
		network TEXT NOT NULL,
		txid TEXT NOT NULL,
		compiler TEXT NOT NULL,
		passed INTEGER NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		warnings INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);
	CREATE INDEX IF NOT EXISTS idx_results_contract ON results(contract_id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// CreateRun records the start of a run, assigning an ID when it has none
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = generateID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = RunRunning
	run.FinishedAt = nil

	query := `
		INSERT INTO runs (id, status, jobs, total, started_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, run.ID, run.Status, run.Jobs, run.Total, formatTime(run.StartedAt))
	return err
}

// FinishRun stores the final counts of a running run and marks it finished
func (s *SQLiteStore) FinishRun(ctx context.Context, run *Run) error {
	now := time.Now()
	status := runStatus(run)

	query := `
		UPDATE runs SET status = ?, total = ?, passed = ?, failed = ?, requeued = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := s.db.ExecContext(ctx, query, status, run.Total, run.Passed, run.Failed, run.Requeued, formatTime(now), run.ID, RunRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetRun(ctx, run.ID); err != nil {
			return err
		}
		return ErrRunFinished
	}

	run.Status = status
	run.FinishedAt = &now
	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, status, jobs, total, passed, failed, requeued, started_at, finished_at
		FROM runs
		WHERE id = ?
	`
	return s.scanRun(s.db.QueryRowContext(ctx, query, id))
}

// LatestRun retrieves the most recently started run
func (s *SQLiteStore) LatestRun(ctx context.Context) (*Run, error) {
	query := `
		SELECT id, status, jobs, total, passed, failed, requeued, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT 1
	`
	return s.scanRun(s.db.QueryRowContext(ctx, query))
}

func (s *SQLiteStore) scanRun(row *sql.Row) (*Run, error) {
	var run Run
	var started string
	var finished sql.NullString
	err := row.Scan(&run.ID, &run.Status, &run.Jobs, &run.Total, &run.Passed, &run.Failed, &run.Requeued, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		run.FinishedAt = &t
	}
	return &run, nil
}

// RecordResult stores the outcome of one contract
func (s *SQLiteStore) RecordResult(ctx context.Context, result *Result) error {
	if result.ID == "" {
		result.ID = generateID()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO results (id, run_id, contract_id, address, network, txid, compiler, passed, kind, message, warnings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		result.ID, result.RunID, result.ContractID, result.Address, result.Network, result.TxID, result.Compiler,
		result.Passed, result.Kind, result.Message, result.Warnings, formatTime(result.CreatedAt),
	)
	return err
}

// ListResults lists results matching the filter in the order they were recorded
func (s *SQLiteStore) ListResults(ctx context.Context, filter ResultFilter) ([]Result, error) {
	var where []string
	var args []any

	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.ContractID != "" {
		where = append(where, "contract_id = ?")
		args = append(args, filter.ContractID)
	}
	if filter.FailedOnly {
		where = append(where, "passed = 0")
	}

	query := `
		SELECT id, run_id, contract_id, address, network, txid, compiler, passed, kind, message, warnings, created_at
		FROM results
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var created string
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.ContractID, &r.Address, &r.Network, &r.TxID, &r.Compiler,
			&r.Passed, &r.Kind, &r.Message, &r.Warnings, &created,
		); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
