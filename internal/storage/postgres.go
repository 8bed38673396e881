package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Runs
	CREATE TABLE IF NOT EXISTS runs (
		id UUID PRIMARY KEY,
		status TEXT NOT NULL,
		jobs INTEGER NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		requeued INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);

	-- Results
	CREATE TABLE IF NOT EXISTS results (
		id UUID PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		contract_id TEXT NOT NULL,
		address TEXT NOT NULL,
		network TEXT NOT NULL,
		txid TEXT NOT NULL,
		compiler TEXT NOT NULL,
		passed BOOLEAN NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		warnings INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);

	-- Indexes
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
func (s *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
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
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query, run.ID, run.Status, run.Jobs, run.Total, run.StartedAt)
	return err
}

// FinishRun stores the final counts of a running run and marks it finished
func (s *PostgresStore) FinishRun(ctx context.Context, run *Run) error {
	now := time.Now()
	status := runStatus(run)

	query := `
		UPDATE runs SET status = $1, total = $2, passed = $3, failed = $4, requeued = $5, finished_at = $6
		WHERE id = $7 AND status = $8
	`
	res, err := s.db.ExecContext(ctx, query, status, run.Total, run.Passed, run.Failed, run.Requeued, now, run.ID, RunRunning)
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
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if !isUUID(id) {
		return nil, ErrNotFound
	}
	query := `
		SELECT id, status, jobs, total, passed, failed, requeued, started_at, finished_at
		FROM runs
		WHERE id = $1
	`
	return scanPostgresRun(s.db.QueryRowContext(ctx, query, id))
}

// LatestRun retrieves the most recently started run
func (s *PostgresStore) LatestRun(ctx context.Context) (*Run, error) {
	query := `
		SELECT id, status, jobs, total, passed, failed, requeued, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT 1
	`
	return scanPostgresRun(s.db.QueryRowContext(ctx, query))
}

func scanPostgresRun(row *sql.Row) (*Run, error) {
	var run Run
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.Status, &run.Jobs, &run.Total, &run.Passed, &run.Failed, &run.Requeued, &run.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

// RecordResult stores the outcome of one contract
func (s *PostgresStore) RecordResult(ctx context.Context, result *Result) error {
	if result.ID == "" {
		result.ID = generateID()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO results (id, run_id, contract_id, address, network, txid, compiler, passed, kind, message, warnings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		result.ID, result.RunID, result.ContractID, result.Address, result.Network, result.TxID, result.Compiler,
		result.Passed, result.Kind, result.Message, result.Warnings, result.CreatedAt,
	)
	return err
}

// ListResults lists results matching the filter in the order they were recorded
func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]Result, error) {
	var where []string
	var args []any

	if filter.RunID != "" {
		if !isUUID(filter.RunID) {
			return nil, nil
		}
		args = append(args, filter.RunID)
		where = append(where, fmt.Sprintf("run_id = $%d", len(args)))
	}
	if filter.ContractID != "" {
		args = append(args, filter.ContractID)
		where = append(where, fmt.Sprintf("contract_id = $%d", len(args)))
	}
	if filter.FailedOnly {
		where = append(where, "NOT passed")
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
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.ContractID, &r.Address, &r.Network, &r.TxID, &r.Compiler,
			&r.Passed, &r.Kind, &r.Message, &r.Warnings, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// isUUID reports whether id can be compared against a UUID column
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
