// Package storage keeps a ledger of verification runs and per-contract results.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pendergraft/contraverify/internal/config"
)

// Run statuses
const (
	RunRunning = "running"
	RunPassed  = "passed"
	RunFailed  = "failed"
)

// RunStore handles run operations
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	LatestRun(ctx context.Context) (*Run, error)
}

// ResultStore handles per-contract result operations
type ResultStore interface {
	RecordResult(ctx context.Context, result *Result) error
	ListResults(ctx context.Context, filter ResultFilter) ([]Result, error)
}

// Store combines the ledger interfaces with lifecycle methods.
type Store interface {
	RunStore
	ResultStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Run is one invocation of the scheduler over a set of contracts
type Run struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Jobs       int        `json:"jobs"`
	Total      int        `json:"total"`
	Passed     int        `json:"passed"`
	Failed     int        `json:"failed"`
	Requeued   int        `json:"requeued"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Result is the outcome of verifying one contract within a run
type Result struct {
	ID         string    `json:"id"`
	RunID      string    `json:"runId"`
	ContractID string    `json:"contractId"`
	Address    string    `json:"address"`
	Network    string    `json:"network"`
	TxID       string    `json:"txid"`
	Compiler   string    `json:"compiler"`
	Passed     bool      `json:"passed"`
	Kind       string    `json:"kind,omitempty"` // error taxonomy kind, empty when passed
	Message    string    `json:"message,omitempty"`
	Warnings   int       `json:"warnings"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ResultFilter selects results for ListResults
type ResultFilter struct {
	RunID      string
	ContractID string
	FailedOnly bool
	Limit      int
}

// New creates a store based on configuration
func New(cfg config.ResultsConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	case "none":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown results store type: %s", cfg.Type)
	}
}

// NopStore discards everything and never finds anything
type NopStore struct{}

func (NopStore) CreateRun(context.Context, *Run) error                       { return nil }
func (NopStore) FinishRun(context.Context, *Run) error                       { return nil }
func (NopStore) GetRun(context.Context, string) (*Run, error)                { return nil, ErrNotFound }
func (NopStore) LatestRun(context.Context) (*Run, error)                     { return nil, ErrNotFound }
func (NopStore) RecordResult(context.Context, *Result) error                 { return nil }
func (NopStore) ListResults(context.Context, ResultFilter) ([]Result, error) { return nil, nil }
func (NopStore) Close() error                                                { return nil }
func (NopStore) Migrate(context.Context) error                               { return nil }
