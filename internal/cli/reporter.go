package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/pendergraft/contraverify/internal/records"
	"github.com/pendergraft/contraverify/internal/scheduler"
	"github.com/pendergraft/contraverify/internal/storage"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

const (
	symbolPass = "✔"
	symbolFail = "✖"
)

// consoleReporter prints one progress line per contract:
// <percent>% <timestamp> <address> <txid> <network>
type consoleReporter struct {
	mu      sync.Mutex
	w       io.Writer
	symbols bool
}

func newConsoleReporter(w io.Writer) *consoleReporter {
	return &consoleReporter{w: w, symbols: isTerminal(w)}
}

// isTerminal reports whether w is a terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (r *consoleReporter) Passed(p scheduler.Progress) {
	r.print(symbolPass, fmt.Sprintf("%.2f%% %s", p.Percent(), p.Time.UTC().Format(time.RFC3339Nano)), p.Contract, nil)
}

func (r *consoleReporter) Failed(c *records.Contract, err error) {
	r.print(symbolFail, time.Now().UTC().Format(time.RFC3339Nano), c, err)
}

func (r *consoleReporter) print(symbol, prefix string, c *records.Contract, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.symbols {
		fmt.Fprintf(r.w, "%s ", symbol)
	}
	fmt.Fprintf(r.w, "%s %s %s %s\n", prefix, c.Info.Address, c.Info.TxID, c.Info.Network)
	if err != nil {
		fmt.Fprintf(r.w, "  %v\n", err)
	}
}

// ledgerReporter records every outcome of a run in the results ledger.
// Ledger errors are logged and never fail the run.
type ledgerReporter struct {
	ctx    context.Context
	store  storage.ResultStore
	runID  string
	logger *slog.Logger

	mu     sync.Mutex
	failed int
}

func newLedgerReporter(ctx context.Context, store storage.ResultStore, runID string, logger *slog.Logger) *ledgerReporter {
	return &ledgerReporter{
		ctx:    context.WithoutCancel(ctx),
		store:  store,
		runID:  runID,
		logger: logger,
	}
}

func (r *ledgerReporter) Passed(p scheduler.Progress) {
	result := newResult(r.runID, p.Contract)
	result.Passed = true
	result.Warnings = len(p.Warnings)
	result.CreatedAt = p.Time
	r.record(result)
}

func (r *ledgerReporter) Failed(c *records.Contract, err error) {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()

	result := newResult(r.runID, c)
	result.Kind = domain.KindOf(err)
	result.Message = err.Error()
	r.record(result)
}

// Failures returns how many contracts failed so far
func (r *ledgerReporter) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *ledgerReporter) record(result *storage.Result) {
	if err := r.store.RecordResult(r.ctx, result); err != nil {
		r.logger.Warn("recording result failed", "id", result.ContractID, "error", err)
	}
}

func newResult(runID string, c *records.Contract) *storage.Result {
	return &storage.Result{
		RunID:      runID,
		ContractID: c.ID,
		Address:    c.Info.Address,
		Network:    c.Info.Network,
		TxID:       c.Info.TxID,
		Compiler:   c.Info.Compiler,
	}
}
