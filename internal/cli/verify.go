package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/records"
	"github.com/pendergraft/contraverify/internal/scheduler"
	"github.com/pendergraft/contraverify/internal/server"
	"github.com/pendergraft/contraverify/internal/storage"
	"github.com/pendergraft/contraverify/internal/validation"
	"github.com/pendergraft/contraverify/internal/worker"
)

// ErrVerificationFailed is returned when at least one contract did not verify
var ErrVerificationFailed = errors.New("verification failed")

type verifyOptions struct {
	address          string
	compiler         string
	id               string
	name             string
	txid             string
	gitNotCommitted  bool
	gitLastCommitted bool
	jobs             int
	inProcess        bool
}

func createVerifyCmd() *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify contract records",
		Long: `Verify contract records against their sources and the chain.

Every selected record is recompiled with the compiler it names, its
constructor arguments are checked against the ABI, and the creation
transaction is read from the network's JSON-RPC endpoint. Filters combine:
a record must match all of them.

Workers are grouped by compiler version so each process loads as few
compiler builds as possible. The command exits non-zero on the first
contract that fails.

EXAMPLES:
  # Verify every record
  contract-verify verify

  # Verify one record with 4 workers
  contract-verify verify --id 0x6ac7ea33f8831ea9dcc53393aaa88b25a785dbf0-1 -j 4

  # Verify records touched by uncommitted changes
  contract-verify verify --git-not-committed

  # Verify every record compiled with one compiler
  contract-verify verify --compiler 0.4.11+commit.68ef5810
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runVerify(ctx, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.address, "address", "", "verify only the contract at address")
	cmd.Flags().StringVar(&opts.compiler, "compiler", "", "verify only contracts built with this compiler")
	cmd.Flags().StringVar(&opts.id, "id", "", "verify the contract with this id (address-chainId)")
	cmd.Flags().StringVar(&opts.name, "name", "", "verify only contracts with this name")
	cmd.Flags().StringVar(&opts.txid, "txid", "", "verify only the contract created by txid")
	cmd.Flags().BoolVar(&opts.gitNotCommitted, "git-not-committed", false, "verify only contracts changed and not committed to git")
	cmd.Flags().BoolVar(&opts.gitLastCommitted, "git-last-committed", false, "verify only contracts changed in the last commit")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", 0, "number of worker processes (default from config)")
	cmd.Flags().BoolVar(&opts.inProcess, "in-process", false, "run workers as goroutines instead of child processes")

	return cmd
}

func runVerify(ctx context.Context, opts verifyOptions, stdout io.Writer) error {
	cfg, logger, err := commandLogger()
	if err != nil {
		return err
	}
	if opts.jobs != 0 {
		cfg.Jobs = opts.jobs
	}
	if err := validation.ValidateJobs(cfg.Jobs); err != nil {
		return err
	}

	metrics.Init(cfg.Metrics.Enabled, "contract-verify")

	filter, err := buildFilter(ctx, opts, cfg.Contracts.Dir)
	if err != nil {
		return err
	}

	contracts, err := records.NewStore(cfg.Contracts.Dir, logger).LoadAll(ctx, filter)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}
	if len(contracts) == 0 {
		fmt.Fprintln(stdout, "No contracts matched")
		return nil
	}

	ledger, err := storage.New(cfg.Results, logger)
	if err != nil {
		return fmt.Errorf("initializing results ledger: %w", err)
	}
	defer ledger.Close()
	if err := ledger.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	if cfg.Metrics.Enabled {
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := server.New(ledger, logger).Start(srvCtx, cfg.Metrics.Addr); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	spawner, cleanup, err := newSpawner(cfg, opts.inProcess, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	run := &storage.Run{Jobs: cfg.Jobs, Total: len(contracts)}
	if err := ledger.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	logger = logger.With("run", run.ID)

	recorder := newLedgerReporter(ctx, ledger, run.ID, logger)
	sched := scheduler.New(scheduler.Options{
		Jobs:     cfg.Jobs,
		Spawner:  spawner,
		Reporter: scheduler.Reporters{newConsoleReporter(stdout), recorder},
		Logger:   logger,
	})

	summary, runErr := sched.Run(ctx, contracts)

	run.Passed = summary.Passed
	run.Failed = recorder.Failures()
	run.Requeued = summary.Requeued
	if err := ledger.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("finishing run failed", "error", err)
	}

	logger.Info("verification finished",
		"total", summary.Total,
		"passed", summary.Passed,
		"requeued", summary.Requeued,
		"sessions", summary.Sessions,
		"peak_versions", summary.PeakVersions,
	)

	if runErr != nil {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, runErr)
	}
	fmt.Fprintf(stdout, "Verified %d contract(s)\n", summary.Passed)
	return nil
}

// buildFilter combines the record filters named by opts
func buildFilter(ctx context.Context, opts verifyOptions, contractsDir string) (records.Filter, error) {
	var filters []records.Filter

	if opts.address != "" {
		if err := validation.ValidateAddress(opts.address); err != nil {
			return nil, fmt.Errorf("--address: %w", err)
		}
		filters = append(filters, records.ByAddress(opts.address))
	}
	if opts.compiler != "" {
		if err := validation.ValidateCompiler(opts.compiler); err != nil {
			return nil, fmt.Errorf("--compiler: %w", err)
		}
		filters = append(filters, records.ByCompiler(opts.compiler))
	}
	if opts.id != "" {
		if err := validation.ValidateContractID(strings.ToLower(opts.id)); err != nil {
			return nil, fmt.Errorf("--id: %w", err)
		}
		filters = append(filters, records.ByID(opts.id))
	}
	if opts.name != "" {
		filters = append(filters, records.ByName(opts.name))
	}
	if opts.txid != "" {
		if err := validation.ValidateTxID(opts.txid); err != nil {
			return nil, fmt.Errorf("--txid: %w", err)
		}
		filters = append(filters, records.ByTxID(opts.txid))
	}

	repo := filepath.Dir(filepath.Clean(contractsDir))
	if opts.gitNotCommitted {
		ids, err := gitNotCommitted(ctx, repo)
		if err != nil {
			return nil, err
		}
		filters = append(filters, records.ByIDs(ids))
	}
	if opts.gitLastCommitted {
		ids, err := gitLastCommitted(ctx, repo)
		if err != nil {
			return nil, err
		}
		filters = append(filters, records.ByIDs(ids))
	}

	return records.All(filters...), nil
}

// newSpawner returns the worker spawner and a cleanup func for its resources
func newSpawner(cfg *config.Config, inProcess bool, logger *slog.Logger) (scheduler.Spawner, func(), error) {
	if !inProcess {
		return &scheduler.ExecSpawner{Args: workerArgs(cfg)}, func() {}, nil
	}

	stack, err := newVerifierStack(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	spawner := &scheduler.InProcessSpawner{
		NewVerifier: func(string) (worker.Verifier, error) { return stack.service, nil },
		Logger:      logger,
	}
	return spawner, stack.Close, nil
}

// workerArgs are the arguments that start a worker child before its compiler version
func workerArgs(cfg *config.Config) []string {
	args := []string{"worker"}
	if cfg.Path != "" {
		args = append(args, "--config", cfg.Path)
	}
	return append(args, "--log-level", cfg.Logging.Level, "--compiler")
}
