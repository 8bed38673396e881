package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/storage"
)

type resultsOptions struct {
	runID      string
	failedOnly bool
	limit      int
	jsonOutput bool
}

func createResultsCmd() *cobra.Command {
	var opts resultsOptions

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show results from the ledger",
		Long: `Show the outcome of a verification run recorded in the results ledger.

Without --run the most recent run is shown.

EXAMPLES:
  # Show the latest run
  contract-verify results

  # Show only the failures of a specific run
  contract-verify results --run 6f1c2a3e-0c4e-4a8e-9d7b-2f7c1e5b9a10 --failed

  # Output as JSON
  contract-verify results --json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResults(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.runID, "run", "", "run id (default: latest run)")
	cmd.Flags().BoolVar(&opts.failedOnly, "failed", false, "show failed contracts only")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum number of results to show")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runResults(ctx context.Context, w io.Writer, opts resultsOptions) error {
	if opts.limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	cfg, logger, err := commandLogger()
	if err != nil {
		return err
	}

	ledger, err := storage.New(cfg.Results, logger)
	if err != nil {
		return fmt.Errorf("initializing results ledger: %w", err)
	}
	defer ledger.Close()
	if err := ledger.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return showResults(ctx, w, ledger, opts)
}

func showResults(ctx context.Context, w io.Writer, ledger storage.Store, opts resultsOptions) error {
	var run *storage.Run
	var err error
	if opts.runID != "" {
		run, err = ledger.GetRun(ctx, opts.runID)
	} else {
		run, err = ledger.LatestRun(ctx)
	}
	if errors.Is(err, storage.ErrNotFound) {
		if opts.runID != "" {
			return fmt.Errorf("run %s not found", opts.runID)
		}
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	results, err := ledger.ListResults(ctx, storage.ResultFilter{
		RunID:      run.ID,
		FailedOnly: opts.failedOnly,
		Limit:      opts.limit,
	})
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"run":     run,
			"results": results,
		})
	}

	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.UTC().Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "Finished: %s\n", run.FinishedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Jobs:     %d\n", run.Jobs)
	fmt.Fprintf(w, "Passed:   %d/%d (%d failed, %d requeued)\n", run.Passed, run.Total, run.Failed, run.Requeued)

	if len(results) == 0 {
		fmt.Fprintln(w, "\nNo results")
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTRACT\tNETWORK\tCOMPILER\tRESULT\tMESSAGE")
	for _, r := range results {
		outcome := "passed"
		if !r.Passed {
			outcome = r.Kind
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ContractID, r.Network, r.Compiler, outcome, r.Message)
	}
	tw.Flush()

	return nil
}
