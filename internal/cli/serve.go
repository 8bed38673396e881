package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/server"
	"github.com/pendergraft/contraverify/internal/storage"
)

func createServeCmd(version string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the results ledger over HTTP",
		Long: `Serve the results API, health probes and Prometheus metrics without running
a verification. The address defaults to metrics.addr from the config.

EXAMPLES:
  contract-verify serve
  contract-verify serve --addr :8080
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, version, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")

	return cmd
}

func runServe(ctx context.Context, version, addr string) error {
	cfg, logger, err := commandLogger()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	logger.Info("starting contract-verify server", "version", version)

	metrics.Init(true, "contract-verify")

	ledger, err := storage.New(cfg.Results, logger)
	if err != nil {
		return fmt.Errorf("initializing results ledger: %w", err)
	}
	defer ledger.Close()

	if err := ledger.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	if err := server.New(ledger, logger).Start(ctx, addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
