package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/chains/evm/compiler"
	"github.com/pendergraft/contraverify/internal/records"
	"github.com/pendergraft/contraverify/internal/validation"
	"github.com/pendergraft/contraverify/internal/worker"
)

func createWorkerCmd() *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Serve verification jobs for one compiler over stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), version, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&version, "compiler", "", "compiler version this worker is bound to (required)")
	_ = cmd.MarkFlagRequired("compiler")

	return cmd
}

// runWorker speaks the worker protocol on in/out. Logs go to stderr since
// stdout carries protocol messages.
func runWorker(ctx context.Context, version string, in io.Reader, out io.Writer) error {
	if err := validation.ValidateCompiler(version); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg, os.Stderr).With("pid", os.Getpid(), "compiler", version)

	stack, err := newVerifierStack(cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	logger.Debug("worker started")
	return worker.Serve(ctx, worker.NewConn(in, out), &boundVerifier{version: version, next: stack.service}, logger)
}

// boundVerifier rejects contracts for any compiler but the one the worker
// was started for
type boundVerifier struct {
	version string
	next    worker.Verifier
}

func (b *boundVerifier) Verify(ctx context.Context, c *records.Contract) ([]compiler.Diagnostic, error) {
	if c.Info.Compiler != b.version {
		return nil, fmt.Errorf("%w: worker bound to %s received a %s contract", compiler.ErrInvalidInput, b.version, c.Info.Compiler)
	}
	return b.next.Verify(ctx, c)
}
