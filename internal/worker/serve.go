package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pendergraft/contraverify/internal/chains/evm/compiler"
	"github.com/pendergraft/contraverify/internal/records"
)

// Verifier verifies one contract.
type Verifier interface {
	Verify(ctx context.Context, c *records.Contract) ([]compiler.Diagnostic, error)
}

// Serve runs the worker side of the protocol: it announces readiness and
// then verifies one contract per verify message until done. Verification
// failures are reported to the parent, not returned.
func Serve(ctx context.Context, conn *Conn, v Verifier, logger *slog.Logger) error {
	if err := conn.Send(Message{Event: EventReady}); err != nil {
		return fmt.Errorf("sending ready: %w", err)
	}

	for {
		m, err := conn.Receive()
		if errors.Is(err, io.EOF) {
			logger.Debug("parent closed channel")
			return nil
		}
		if err != nil {
			return err
		}

		switch m.Event {
		case EventVerify:
			logger.Debug("verifying", "id", m.Contract.ID)
			warnings, verr := v.Verify(ctx, m.Contract)
			if verr != nil {
				logger.Debug("verification failed", "id", m.Contract.ID, "error", verr)
			}
			if err := conn.Send(Message{Event: EventResult, Result: NewResult(warnings, verr)}); err != nil {
				return fmt.Errorf("sending result: %w", err)
			}
		case EventDone:
			return nil
		default:
			return fmt.Errorf("%w: worker received %q", ErrProtocol, m.Event)
		}
	}
}
