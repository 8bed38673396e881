package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pendergraft/contraverify/internal/abicheck"
	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/chains/evm/compiler"
	"github.com/pendergraft/contraverify/internal/chains/evm/solc"
	"github.com/pendergraft/contraverify/internal/records"
)

// CompilerResolver loads compiler builds by version.
type CompilerResolver interface {
	Resolve(ctx context.Context, version string) (solc.Module, error)
}

// ContractCompiler compiles a record with a loaded build.
type ContractCompiler interface {
	Compile(mod solc.Module, c *records.Contract) (*compiler.Result, error)
}

// CreationReader reads contract creations from the chain.
type CreationReader interface {
	Creation(ctx context.Context, network, txid string) (*evm.Creation, error)
}

// Service verifies contract records.
type Service struct {
	compilers CompilerResolver
	compiler  ContractCompiler
	chain     CreationReader
	mode      abicheck.Mode
	logger    *slog.Logger
}

// NewService creates a new verification service.
func NewService(compilers CompilerResolver, cc ContractCompiler, chain CreationReader, mode abicheck.Mode, logger *slog.Logger) *Service {
	return &Service{
		compilers: compilers,
		compiler:  cc,
		chain:     chain,
		mode:      mode,
		logger:    logger,
	}
}

// Verify runs the constructor, source and chain checks of c concurrently.
// It returns the compiler warnings when all three pass, otherwise the first
// failure wrapped with the name of its check.
func (s *Service) Verify(ctx context.Context, c *records.Contract) ([]compiler.Diagnostic, error) {
	g, ctx := errgroup.WithContext(ctx)

	var warnings []compiler.Diagnostic
	g.Go(func() error {
		if err := s.CheckConstructor(c); err != nil {
			return fmt.Errorf("constructor check: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		w, err := s.CheckSource(ctx, c)
		if err != nil {
			return fmt.Errorf("source check: %w", err)
		}
		warnings = w
		return nil
	})
	g.Go(func() error {
		if err := s.CheckChain(ctx, c); err != nil {
			return fmt.Errorf("chain check: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s: %w", c.ID, err)
	}
	return warnings, nil
}

// CheckConstructor validates the constructor arguments against the
// constructor declared in the ABI.
func (s *Service) CheckConstructor(c *records.Contract) error {
	args := evm.NormalizeHex(c.Info.ConstructorArguments)
	if args == "" {
		return nil
	}
	types, err := abicheck.ConstructorTypes(c.ABI)
	if err != nil {
		return fmt.Errorf("%w: %v", abicheck.ErrInvalid, err)
	}
	return abicheck.Check(s.mode, types, args)
}

// CheckSource recompiles the sources and compares the output with the
// recorded ABI and bytecode.
func (s *Service) CheckSource(ctx context.Context, c *records.Contract) ([]compiler.Diagnostic, error) {
	mod, err := s.compilers.Resolve(ctx, c.Info.Compiler)
	if err != nil {
		return nil, err
	}
	res, err := s.compiler.Compile(mod, c)
	if err != nil {
		return nil, err
	}

	if res.ABI != c.ABI {
		return nil, fmt.Errorf("%w: abi differs", ErrSourceMismatch)
	}
	bin := evm.NormalizeHex(res.Bytecode) + evm.NormalizeHex(c.Info.ConstructorArguments)
	if bin != evm.NormalizeHex(c.Bin) {
		return nil, fmt.Errorf("%w: bytecode differs", ErrSourceMismatch)
	}
	return res.Warnings, nil
}

// CheckChain derives the creation of c from its transaction and compares it
// with the recorded address and bytecode.
func (s *Service) CheckChain(ctx context.Context, c *records.Contract) error {
	created, err := s.chain.Creation(ctx, c.Info.Network, c.Info.TxID)
	if err != nil {
		return err
	}
	if created.Address != strings.ToLower(c.Info.Address) {
		return fmt.Errorf("%w: transaction created %s, record claims %s", ErrChainMismatch, created.Address, c.Info.Address)
	}
	if evm.NormalizeHex(created.Bytecode) != evm.NormalizeHex(c.Bin) {
		return fmt.Errorf("%w: creation bytecode differs", ErrChainMismatch)
	}

	s.logger.Debug("chain check passed", "id", c.ID, "address", created.Address)
	return nil
}
