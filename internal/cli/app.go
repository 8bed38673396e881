package cli

import (
	"fmt"
	"log/slog"

	"github.com/pendergraft/contraverify/internal/abicheck"
	"github.com/pendergraft/contraverify/internal/chains"
	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/chains/evm/compiler"
	"github.com/pendergraft/contraverify/internal/chains/evm/solc"
	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/records"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

// newRegistry registers every configured network that has a known chain id
func newRegistry(cfg *config.Config) (*chains.Registry, error) {
	registry := chains.NewRegistry()
	for _, name := range cfg.NetworkNames() {
		n := cfg.Networks[name]
		chainID, ok := records.ChainID(name)
		if !ok {
			return nil, fmt.Errorf("networks.%s: %w", name, records.ErrUnknownNetwork)
		}
		if err := registry.Register(chains.Network{
			Name:              name,
			ChainID:           chainID,
			RPC:               n.RPC,
			RequestsPerSecond: n.RequestsPerSecond,
		}); err != nil {
			return nil, fmt.Errorf("networks.%s: %w", name, err)
		}
	}
	return registry, nil
}

func newManager(cfg *config.Config, logger *slog.Logger) *solc.Manager {
	return solc.NewManager(solc.Options{
		CacheDir:   cfg.Solc.CacheDir,
		ArchiveURL: cfg.Solc.ArchiveURL,
		Logger:     logger,
	})
}

// verifierStack is the verification service plus the resources it holds
type verifierStack struct {
	service       *domain.Service
	reconstructor *evm.Reconstructor
}

func (v *verifierStack) Close() {
	v.reconstructor.Close()
}

// newVerifierStack wires compiler manager, compilation adapter and chain
// reconstructor into a verification service
func newVerifierStack(cfg *config.Config, logger *slog.Logger) (*verifierStack, error) {
	registry, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}
	reconstructor := evm.NewReconstructor(registry, evm.DialRPC, logger)
	service := domain.NewService(
		newManager(cfg, logger),
		compiler.New(cfg.Compilers.IdentityRemap),
		reconstructor,
		abicheck.Mode(cfg.Verification.ConstructorCheck),
		logger,
	)
	return &verifierStack{service: service, reconstructor: reconstructor}, nil
}
