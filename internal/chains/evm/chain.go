// Package evm derives contract creation data from EVM chains and provides the
// bytecode transformations needed to compare compiler output with it.
package evm

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/pendergraft/contraverify/internal/chains"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
)

var (
	// ErrChainDataInconsistent covers RPC failures and traces that do not
	// describe the expected contract creation.
	ErrChainDataInconsistent = errors.New("chain data inconsistent")
	// ErrTransactionHashMismatch means the node returned a transaction whose
	// recomputed hash differs from the one requested.
	ErrTransactionHashMismatch = errors.New("transaction hash mismatch")
)

// Creation is a contract creation as found on chain.
type Creation struct {
	// Address is the lower-case 0x-prefixed address of the created contract.
	Address string
	// Bytecode is the creation input as lower-case hex without 0x.
	Bytecode string
}

// TraceEntry is one element of a trace_transaction response.
type TraceEntry struct {
	Type         string       `json:"type"`
	TraceAddress []int        `json:"traceAddress"`
	Action       TraceAction  `json:"action"`
	Result       *TraceResult `json:"result"`
}

// TraceAction holds the action fields used for creations.
type TraceAction struct {
	From  *common.Address `json:"from,omitempty"`
	Init  hexutil.Bytes   `json:"init,omitempty"`
	Input hexutil.Bytes   `json:"input,omitempty"`
}

// TraceResult holds the result fields used for creations.
type TraceResult struct {
	Address *common.Address `json:"address,omitempty"`
	Code    hexutil.Bytes   `json:"code,omitempty"`
}

// Path returns the dotted form of the entry's trace address.
func (e TraceEntry) Path() string {
	parts := make([]string, len(e.TraceAddress))
	for i, idx := range e.TraceAddress {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ".")
}

// RPCClient is the subset of *rpc.Client used by the reconstructor.
type RPCClient interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
	Close()
}

// DialFunc opens an RPC client for an endpoint.
type DialFunc func(ctx context.Context, url string) (RPCClient, error)

// DialRPC dials an endpoint with go-ethereum's rpc package.
func DialRPC(ctx context.Context, url string) (RPCClient, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

type endpoint struct {
	network chains.Network
	client  RPCClient
	limiter *rate.Limiter
}

// Reconstructor derives the address and creation bytecode of contracts from
// their creation transactions.
type Reconstructor struct {
	networks *chains.Registry
	dial     DialFunc
	logger   *slog.Logger

	mu        sync.Mutex
	endpoints map[string]*endpoint
}

// NewReconstructor creates a reconstructor reading from the given networks.
func NewReconstructor(networks *chains.Registry, dial DialFunc, logger *slog.Logger) *Reconstructor {
	if dial == nil {
		dial = DialRPC
	}
	return &Reconstructor{
		networks:  networks,
		dial:      dial,
		logger:    logger,
		endpoints: make(map[string]*endpoint),
	}
}

// Close closes every RPC client opened so far.
func (r *Reconstructor) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, ep := range r.endpoints {
		ep.client.Close()
		delete(r.endpoints, name)
	}
}

// Creation resolves txid ("0x<hash>" optionally followed by ":<dotted path>")
// on network to the contract it created.
func (r *Reconstructor) Creation(ctx context.Context, network, txid string) (*Creation, error) {
	hash, path, _ := strings.Cut(txid, ":")
	hash = strings.ToLower(hash)

	ep, err := r.endpoint(ctx, network)
	if err != nil {
		return nil, err
	}

	var tx *types.Transaction
	if err := ep.call(ctx, &tx, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction %s not found", ErrChainDataInconsistent, hash)
	}
	if got := tx.Hash().Hex(); got != hash {
		return nil, fmt.Errorf("%w: requested %s, node returned %s", ErrTransactionHashMismatch, hash, got)
	}

	if path == "" {
		return r.topLevel(ctx, ep, tx)
	}

	traces, err := ep.traces(ctx, hash)
	if err != nil {
		return nil, err
	}
	return FindCreation(traces, path)
}

func (r *Reconstructor) topLevel(ctx context.Context, ep *endpoint, tx *types.Transaction) (*Creation, error) {
	if tx.To() != nil {
		return nil, fmt.Errorf("%w: transaction %s is not a contract creation", ErrChainDataInconsistent, tx.Hash().Hex())
	}

	signer := types.LatestSignerForChainID(big.NewInt(ep.network.ChainID))
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: recovering sender: %v", ErrChainDataInconsistent, err)
	}

	traces, err := ep.traces(ctx, tx.Hash().Hex())
	if err != nil {
		return nil, err
	}
	if len(traces) == 0 {
		return nil, fmt.Errorf("%w: empty trace for %s", ErrChainDataInconsistent, tx.Hash().Hex())
	}
	if traces[0].Type != "create" || !bytes.Equal(traces[0].Action.Init, tx.Data()) {
		return nil, fmt.Errorf("%w: trace of %s does not start with the transaction's creation", ErrChainDataInconsistent, tx.Hash().Hex())
	}

	r.logger.Debug("reconstructed top-level creation",
		"network", ep.network.Name,
		"tx", tx.Hash().Hex(),
		"sender", sender.Hex(),
		"nonce", tx.Nonce(),
	)

	return &Creation{
		Address:  strings.ToLower(CreateAddress(sender, tx.Nonce()).Hex()),
		Bytecode: hex.EncodeToString(tx.Data()),
	}, nil
}

// CreateAddress is the address of a contract created by sender with nonce.
func CreateAddress(sender common.Address, nonce uint64) common.Address {
	return crypto.CreateAddress(sender, nonce)
}

// FindCreation selects the trace entry at path and returns the contract it
// created.
func FindCreation(traces []TraceEntry, path string) (*Creation, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	for _, e := range traces {
		if e.Path() != path {
			continue
		}
		if e.Type != "create" {
			return nil, fmt.Errorf("%w: trace entry %s is %q, not create", ErrChainDataInconsistent, path, e.Type)
		}
		if e.Result == nil || e.Result.Address == nil {
			return nil, fmt.Errorf("%w: trace entry %s has no created address", ErrChainDataInconsistent, path)
		}
		return &Creation{
			Address:  strings.ToLower(e.Result.Address.Hex()),
			Bytecode: hex.EncodeToString(e.Action.Init),
		}, nil
	}
	return nil, fmt.Errorf("%w: no trace entry at %s", ErrChainDataInconsistent, path)
}

func validatePath(path string) error {
	for _, part := range strings.Split(path, ".") {
		if _, err := strconv.ParseUint(part, 10, 32); err != nil {
			return fmt.Errorf("%w: invalid trace path %q", ErrChainDataInconsistent, path)
		}
	}
	return nil
}

func (r *Reconstructor) endpoint(ctx context.Context, network string) (*endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ep, ok := r.endpoints[network]; ok {
		return ep, nil
	}

	n, err := r.networks.Get(network)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainDataInconsistent, err)
	}
	client, err := r.dial(ctx, n.RPC)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrChainDataInconsistent, n.Name, err)
	}

	limit := rate.Inf
	if n.RequestsPerSecond > 0 {
		limit = rate.Limit(n.RequestsPerSecond)
	}
	ep := &endpoint{
		network: n,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
	}
	r.endpoints[network] = ep
	return ep, nil
}

func (ep *endpoint) call(ctx context.Context, result any, method string, args ...any) error {
	if err := ep.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrChainDataInconsistent, method, err)
	}
	if err := ep.client.CallContext(ctx, result, method, args...); err != nil {
		metrics.RPCRequest(ep.network.Name, method, "error")
		return fmt.Errorf("%w: %s: %v", ErrChainDataInconsistent, method, err)
	}
	metrics.RPCRequest(ep.network.Name, method, "ok")
	return nil
}

func (ep *endpoint) traces(ctx context.Context, hash string) ([]TraceEntry, error) {
	var traces []TraceEntry
	if err := ep.call(ctx, &traces, "trace_transaction", hash); err != nil {
		return nil, err
	}
	return traces, nil
}
