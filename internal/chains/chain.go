// Package chains maps symbolic network names to chain ids and the JSON-RPC
// endpoints used to read creation transactions.
package chains

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNetworkNotFound is returned for a network without a configured endpoint.
var ErrNetworkNotFound = errors.New("network not configured")

// Network is a chain reachable over JSON-RPC.
type Network struct {
	Name    string
	ChainID int64
	RPC     string
	// RequestsPerSecond throttles calls to RPC; 0 means unlimited.
	RequestsPerSecond float64
}

// Registry holds all configured networks
type Registry struct {
	networks map[string]Network
}

// NewRegistry creates a new network registry
func NewRegistry() *Registry {
	return &Registry{
		networks: make(map[string]Network),
	}
}

// Register adds a network to the registry
func (r *Registry) Register(n Network) error {
	if n.Name == "" {
		return errors.New("network name is required")
	}
	if n.RPC == "" {
		return fmt.Errorf("network %s: rpc endpoint is required", n.Name)
	}
	r.networks[n.Name] = n
	return nil
}

// Get retrieves a network by name
func (r *Registry) Get(name string) (Network, error) {
	n, ok := r.networks[name]
	if !ok {
		return Network{}, fmt.Errorf("%w: %s", ErrNetworkNotFound, name)
	}
	return n, nil
}

// List returns all registered networks sorted by name
func (r *Registry) List() []Network {
	out := make([]Network, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
