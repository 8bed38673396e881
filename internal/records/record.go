// Package records holds the contract record model and the on-disk record store
// produced by the explorer scraper.
package records

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Contract is a single verification claim: source, compiler and settings that
// are said to produce the creation bytecode found on chain.
type Contract struct {
	ID  string            `json:"id"`
	Src map[string]string `json:"src"`
	ABI string            `json:"abi"`
	// Bin is the creation input as found on chain, constructor arguments included.
	Bin  string `json:"bin"`
	Info Info   `json:"info"`
}

// Info is the metadata part of a record, stored as info.yaml.
type Info struct {
	Name                 string                       `json:"name" yaml:"name,omitempty"`
	Entrypoint           string                       `json:"entrypoint" yaml:"entrypoint,omitempty"`
	Compiler             string                       `json:"compiler" yaml:"compiler,omitempty"`
	Optimise             Optimise                     `json:"optimise" yaml:"optimise,omitempty"`
	Network              string                       `json:"network" yaml:"network,omitempty"`
	TxID                 string                       `json:"txid" yaml:"txid,omitempty"`
	Address              string                       `json:"address" yaml:"address,omitempty"`
	ConstructorArguments string                       `json:"constructor,omitempty" yaml:"constructor,omitempty"`
	Libraries            map[string]map[string]string `json:"libraries,omitempty" yaml:"libraries,omitempty"`
	SwarmSource          string                       `json:"swarmSource,omitempty" yaml:"swarmSource,omitempty"`
}

// Optimise is the optimizer setting: zero means disabled, otherwise the run count.
// In YAML it is written as false, true (200 runs) or a number.
type Optimise int

// Enabled reports whether the optimizer is on.
func (o Optimise) Enabled() bool {
	return o > 0
}

// Runs returns the optimizer run count, 0 when disabled.
func (o Optimise) Runs() int {
	if o < 0 {
		return 0
	}
	return int(o)
}

// IsZero lets yaml omit a disabled optimizer.
func (o Optimise) IsZero() bool {
	return o <= 0
}

const defaultRuns = 200

// UnmarshalYAML accepts booleans and integers.
func (o *Optimise) UnmarshalYAML(value *yaml.Node) error {
	return o.parse(value.Value)
}

// MarshalYAML writes the run count, or false when disabled.
func (o Optimise) MarshalYAML() (any, error) {
	if !o.Enabled() {
		return false, nil
	}
	return int(o), nil
}

// UnmarshalJSON accepts booleans and integers.
func (o *Optimise) UnmarshalJSON(data []byte) error {
	return o.parse(string(data))
}

// MarshalJSON writes the run count as a plain number.
func (o Optimise) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Runs())
}

func (o *Optimise) parse(s string) error {
	switch s = strings.TrimSpace(s); s {
	case "", "false", "null", "~":
		*o = 0
	case "true":
		*o = defaultRuns
	default:
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid optimise value %q", s)
		}
		*o = Optimise(n)
	}
	return nil
}

// TxHash returns the transaction hash part of the txid.
func (i Info) TxHash() string {
	hash, _, _ := strings.Cut(i.TxID, ":")
	return hash
}

// TracePath returns the internal call path of the txid, empty for a top-level creation.
func (i Info) TracePath() string {
	_, path, _ := strings.Cut(i.TxID, ":")
	return path
}

// ComputeID derives the record id {address}-{chainId}.
func ComputeID(address, network string) (string, error) {
	chainID, ok := ChainID(network)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	return fmt.Sprintf("%s-%d", strings.ToLower(address), chainID), nil
}
