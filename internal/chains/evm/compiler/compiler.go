// Package compiler compiles contract records with historical soljson builds,
// hiding the four calling conventions those builds expose behind one call.
package compiler

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/chains/evm/solc"
	"github.com/pendergraft/contraverify/internal/records"
)

var (
	// ErrCompilerIdentityMismatch means the loaded build is not the one the
	// record names.
	ErrCompilerIdentityMismatch = errors.New("compiler identity mismatch")
	// ErrCompilationFailed means the compiler reported errors.
	ErrCompilationFailed = errors.New("compilation failed")
	// ErrUnexpectedSwarmMetadata means the compiled code and the record
	// disagree about swarm metadata.
	ErrUnexpectedSwarmMetadata = errors.New("unexpected swarm metadata")
	// ErrInvalidInput means the record cannot be compiled as described.
	ErrInvalidInput = errors.New("invalid input")
)

// Diagnostic is one compiler error or warning.
type Diagnostic struct {
	Severity         string `json:"severity"`
	Type             string `json:"type,omitempty"`
	Component        string `json:"component,omitempty"`
	Message          string `json:"message"`
	FormattedMessage string `json:"formattedMessage,omitempty"`
}

// String returns the formatted message when the compiler produced one.
func (d Diagnostic) String() string {
	if d.FormattedMessage != "" {
		return strings.TrimSpace(d.FormattedMessage)
	}
	return strings.TrimSpace(d.Message)
}

// FailedError carries the diagnostics of a failed compilation.
type FailedError struct {
	Diagnostics []Diagnostic
}

func (e *FailedError) Error() string {
	msgs := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		msgs[i] = d.String()
	}
	return ErrCompilationFailed.Error() + ":\n" + strings.Join(msgs, "\n")
}

func (e *FailedError) Unwrap() error {
	return ErrCompilationFailed
}

// Result is the normalized output of every convention.
type Result struct {
	ABI      string
	Bytecode string
	Warnings []Diagnostic
}

// swarmSince is the first version appending swarm metadata to bytecode.
const swarmSince = "v0.4.7"

// Compiler compiles records against loaded modules.
type Compiler struct {
	remap map[string]string
}

// New creates a compiler. remap extends DefaultIdentityRemap.
func New(remap map[string]string) *Compiler {
	merged := make(map[string]string, len(DefaultIdentityRemap)+len(remap))
	for k, v := range DefaultIdentityRemap {
		merged[k] = v
	}
	for k, v := range remap {
		merged[k] = v
	}
	return &Compiler{remap: merged}
}

// Compile compiles c with mod, which must be the build c.Info.Compiler names.
func (c *Compiler) Compile(mod solc.Module, contract *records.Contract) (*Result, error) {
	info := contract.Info

	if err := CheckIdentity(info.Compiler, mod.Version(), c.remap); err != nil {
		return nil, err
	}
	conv, err := SelectConvention(info.Compiler)
	if err != nil {
		return nil, err
	}

	var res *Result
	switch conv {
	case ConventionStandard:
		res, err = compileStandard(mod, contract)
	case ConventionV021:
		res, err = compileV021(mod, contract)
	case ConventionV016:
		res, err = compileV016(mod, contract)
	case ConventionEarly:
		res, err = compileEarly(mod, contract)
	default:
		return nil, fmt.Errorf("%w: convention %v", ErrInvalidInput, conv)
	}
	if err != nil {
		return nil, err
	}

	version, _ := ParseVersion(info.Compiler)
	if err := fixSwarm(res, version, info.SwarmSource); err != nil {
		return nil, err
	}
	return res, nil
}

func fixSwarm(res *Result, version, swarmSource string) error {
	_, hasTrailer := evm.SwarmHash(res.Bytecode)

	if semver.Compare(version, swarmSince) < 0 {
		if swarmSource != "" {
			return fmt.Errorf("%w: swarm source given for %s", ErrUnexpectedSwarmMetadata, version)
		}
		return nil
	}

	if swarmSource == "" {
		return fmt.Errorf("%w: no swarm source for %s", ErrUnexpectedSwarmMetadata, version)
	}
	if !hasTrailer {
		return fmt.Errorf("%w: compiled code has no swarm metadata", ErrUnexpectedSwarmMetadata)
	}
	code, err := evm.ReplaceSwarmHash(res.Bytecode, swarmSource)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedSwarmMetadata, err)
	}
	res.Bytecode = code
	return nil
}
