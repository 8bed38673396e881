package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pendergraft/contraverify/internal/chains/evm/solc"
	"github.com/pendergraft/contraverify/internal/records"
)

type standardInput struct {
	Language string                    `json:"language"`
	Sources  map[string]standardSource `json:"sources"`
	Settings standardSettings          `json:"settings"`
}

type standardSource struct {
	Content string `json:"content"`
}

type standardSettings struct {
	Optimizer       optimizer                      `json:"optimizer"`
	Libraries       map[string]map[string]string   `json:"libraries,omitempty"`
	OutputSelection map[string]map[string][]string `json:"outputSelection"`
}

type optimizer struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

type standardOutput struct {
	Errors    []Diagnostic                           `json:"errors"`
	Contracts map[string]map[string]standardContract `json:"contracts"`
}

type standardContract struct {
	ABI json.RawMessage `json:"abi"`
	EVM struct {
		Bytecode struct {
			Object string `json:"object"`
		} `json:"bytecode"`
	} `json:"evm"`
}

func compileStandard(mod solc.Module, c *records.Contract) (*Result, error) {
	if !mod.HasStandard() {
		return nil, fmt.Errorf("%w: %s has no standard JSON entry point", ErrInvalidInput, c.Info.Compiler)
	}
	info := c.Info

	in := standardInput{
		Language: "Solidity",
		Sources:  make(map[string]standardSource, len(c.Src)),
		Settings: standardSettings{
			Optimizer: optimizer{Enabled: info.Optimise.Enabled(), Runs: info.Optimise.Runs()},
			Libraries: info.Libraries,
			OutputSelection: map[string]map[string][]string{
				info.Entrypoint: {info.Name: {"abi", "evm.bytecode"}},
			},
		},
	}
	for name, content := range c.Src {
		in.Sources[name] = standardSource{Content: content}
	}

	input, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding standard input: %w", err)
	}
	raw, err := mod.CompileStandard(string(input))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompilationFailed, err)
	}

	var out standardOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: decoding compiler output: %v", ErrCompilationFailed, err)
	}

	var errs, warnings []Diagnostic
	for _, d := range out.Errors {
		if d.Severity == "error" {
			errs = append(errs, d)
		} else {
			warnings = append(warnings, d)
		}
	}
	if len(errs) > 0 {
		return nil, &FailedError{Diagnostics: errs}
	}

	contract, ok := out.Contracts[info.Entrypoint][info.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s not in compiler output", ErrCompilationFailed, info.Entrypoint, info.Name)
	}

	var abi bytes.Buffer
	if err := json.Compact(&abi, contract.ABI); err != nil {
		return nil, fmt.Errorf("%w: invalid abi in compiler output: %v", ErrCompilationFailed, err)
	}

	return &Result{
		ABI:      abi.String(),
		Bytecode: contract.EVM.Bytecode.Object,
		Warnings: warnings,
	}, nil
}
