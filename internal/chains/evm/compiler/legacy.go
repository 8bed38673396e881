package compiler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/chains/evm/solc"
	"github.com/pendergraft/contraverify/internal/records"
)

type legacyOutput struct {
	Contracts map[string]legacyContract `json:"contracts"`
	Errors    []string                  `json:"errors"`
}

type legacyContract struct {
	Interface string `json:"interface"`
	Bytecode  string `json:"bytecode"`
}

func compileV021(mod solc.Module, c *records.Contract) (*Result, error) {
	return compileV016(mod, c)
}

func compileV016(mod solc.Module, c *records.Contract) (*Result, error) {
	if !mod.HasMulti() {
		return nil, fmt.Errorf("%w: %s has no multi-file entry point", ErrInvalidInput, c.Info.Compiler)
	}
	input, err := json.Marshal(map[string]any{"sources": c.Src})
	if err != nil {
		return nil, fmt.Errorf("encoding sources: %w", err)
	}
	raw, err := mod.CompileMulti(string(input), c.Info.Optimise.Enabled())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompilationFailed, err)
	}
	return legacyResult(raw, c)
}

func compileEarly(mod solc.Module, c *records.Contract) (*Result, error) {
	if len(c.Src) != 1 {
		return nil, fmt.Errorf("%w: compilers before 0.1.6 take exactly one source file, got %d", ErrInvalidInput, len(c.Src))
	}
	var source string
	for _, s := range c.Src {
		source = s
	}
	raw, err := mod.CompileSingle(source, c.Info.Optimise.Enabled())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompilationFailed, err)
	}
	return legacyResult(raw, c)
}

func legacyResult(raw string, c *records.Contract) (*Result, error) {
	var out legacyOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: decoding compiler output: %v", ErrCompilationFailed, err)
	}

	errs, warnings := partitionLegacy(out.Errors)
	if len(errs) > 0 {
		return nil, &FailedError{Diagnostics: errs}
	}

	name := c.Info.Name
	contract, ok := out.Contracts[name]
	if !ok {
		contract, ok = out.Contracts[c.Info.Entrypoint+":"+name]
	}
	if !ok {
		return nil, fmt.Errorf("%w: contract %s not in compiler output", ErrCompilationFailed, name)
	}

	code := evm.LinkLibraries(contract.Bytecode, flattenLibraries(c.Info.Libraries))
	if evm.HasLibraryPlaceholders(code) {
		return nil, fmt.Errorf("%w: unresolved library placeholders in %s", ErrInvalidInput, name)
	}

	return &Result{
		ABI:      strings.TrimSpace(contract.Interface),
		Bytecode: code,
		Warnings: warnings,
	}, nil
}

// partitionLegacy splits plain-text compiler messages by severity. Messages
// that are neither errors nor warnings count as errors.
func partitionLegacy(messages []string) (errs, warnings []Diagnostic) {
	for _, msg := range messages {
		switch {
		case strings.Contains(msg, " Warning: ") && !strings.Contains(msg, " Error: "):
			warnings = append(warnings, Diagnostic{Severity: "warning", Message: msg})
		default:
			errs = append(errs, Diagnostic{Severity: "error", Message: msg})
		}
	}
	return errs, warnings
}

// flattenLibraries maps both the bare and the file-qualified library name to
// its address, since builds differ in which one they put in placeholders.
func flattenLibraries(libs map[string]map[string]string) map[string]string {
	files := make([]string, 0, len(libs))
	for file := range libs {
		files = append(files, file)
	}
	sort.Strings(files)

	flat := make(map[string]string)
	for _, file := range files {
		for lib, addr := range libs[file] {
			flat[lib] = addr
			if file != "" {
				flat[file+":"+lib] = addr
			}
		}
	}
	return flat
}
