// Package domain verifies contract records against their sources and the chain.
package domain

import (
	"errors"

	"github.com/pendergraft/contraverify/internal/abicheck"
	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/chains/evm/compiler"
	"github.com/pendergraft/contraverify/internal/chains/evm/solc"
)

var (
	// ErrSourceMismatch means recompiling the sources does not reproduce the
	// recorded ABI or bytecode.
	ErrSourceMismatch = errors.New("source mismatch")
	// ErrChainMismatch means the chain disagrees with the recorded address or
	// bytecode.
	ErrChainMismatch = errors.New("chain mismatch")
)

// Kind names of the error taxonomy.
const (
	KindCompilerUnavailable      = "CompilerUnavailable"
	KindCompilerLoad             = "CompilerLoadError"
	KindCompilerIdentityMismatch = "CompilerIdentityMismatch"
	KindCompilationFailed        = "CompilationFailed"
	KindConstructorSizeMismatch  = "ConstructorArgumentsSizeMismatch"
	KindConstructorInvalid       = "ConstructorArgumentsInvalid"
	KindSourceMismatch           = "SourceMismatch"
	KindChainMismatch            = "ChainMismatch"
	KindChainDataInconsistent    = "ChainDataInconsistent"
	KindTransactionHashMismatch  = "TransactionHashMismatch"
	KindUnexpectedSwarmMetadata  = "UnexpectedSwarmMetadata"
	KindInvalidTypeWidth         = "InvalidTypeWidth"
	KindInvalidInput             = "InvalidInput"
	KindInternal                 = "Internal"
)

var kinds = []struct {
	kind string
	err  error
}{
	{KindCompilerUnavailable, solc.ErrCompilerUnavailable},
	{KindCompilerLoad, solc.ErrCompilerLoad},
	{KindCompilerIdentityMismatch, compiler.ErrCompilerIdentityMismatch},
	{KindCompilationFailed, compiler.ErrCompilationFailed},
	{KindConstructorSizeMismatch, abicheck.ErrSizeMismatch},
	{KindConstructorInvalid, abicheck.ErrInvalid},
	{KindSourceMismatch, ErrSourceMismatch},
	{KindChainMismatch, ErrChainMismatch},
	{KindChainDataInconsistent, evm.ErrChainDataInconsistent},
	{KindTransactionHashMismatch, evm.ErrTransactionHashMismatch},
	{KindUnexpectedSwarmMetadata, compiler.ErrUnexpectedSwarmMetadata},
	{KindInvalidTypeWidth, abicheck.ErrInvalidTypeWidth},
	{KindInvalidInput, compiler.ErrInvalidInput},
}

// KindOf returns the taxonomy kind of err, KindInternal when it has none.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// KindError is a failure received by name, e.g. from a worker process. It
// matches the sentinel of its kind with errors.Is.
type KindError struct {
	Kind    string
	Message string
}

func (e *KindError) Error() string {
	return e.Message
}

func (e *KindError) Unwrap() error {
	for _, k := range kinds {
		if k.kind == e.Kind {
			return k.err
		}
	}
	return nil
}
