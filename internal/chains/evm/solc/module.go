package solc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// Module is a loaded compiler build. Builds expose a subset of the entry
// points depending on their age.
type Module interface {
	// Version is the self-reported version string, empty if the build does
	// not report one.
	Version() string
	HasMulti() bool
	HasStandard() bool
	// CompileSingle compiles one source text with the oldest entry point.
	CompileSingle(source string, optimize bool) (string, error)
	// CompileMulti compiles a {"sources": {...}} JSON document.
	CompileMulti(input string, optimize bool) (string, error)
	// CompileStandard compiles a standard JSON input document.
	CompileStandard(input string) (string, error)
}

var errEntryPoint = errors.New("entry point not exported by this build")

// soljson hosts an emscripten soljson build in a goja runtime. goja runtimes
// are not safe for concurrent use, so every call holds mu.
type soljson struct {
	mu sync.Mutex
	vm *goja.Runtime

	version         string
	compileSingle   goja.Callable
	compileMulti    goja.Callable
	compileStandard goja.Callable
}

// LoadSoljson evaluates soljson source and binds its compiler entry points.
func LoadSoljson(version string, code []byte) (Module, error) {
	vm := goja.New()

	// emscripten's shell environment writes through these.
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"print", "printErr"} {
		if err := vm.Set(name, noop); err != nil {
			return nil, err
		}
	}

	if _, err := vm.RunScript(FileName(version), string(code)); err != nil {
		return nil, fmt.Errorf("evaluating soljson: %w", err)
	}

	module := vm.Get("Module")
	if module == nil || goja.IsUndefined(module) || goja.IsNull(module) {
		return nil, errors.New("soljson did not define Module")
	}
	obj := module.ToObject(vm)
	cwrap, ok := goja.AssertFunction(obj.Get("cwrap"))
	if !ok {
		return nil, errors.New("soljson Module has no cwrap")
	}

	exported := func(name string) bool {
		v := obj.Get("_" + name)
		return v != nil && !goja.IsUndefined(v)
	}
	wrap := func(name string, args ...string) (goja.Callable, error) {
		types := make([]any, len(args))
		for i, a := range args {
			types[i] = a
		}
		fn, err := cwrap(goja.Undefined(), vm.ToValue(name), vm.ToValue("string"), vm.ToValue(types))
		if err != nil {
			return nil, fmt.Errorf("wrapping %s: %w", name, err)
		}
		callable, ok := goja.AssertFunction(fn)
		if !ok {
			return nil, fmt.Errorf("wrapping %s: not a function", name)
		}
		return callable, nil
	}

	s := &soljson{vm: vm}
	var err error

	for _, name := range []string{"solidity_version", "version"} {
		if !exported(name) {
			continue
		}
		fn, werr := wrap(name)
		if werr != nil {
			return nil, werr
		}
		v, cerr := fn(goja.Undefined())
		if cerr != nil {
			return nil, fmt.Errorf("calling %s: %w", name, cerr)
		}
		s.version = v.String()
		break
	}

	if exported("compileJSON") {
		if s.compileSingle, err = wrap("compileJSON", "string", "number"); err != nil {
			return nil, err
		}
	}
	if exported("compileJSONMulti") {
		if s.compileMulti, err = wrap("compileJSONMulti", "string", "number"); err != nil {
			return nil, err
		}
	}
	switch {
	case exported("solidity_compile"):
		s.compileStandard, err = wrap("solidity_compile", "string", "number")
	case exported("compileStandard"):
		s.compileStandard, err = wrap("compileStandard", "string", "number")
	}
	if err != nil {
		return nil, err
	}

	if s.compileSingle == nil && s.compileMulti == nil && s.compileStandard == nil {
		return nil, errors.New("soljson exports no compile entry point")
	}
	return s, nil
}

func (s *soljson) Version() string   { return s.version }
func (s *soljson) HasMulti() bool    { return s.compileMulti != nil }
func (s *soljson) HasStandard() bool { return s.compileStandard != nil }

func (s *soljson) CompileSingle(source string, optimize bool) (string, error) {
	return s.call(s.compileSingle, source, flag(optimize))
}

func (s *soljson) CompileMulti(input string, optimize bool) (string, error) {
	return s.call(s.compileMulti, input, flag(optimize))
}

// CompileStandard compiles without an import callback.
func (s *soljson) CompileStandard(input string) (string, error) {
	return s.call(s.compileStandard, input, 0)
}

func (s *soljson) call(fn goja.Callable, input string, n int) (string, error) {
	if fn == nil {
		return "", errEntryPoint
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := fn(goja.Undefined(), s.vm.ToValue(input), s.vm.ToValue(n))
	if err != nil {
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return "", fmt.Errorf("compiler threw: %s", strings.TrimSpace(exc.Value().String()))
		}
		return "", err
	}
	return out.String(), nil
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
