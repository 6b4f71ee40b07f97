// Package singlepass is a code generation backend emitting amd64 machine code in one pass over
// each function body. It supports the integer subset of WebAssembly that needs no control
// flow and no memory: locals, constants, integer arithmetic and direct calls between local
// functions.
package singlepass

import (
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/wasm"
)

// Compiler implements compiler.Compiler.
type Compiler struct{}

var _ compiler.Compiler = (*Compiler)(nil)

// New returns the singlepass backend.
func New() *Compiler {
	return &Compiler{}
}

// Name implements compiler.Compiler.Name.
func (*Compiler) Name() string {
	return "singlepass"
}

// ValidateModule implements compiler.Compiler.ValidateModule. Besides the structural checks of
// the binary format, every function body is type checked against the supported subset.
func (*Compiler) ValidateModule(features wasm.Features, bin []byte) error {
	translation, err := compiler.NewModuleEnvironment(features).Translate(bin)
	if err != nil {
		return err
	}
	m := translation.Module
	for i := range translation.FunctionBodyInputs {
		fc, err := newFuncCompiler(m, wasm.Index(i), &translation.FunctionBodyInputs[i])
		if err != nil {
			return err
		}
		if err = fc.generate(); err != nil {
			return errors.Wrapf(err, "function[%d]", m.FunctionIndex(wasm.Index(i)))
		}
	}
	return nil
}

// CompileModule implements compiler.Compiler.CompileModule.
func (*Compiler) CompileModule(target compiler.Target, info *compiler.CompileModuleInfo, _ *compiler.ModuleTranslationState, bodies []compiler.FunctionBodyData) (*compiler.Compilation, error) {
	if target.Architecture != compiler.ArchitectureAmd64 {
		return nil, errors.Wrapf(compiler.ErrUnsupportedTarget, "singlepass generates amd64 code, not %s", target.Architecture)
	}
	m := info.Module
	if n := m.LocalFunctionCount(); n != len(bodies) {
		return nil, errors.Errorf("%d function bodies for %d local functions", len(bodies), n)
	}

	functions := make([]compiler.CompiledFunction, len(bodies))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range bodies {
		local := wasm.Index(i)
		g.Go(func() error {
			f, err := compileFunction(m, local, &bodies[local])
			if err != nil {
				return errors.Wrapf(err, "function[%d]", m.FunctionIndex(local))
			}
			functions[local] = *f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	callTrampolines := make([]compiler.FunctionBody, len(m.Signatures))
	for i := range m.Signatures {
		t, err := genCallTrampoline(&m.Signatures[i])
		if err != nil {
			return nil, errors.Wrapf(err, "call trampoline for signature %d", i)
		}
		callTrampolines[i] = t
	}

	dynamicTrampolines := make([]compiler.FunctionBody, m.ImportCounts.Functions)
	for i := range dynamicTrampolines {
		t, err := genDynamicTrampoline(m.FunctionType(wasm.Index(i)))
		if err != nil {
			return nil, errors.Wrapf(err, "dynamic trampoline for function %d", i)
		}
		dynamicTrampolines[i] = t
	}

	return &compiler.Compilation{
		Functions:                  functions,
		FunctionCallTrampolines:    callTrampolines,
		DynamicFunctionTrampolines: dynamicTrampolines,
	}, nil
}

func compileFunction(m *wasm.ModuleInfo, local wasm.Index, input *compiler.FunctionBodyData) (*compiler.CompiledFunction, error) {
	fc, err := newFuncCompiler(m, local, input)
	if err != nil {
		return nil, err
	}
	if err = fc.generate(); err != nil {
		return nil, err
	}
	return fc.finish()
}
