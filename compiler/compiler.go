// Package compiler defines the contract between the engine and a code generation backend: the
// target description, the translated module handed to a backend, and everything a backend
// returns.
package compiler

import (
	"github.com/pkg/errors"

	"github.com/wasmforge/universal/vm"
	"github.com/wasmforge/universal/wasm"
)

// ErrUnsupportedTarget is returned, possibly wrapped, by a backend asked to generate code for a
// Target it can't handle.
var ErrUnsupportedTarget = errors.New("unsupported target")

// CompileModuleInfo is the module a backend compiles, along with the styles chosen for its
// memories and tables.
type CompileModuleInfo struct {
	Features wasm.Features
	Module   *wasm.ModuleInfo
	// MemoryStyles is indexed by memory index, imported memories first.
	MemoryStyles []vm.MemoryStyle
	// TableStyles is indexed by table index, imported tables first.
	TableStyles []vm.TableStyle
}

// Compiler is a code generation backend.
type Compiler interface {
	// Name identifies the backend, for example in cache keys.
	Name() string

	// ValidateModule checks binary can be compiled with features enabled.
	ValidateModule(features wasm.Features, binary []byte) error

	// CompileModule compiles every local function of info, along with the trampolines the
	// engine needs to call them.
	CompileModule(target Target, info *CompileModuleInfo, state *ModuleTranslationState, bodies []FunctionBodyData) (*Compilation, error)
}
