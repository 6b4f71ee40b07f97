// Package executable holds compiled, unlinked modules and their serialized form. An Executable
// is what a compiler produced for one module. Its serialized form is read back either into an
// owned Executable or through a View that slices every field out of the buffer in place.
package executable

import (
	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/internal/platform"
	"github.com/wasmforge/universal/wasm"
)

// Executable is the relocatable output of compiling one module. Function lists are indexed by
// local function index, call trampolines by signature index and dynamic trampolines by
// imported function index.
type Executable struct {
	CompileInfo compiler.CompileModuleInfo

	FunctionBodies      []compiler.FunctionBody
	FunctionRelocations [][]compiler.Relocation
	FunctionJumpTables  []compiler.JumpTableOffsets
	FunctionFrameInfo   []compiler.CompiledFunctionFrameInfo

	FunctionCallTrampolines    []compiler.FunctionBody
	DynamicFunctionTrampolines []compiler.FunctionBody

	// CustomSections carry their relocations.
	CustomSections []compiler.CustomSection

	Debug       *compiler.Dwarf
	Trampolines *compiler.TrampolinesSection

	DataInitializers []wasm.DataInitializer

	// Architecture is the instruction set of the generated code.
	Architecture compiler.Architecture
	// CpuFeatures are the capabilities the generated code assumes.
	CpuFeatures platform.CpuFeature
}

// New packages the output of a compiler for target.
func New(info compiler.CompileModuleInfo, c *compiler.Compilation, data []wasm.DataInitializer, target compiler.Target) *Executable {
	return &Executable{
		CompileInfo:                info,
		FunctionBodies:             c.FunctionBodies(),
		FunctionRelocations:        c.Relocations(),
		FunctionJumpTables:         c.JumpTableOffsets(),
		FunctionFrameInfo:          c.FrameInfo(),
		FunctionCallTrampolines:    c.FunctionCallTrampolines,
		DynamicFunctionTrampolines: c.DynamicFunctionTrampolines,
		CustomSections:             c.CustomSections,
		Debug:                      c.Debug,
		Trampolines:                c.Trampolines,
		DataInitializers:           data,
		Architecture:               target.Architecture,
		CpuFeatures:                target.CpuFeatures,
	}
}

// Module returns the description of the compiled module.
func (e *Executable) Module() *wasm.ModuleInfo {
	return e.CompileInfo.Module
}

// CodeSize returns the number of bytes of machine code and section data, before alignment.
func (e *Executable) CodeSize() int {
	var n int
	for _, list := range [][]compiler.FunctionBody{e.FunctionBodies, e.FunctionCallTrampolines, e.DynamicFunctionTrampolines} {
		for i := range list {
			n += len(list[i].Body) + len(list[i].InlineUnwindInfo())
		}
	}
	for i := range e.CustomSections {
		n += len(e.CustomSections[i].Bytes)
	}
	return n
}
