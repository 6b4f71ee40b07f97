package universal

import (
	"bytes"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/executable"
	"github.com/wasmforge/universal/internal/platform"
	"github.com/wasmforge/universal/wasm"
)

// executableSource is what the loader reads from an executable. It is implemented by an owned
// Executable and by a View over serialized bytes, so loading never converts one into the other.
type executableSource interface {
	// check reports an inconsistent executable before anything is laid out.
	check() error
	compileInfo() *compiler.CompileModuleInfo
	architecture() compiler.Architecture
	cpuFeatures() platform.CpuFeature

	functionCount() int
	functionBody(i int) compiler.FunctionBody
	functionRelocations(i int) relocationList
	functionJumpTables(i int) jumpTableList
	functionFrameInfo(i int) compiler.CompiledFunctionFrameInfo

	callTrampolineCount() int
	callTrampoline(i int) compiler.FunctionBody
	dynamicTrampolineCount() int
	dynamicTrampoline(i int) compiler.FunctionBody

	customSectionCount() int
	customSectionProtection(i int) compiler.CustomSectionProtection
	customSectionBytes(i int) []byte
	customSectionRelocations(i int) relocationList
	trampolines() *compiler.TrampolinesSection

	dataInitializers() []wasm.DataInitializer
	passiveData() (map[wasm.Index][]byte, error)
	passiveElements() (map[wasm.Index][]wasm.Index, error)
}

// relocationList is a list of relocations, decoded or serialized.
type relocationList interface {
	Len() int
	At(i int) compiler.Relocation
}

// jumpTableList is a list of jump table offsets, decoded or serialized.
type jumpTableList interface {
	Len() int
	At(i int) uint32
}

type ownedRelocations []compiler.Relocation

func (r ownedRelocations) Len() int                     { return len(r) }
func (r ownedRelocations) At(i int) compiler.Relocation { return r[i] }

type ownedJumpTables compiler.JumpTableOffsets

func (j ownedJumpTables) Len() int        { return len(j) }
func (j ownedJumpTables) At(i int) uint32 { return j[i] }

type ownedSource struct {
	exe *executable.Executable
}

func (s ownedSource) check() error                             { return s.exe.Check() }
func (s ownedSource) compileInfo() *compiler.CompileModuleInfo { return &s.exe.CompileInfo }
func (s ownedSource) architecture() compiler.Architecture      { return s.exe.Architecture }
func (s ownedSource) cpuFeatures() platform.CpuFeature         { return s.exe.CpuFeatures }
func (s ownedSource) functionCount() int                       { return len(s.exe.FunctionBodies) }

func (s ownedSource) functionBody(i int) compiler.FunctionBody {
	return s.exe.FunctionBodies[i]
}

func (s ownedSource) functionRelocations(i int) relocationList {
	if i >= len(s.exe.FunctionRelocations) {
		return ownedRelocations(nil)
	}
	return ownedRelocations(s.exe.FunctionRelocations[i])
}

func (s ownedSource) functionJumpTables(i int) jumpTableList {
	if i >= len(s.exe.FunctionJumpTables) {
		return ownedJumpTables(nil)
	}
	return ownedJumpTables(s.exe.FunctionJumpTables[i])
}

func (s ownedSource) functionFrameInfo(i int) compiler.CompiledFunctionFrameInfo {
	if i >= len(s.exe.FunctionFrameInfo) {
		return compiler.CompiledFunctionFrameInfo{}
	}
	return s.exe.FunctionFrameInfo[i]
}

func (s ownedSource) callTrampolineCount() int { return len(s.exe.FunctionCallTrampolines) }

func (s ownedSource) callTrampoline(i int) compiler.FunctionBody {
	return s.exe.FunctionCallTrampolines[i]
}

func (s ownedSource) dynamicTrampolineCount() int { return len(s.exe.DynamicFunctionTrampolines) }

func (s ownedSource) dynamicTrampoline(i int) compiler.FunctionBody {
	return s.exe.DynamicFunctionTrampolines[i]
}

func (s ownedSource) customSectionCount() int { return len(s.exe.CustomSections) }

func (s ownedSource) customSectionProtection(i int) compiler.CustomSectionProtection {
	return s.exe.CustomSections[i].Protection
}

func (s ownedSource) customSectionBytes(i int) []byte { return s.exe.CustomSections[i].Bytes }

func (s ownedSource) customSectionRelocations(i int) relocationList {
	return ownedRelocations(s.exe.CustomSections[i].Relocations)
}

func (s ownedSource) trampolines() *compiler.TrampolinesSection { return s.exe.Trampolines }

func (s ownedSource) dataInitializers() []wasm.DataInitializer { return s.exe.DataInitializers }

func (s ownedSource) passiveData() (map[wasm.Index][]byte, error) {
	return s.exe.Module().PassiveData, nil
}

func (s ownedSource) passiveElements() (map[wasm.Index][]wasm.Index, error) {
	return s.exe.Module().PassiveElements, nil
}

type viewSource struct {
	v *executable.View
}

// check is a no-op: NewView already checked the buffer.
func (s viewSource) check() error                             { return nil }
func (s viewSource) compileInfo() *compiler.CompileModuleInfo { return s.v.CompileInfo() }
func (s viewSource) architecture() compiler.Architecture      { return s.v.Architecture() }
func (s viewSource) cpuFeatures() platform.CpuFeature         { return s.v.CpuFeatures() }
func (s viewSource) functionCount() int                       { return s.v.FunctionCount() }

func (s viewSource) functionBody(i int) compiler.FunctionBody { return s.v.FunctionBody(i) }

func (s viewSource) functionRelocations(i int) relocationList {
	return s.v.FunctionRelocations(i)
}

func (s viewSource) functionJumpTables(i int) jumpTableList { return s.v.FunctionJumpTables(i) }

func (s viewSource) functionFrameInfo(i int) compiler.CompiledFunctionFrameInfo {
	return s.v.FunctionFrameInfo(i)
}

func (s viewSource) callTrampolineCount() int { return s.v.CallTrampolineCount() }

func (s viewSource) callTrampoline(i int) compiler.FunctionBody { return s.v.CallTrampoline(i) }

func (s viewSource) dynamicTrampolineCount() int { return s.v.DynamicTrampolineCount() }

func (s viewSource) dynamicTrampoline(i int) compiler.FunctionBody {
	return s.v.DynamicTrampoline(i)
}

func (s viewSource) customSectionCount() int { return s.v.CustomSectionCount() }

func (s viewSource) customSectionProtection(i int) compiler.CustomSectionProtection {
	return s.v.CustomSectionProtection(i)
}

func (s viewSource) customSectionBytes(i int) []byte { return s.v.CustomSectionBytes(i) }

func (s viewSource) customSectionRelocations(i int) relocationList {
	return s.v.CustomSectionRelocations(i)
}

func (s viewSource) trampolines() *compiler.TrampolinesSection { return s.v.Trampolines() }

// dataInitializers copies the data out of the buffer, like passive data, since the artifact
// outlives the load.
func (s viewSource) dataInitializers() []wasm.DataInitializer {
	ret := s.v.DataInitializers()
	for i := range ret {
		ret[i].Data = bytes.Clone(ret[i].Data)
	}
	return ret
}

func (s viewSource) passiveData() (map[wasm.Index][]byte, error) { return s.v.PassiveData() }

func (s viewSource) passiveElements() (map[wasm.Index][]wasm.Index, error) {
	return s.v.PassiveElements()
}
