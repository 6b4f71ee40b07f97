package compiler

// Compilation is the output of compiling a module.
type Compilation struct {
	// Functions is indexed by local function index.
	Functions      []CompiledFunction
	CustomSections []CustomSection
	// FunctionCallTrampolines is indexed by signature index.
	FunctionCallTrampolines []FunctionBody
	// DynamicFunctionTrampolines is indexed by imported function index.
	DynamicFunctionTrampolines []FunctionBody
	Debug                      *Dwarf
	Trampolines                *TrampolinesSection
}

// FunctionBodies returns the body of every local function.
func (c *Compilation) FunctionBodies() []FunctionBody {
	ret := make([]FunctionBody, len(c.Functions))
	for i := range c.Functions {
		ret[i] = c.Functions[i].Body
	}
	return ret
}

// Relocations returns the relocations of every local function.
func (c *Compilation) Relocations() [][]Relocation {
	ret := make([][]Relocation, len(c.Functions))
	for i := range c.Functions {
		ret[i] = c.Functions[i].Relocations
	}
	return ret
}

// JumpTableOffsets returns the jump table offsets of every local function.
func (c *Compilation) JumpTableOffsets() []JumpTableOffsets {
	ret := make([]JumpTableOffsets, len(c.Functions))
	for i := range c.Functions {
		ret[i] = c.Functions[i].JumpTables
	}
	return ret
}

// FrameInfo returns the frame information of every local function.
func (c *Compilation) FrameInfo() []CompiledFunctionFrameInfo {
	ret := make([]CompiledFunctionFrameInfo, len(c.Functions))
	for i := range c.Functions {
		ret[i] = c.Functions[i].FrameInfo
	}
	return ret
}

// CustomSectionRelocations returns the relocations of every custom section.
func (c *Compilation) CustomSectionRelocations() [][]Relocation {
	ret := make([][]Relocation, len(c.CustomSections))
	for i := range c.CustomSections {
		ret[i] = c.CustomSections[i].Relocations
	}
	return ret
}
