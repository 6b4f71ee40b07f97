package compiler

import "github.com/wasmforge/universal/wasm"

// UnwindKind is the format of UnwindInfo.
type UnwindKind uint8

const (
	// UnwindWindowsX64 is UNWIND_INFO, which must be written into code memory right after the
	// function body.
	UnwindWindowsX64 UnwindKind = iota + 1
	// UnwindSystemV is a DWARF CFI record registered separately from the code.
	UnwindSystemV
)

// UnwindInfo is the platform unwind data of one function.
type UnwindInfo struct {
	Kind UnwindKind
	Data []byte
}

// FunctionBody is machine code plus optional unwind data.
type FunctionBody struct {
	Body       []byte
	UnwindInfo *UnwindInfo
}

// InlineUnwindInfo returns the unwind bytes that must follow the body in code memory, if any.
func (f *FunctionBody) InlineUnwindInfo() []byte {
	if f.UnwindInfo != nil && f.UnwindInfo.Kind == UnwindWindowsX64 {
		return f.UnwindInfo.Data
	}
	return nil
}

// JumpTableOffsets are the offsets of the jump tables of one function, by jump table index.
type JumpTableOffsets []uint32

// TrapCode is the reason native code traps.
type TrapCode uint8

const (
	TrapStackOverflow TrapCode = iota
	TrapHeapAccessOutOfBounds
	TrapTableAccessOutOfBounds
	TrapIndirectCallToNull
	TrapBadSignature
	TrapIntegerOverflow
	TrapIntegerDivisionByZero
	TrapBadConversionToInteger
	TrapUnreachableCodeReached
)

// TrapInformation marks an instruction that may trap.
type TrapInformation struct {
	CodeOffset uint32
	TrapCode   TrapCode
}

// InstructionAddressMap maps a range of generated code to the wasm instruction it came from.
type InstructionAddressMap struct {
	// SrcLoc is the offset of the instruction in the module binary.
	SrcLoc     uint32
	CodeOffset uint32
	CodeLen    uint32
}

// FunctionAddressMap maps the generated code of one function to the module binary.
type FunctionAddressMap struct {
	Instructions []InstructionAddressMap
	StartSrcLoc  uint32
	EndSrcLoc    uint32
	BodyOffset   uint32
	BodyLen      uint32
}

// Lookup returns the source location of the instruction covering codeOffset.
func (m *FunctionAddressMap) Lookup(codeOffset uint32) (uint32, bool) {
	for i := len(m.Instructions) - 1; i >= 0; i-- {
		in := &m.Instructions[i]
		if codeOffset >= in.CodeOffset && codeOffset < in.CodeOffset+in.CodeLen {
			return in.SrcLoc, true
		}
	}
	if codeOffset >= m.BodyOffset && codeOffset < m.BodyOffset+m.BodyLen {
		return m.StartSrcLoc, true
	}
	return 0, false
}

// CompiledFunctionFrameInfo is the debug information of one function.
type CompiledFunctionFrameInfo struct {
	Traps      []TrapInformation
	AddressMap FunctionAddressMap
}

// CompiledFunction is the output of compiling one local function.
type CompiledFunction struct {
	Body        FunctionBody
	Relocations []Relocation
	JumpTables  JumpTableOffsets
	FrameInfo   CompiledFunctionFrameInfo
}

// FunctionBodyData is the input of compiling one local function.
type FunctionBodyData struct {
	LocalTypes []wasm.ValueType
	// Body is the function body from the code section, ending with OpcodeEnd.
	Body []byte
	// ModuleOffset is the offset of Body in the module binary.
	ModuleOffset uint64
}
