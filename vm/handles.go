// Package vm holds the runtime-facing types of a loaded module: the interned signature and
// function metadata handles, the opaque code pointers, the import descriptors, and the memory
// and table styles chosen by Tunables.
package vm

import (
	"fmt"

	"github.com/wasmforge/universal/internal/codememory"
	"github.com/wasmforge/universal/wasm"
)

// FunctionBodyPtr is the entry point of a function or dynamic trampoline in a published region.
type FunctionBodyPtr struct {
	addr codememory.Address
}

// NewFunctionBodyPtr wraps an address of a published region.
func NewFunctionBodyPtr(a codememory.Address) FunctionBodyPtr {
	return FunctionBodyPtr{addr: a}
}

// Uintptr returns the native address.
func (p FunctionBodyPtr) Uintptr() uintptr {
	return p.addr.Uintptr()
}

// IsNil returns true for the zero FunctionBodyPtr.
func (p FunctionBodyPtr) IsNil() bool {
	return p.addr.IsZero()
}

func (p FunctionBodyPtr) String() string {
	return fmt.Sprintf("%#x", p.Uintptr())
}

// SectionBodyPtr is the start of a custom section in a published region.
type SectionBodyPtr struct {
	addr codememory.Address
}

// NewSectionBodyPtr wraps an address of a published region.
func NewSectionBodyPtr(a codememory.Address) SectionBodyPtr {
	return SectionBodyPtr{addr: a}
}

// Uintptr returns the native address.
func (p SectionBodyPtr) Uintptr() uintptr {
	return p.addr.Uintptr()
}

// IsNil returns true for the zero SectionBodyPtr.
func (p SectionBodyPtr) IsNil() bool {
	return p.addr.IsZero()
}

// Trampoline is a call trampoline: it calls a function of one signature with arguments read
// from, and results written to, a slice of values.
type Trampoline struct {
	addr codememory.Address
}

// NewTrampoline wraps an address of a published region.
func NewTrampoline(a codememory.Address) Trampoline {
	return Trampoline{addr: a}
}

// Uintptr returns the native address.
func (t Trampoline) Uintptr() uintptr {
	return t.addr.Uintptr()
}

// IsNil returns true for the zero Trampoline.
func (t Trampoline) IsNil() bool {
	return t.addr.IsZero()
}

// LocalFunction is a function defined by a loaded module.
type LocalFunction struct {
	Body FunctionBodyPtr
	// Length is the size of the machine code, excluding unwind info.
	Length     uint32
	Signature  SharedSignatureIndex
	Trampoline Trampoline
}

// Import describes one import of a loaded module.
type Import struct {
	Module string
	Field  string
	// ImportNo is the position of the import in the import section.
	ImportNo uint32
	Type     ImportType
}

// ImportType is the kind-specific type of an import. Only the fields of Kind are set.
type ImportType struct {
	Kind wasm.ExternType

	// Signature and StaticTrampoline are set for function imports.
	Signature        SharedSignatureIndex
	StaticTrampoline Trampoline

	Table wasm.TableType

	Memory      wasm.MemoryType
	MemoryStyle MemoryStyle

	Global wasm.GlobalType
}

func (t *ImportType) String() string {
	switch t.Kind {
	case wasm.ExternTypeFunc:
		return fmt.Sprintf("func(sig=%d)", t.Signature)
	case wasm.ExternTypeTable:
		return "table(" + wasm.ValueTypeName(t.Table.ElemType) + ")"
	case wasm.ExternTypeMemory:
		return "memory(" + t.MemoryStyle.String() + ")"
	case wasm.ExternTypeGlobal:
		return "global(" + wasm.ValueTypeName(t.Global.ValType) + ")"
	}
	return wasm.ExternTypeName(t.Kind)
}
