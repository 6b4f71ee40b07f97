package wasm

import (
	"fmt"
	"strings"
)

// Index is the offset in an index namespace, not necessarily an absolute position in a Module section. This is because
// index namespaces are often preceded by a corresponding type in the Module.ImportSection.
//
// For example, the function index namespace starts with any ExternTypeFunc in the Module.ImportSection followed by
// the Module.FunctionSection
//
// See https://www.w3.org/TR/wasm-core-2/#binary-index
type Index = uint32

// ValueType is the binary encoding of a type such as i32
// See https://www.w3.org/TR/wasm-core-2/#binary-valtype
//
// Note: This is a type alias as it is easier to encode and decode in the binary format.
type ValueType = byte

const (
	ValueTypeI32       ValueType = 0x7f
	ValueTypeI64       ValueType = 0x7e
	ValueTypeF32       ValueType = 0x7d
	ValueTypeF64       ValueType = 0x7c
	ValueTypeV128      ValueType = 0x7b
	ValueTypeFuncref   ValueType = 0x70
	ValueTypeExternref ValueType = 0x6f
)

// ValueTypeName returns the type name of the given ValueType as a string.
// These type names match the names used in the WebAssembly text format.
//
// Note: This returns "unknown", if an undefined ValueType value is passed.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	}
	return "unknown"
}

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/wasm-core-2/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// ExternTypeName returns the name of the WebAssembly Text Format field of the given type.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return "func"
	case ExternTypeTable:
		return "table"
	case ExternTypeMemory:
		return "memory"
	case ExternTypeGlobal:
		return "global"
	}
	return fmt.Sprintf("%#x", et)
}

// FunctionType is a possibly empty function signature.
//
// See https://www.w3.org/TR/wasm-core-2/#function-types%E2%91%A0
type FunctionType struct {
	// Params are the possibly empty sequence of value types accepted by a function with this signature.
	Params []ValueType

	// Results are the possibly empty sequence of value types returned by a function with this signature.
	Results []ValueType
}

// EqualsSignature returns true if the function type has the same parameters and results.
func (f *FunctionType) EqualsSignature(params []ValueType, results []ValueType) bool {
	return string(f.Params) == string(params) && string(f.Results) == string(results)
}

// Key returns a string unique to the signature, usable as a map key.
func (f *FunctionType) Key() string {
	var b strings.Builder
	b.Grow(len(f.Params) + len(f.Results) + 1)
	b.Write(f.Params)
	b.WriteByte('_')
	b.Write(f.Results)
	return b.String()
}

// String implements fmt.Stringer, formatting as "(i32, i32) -> (i32)".
func (f *FunctionType) String() string {
	return "(" + valueTypesString(f.Params) + ") -> (" + valueTypesString(f.Results) + ")"
}

func valueTypesString(vts []ValueType) string {
	names := make([]string, len(vts))
	for i, vt := range vts {
		names[i] = ValueTypeName(vt)
	}
	return strings.Join(names, ", ")
}

// MemoryType describes the limits of a linear memory in pages of 64KiB.
//
// See https://www.w3.org/TR/wasm-core-2/#memory-types%E2%91%A0
type MemoryType struct {
	Min uint32
	// Max is nil when the memory has no declared maximum.
	Max    *uint32
	Shared bool
}

// TableType describes the element type and limits of a table.
//
// See https://www.w3.org/TR/wasm-core-2/#table-types%E2%91%A0
type TableType struct {
	ElemType ValueType
	Min      uint32
	// Max is nil when the table has no declared maximum.
	Max *uint32
}

// GlobalType is the type of a global variable.
//
// See https://www.w3.org/TR/wasm-core-2/#global-types%E2%91%A0
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// MemoryPageSize is the unit of memory length in WebAssembly.
const MemoryPageSize = uint32(65536)

// MemoryLimitPages is the maximum number of pages defined for a 32-bit address space.
const MemoryLimitPages = uint32(65536)
