package vm

import "github.com/wasmforge/universal/wasm"

// Offset is the offset of a field from the start of the vmctx.
type Offset uint32

// VMOffsets describes the layout of the vmctx of an instance, the object native code receives
// as its first argument. Areas follow each other in this order:
//
//	signature_ids      [num_signature_ids]SharedSignatureIndex
//	imported_functions [num_imported_functions]VMFunctionImport
//	imported_tables    [num_imported_tables]VMTableImport
//	imported_memories  [num_imported_memories]VMMemoryImport
//	imported_globals   [num_imported_globals]VMGlobalImport
//	tables             [num_local_tables]VMTableDefinition
//	memories           [num_local_memories]*VMMemoryDefinition
//	globals            [num_local_globals]*VMGlobalDefinition
//	builtin_functions  [LibCallCount]uintptr
//	trap_handler       uintptr
//	stack_limit        uintptr
type VMOffsets struct {
	PointerSize uint8

	NumSignatureIDs      uint32
	NumImportedFunctions uint32
	NumImportedTables    uint32
	NumImportedMemories  uint32
	NumImportedGlobals   uint32
	NumLocalTables       uint32
	NumLocalMemories     uint32
	NumLocalGlobals      uint32

	signatureIDsBegin      Offset
	importedFunctionsBegin Offset
	importedTablesBegin    Offset
	importedMemoriesBegin  Offset
	importedGlobalsBegin   Offset
	tablesBegin            Offset
	memoriesBegin          Offset
	globalsBegin           Offset
	builtinFunctionsBegin  Offset
	trapHandler            Offset
	stackLimit             Offset
	size                   Offset
}

// NewVMOffsets returns the layout for a module with no entities. Use WithModuleInfo to size it.
func NewVMOffsets(pointerSize uint8) VMOffsets {
	o := VMOffsets{PointerSize: pointerSize}
	o.precompute()
	return o
}

// ForHost returns NewVMOffsets for the pointer size of the running process.
func ForHost() VMOffsets {
	return NewVMOffsets(hostPointerSize)
}

// WithModuleInfo returns a copy of o sized for m.
func (o VMOffsets) WithModuleInfo(m *wasm.ModuleInfo) VMOffsets {
	o.NumSignatureIDs = uint32(len(m.Signatures))
	o.NumImportedFunctions = m.ImportCounts.Functions
	o.NumImportedTables = m.ImportCounts.Tables
	o.NumImportedMemories = m.ImportCounts.Memories
	o.NumImportedGlobals = m.ImportCounts.Globals
	o.NumLocalTables = uint32(len(m.Tables)) - m.ImportCounts.Tables
	o.NumLocalMemories = uint32(len(m.Memories)) - m.ImportCounts.Memories
	o.NumLocalGlobals = uint32(len(m.Globals)) - m.ImportCounts.Globals
	o.precompute()
	return o
}

func (o *VMOffsets) precompute() {
	ptr := uint32(o.PointerSize)
	align := func(off, to uint32) uint32 { return (off + to - 1) / to * to }

	var off uint32
	o.signatureIDsBegin = Offset(off)
	off += o.NumSignatureIDs * 4
	off = align(off, ptr)
	o.importedFunctionsBegin = Offset(off)
	off += o.NumImportedFunctions * o.SizeOfFunctionImport()
	o.importedTablesBegin = Offset(off)
	off += o.NumImportedTables * o.SizeOfTableImport()
	o.importedMemoriesBegin = Offset(off)
	off += o.NumImportedMemories * o.SizeOfMemoryImport()
	o.importedGlobalsBegin = Offset(off)
	off += o.NumImportedGlobals * o.SizeOfGlobalImport()
	o.tablesBegin = Offset(off)
	off += o.NumLocalTables * o.SizeOfTableDefinition()
	o.memoriesBegin = Offset(off)
	off += o.NumLocalMemories * ptr
	o.globalsBegin = Offset(off)
	off += o.NumLocalGlobals * ptr
	o.builtinFunctionsBegin = Offset(off)
	off += uint32(LibCallCount) * ptr
	o.trapHandler = Offset(off)
	off += ptr
	o.stackLimit = Offset(off)
	off += ptr
	o.size = Offset(off)
}

// SizeOfFunctionImport is the size of a VMFunctionImport: the body and the vmctx of the callee.
func (o *VMOffsets) SizeOfFunctionImport() uint32 {
	return 2 * uint32(o.PointerSize)
}

// SizeOfTableImport is the size of a VMTableImport: the definition and the owning vmctx.
func (o *VMOffsets) SizeOfTableImport() uint32 {
	return 2 * uint32(o.PointerSize)
}

// SizeOfMemoryImport is the size of a VMMemoryImport: the definition and the owning vmctx.
func (o *VMOffsets) SizeOfMemoryImport() uint32 {
	return 2 * uint32(o.PointerSize)
}

// SizeOfGlobalImport is the size of a VMGlobalImport: a pointer to the definition.
func (o *VMOffsets) SizeOfGlobalImport() uint32 {
	return uint32(o.PointerSize)
}

// SizeOfTableDefinition is the size of a VMTableDefinition: the base pointer and a u32 length,
// padded to pointer alignment.
func (o *VMOffsets) SizeOfTableDefinition() uint32 {
	return 2 * uint32(o.PointerSize)
}

// SignatureID returns the offset of the shared signature index of signature i.
func (o *VMOffsets) SignatureID(i wasm.Index) Offset {
	return o.signatureIDsBegin + Offset(i*4)
}

// ImportedFunction returns the offset of the VMFunctionImport of imported function i.
func (o *VMOffsets) ImportedFunction(i wasm.Index) Offset {
	return o.importedFunctionsBegin + Offset(i*o.SizeOfFunctionImport())
}

// ImportedTable returns the offset of the VMTableImport of imported table i.
func (o *VMOffsets) ImportedTable(i wasm.Index) Offset {
	return o.importedTablesBegin + Offset(i*o.SizeOfTableImport())
}

// ImportedMemory returns the offset of the VMMemoryImport of imported memory i.
func (o *VMOffsets) ImportedMemory(i wasm.Index) Offset {
	return o.importedMemoriesBegin + Offset(i*o.SizeOfMemoryImport())
}

// ImportedGlobal returns the offset of the VMGlobalImport of imported global i.
func (o *VMOffsets) ImportedGlobal(i wasm.Index) Offset {
	return o.importedGlobalsBegin + Offset(i*o.SizeOfGlobalImport())
}

// Table returns the offset of the VMTableDefinition of local table i.
func (o *VMOffsets) Table(i wasm.Index) Offset {
	return o.tablesBegin + Offset(i*o.SizeOfTableDefinition())
}

// Memory returns the offset of the pointer to the VMMemoryDefinition of local memory i.
func (o *VMOffsets) Memory(i wasm.Index) Offset {
	return o.memoriesBegin + Offset(i*uint32(o.PointerSize))
}

// Global returns the offset of the pointer to the VMGlobalDefinition of local global i.
func (o *VMOffsets) Global(i wasm.Index) Offset {
	return o.globalsBegin + Offset(i*uint32(o.PointerSize))
}

// BuiltinFunction returns the offset of the address of l.
func (o *VMOffsets) BuiltinFunction(l LibCall) Offset {
	return o.builtinFunctionsBegin + Offset(uint32(l)*uint32(o.PointerSize))
}

// TrapHandler returns the offset of the trap handler pointer.
func (o *VMOffsets) TrapHandler() Offset {
	return o.trapHandler
}

// StackLimit returns the offset of the stack limit.
func (o *VMOffsets) StackLimit() Offset {
	return o.stackLimit
}

// Size returns the size of the vmctx.
func (o *VMOffsets) Size() uint32 {
	return uint32(o.size)
}
