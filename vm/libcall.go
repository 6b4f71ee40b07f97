package vm

import "fmt"

// LibCall is a runtime routine generated code may call through a relocation or the
// builtin_functions area of the vmctx.
type LibCall uint32

const (
	LibCallCeilF32 LibCall = iota
	LibCallCeilF64
	LibCallFloorF32
	LibCallFloorF64
	LibCallNearestF32
	LibCallNearestF64
	LibCallTruncF32
	LibCallTruncF64
	LibCallMemory32Size
	LibCallImportedMemory32Size
	LibCallMemory32Grow
	LibCallImportedMemory32Grow
	LibCallMemory32Copy
	LibCallMemory32Fill
	LibCallMemory32Init
	LibCallDataDrop
	LibCallTableSize
	LibCallTableGet
	LibCallTableSet
	LibCallTableGrow
	LibCallTableCopy
	LibCallTableInit
	LibCallTableFill
	LibCallElemDrop
	LibCallFuncRef
	LibCallRaiseTrap
	LibCallProbestack

	// LibCallCount is the number of known LibCall values.
	LibCallCount
)

var libCallNames = [...]string{
	LibCallCeilF32:              "f32_ceil",
	LibCallCeilF64:              "f64_ceil",
	LibCallFloorF32:             "f32_floor",
	LibCallFloorF64:             "f64_floor",
	LibCallNearestF32:           "f32_nearest",
	LibCallNearestF64:           "f64_nearest",
	LibCallTruncF32:             "f32_trunc",
	LibCallTruncF64:             "f64_trunc",
	LibCallMemory32Size:         "memory32_size",
	LibCallImportedMemory32Size: "imported_memory32_size",
	LibCallMemory32Grow:         "memory32_grow",
	LibCallImportedMemory32Grow: "imported_memory32_grow",
	LibCallMemory32Copy:         "memory32_copy",
	LibCallMemory32Fill:         "memory32_fill",
	LibCallMemory32Init:         "memory32_init",
	LibCallDataDrop:             "data_drop",
	LibCallTableSize:            "table_size",
	LibCallTableGet:             "table_get",
	LibCallTableSet:             "table_set",
	LibCallTableGrow:            "table_grow",
	LibCallTableCopy:            "table_copy",
	LibCallTableInit:            "table_init",
	LibCallTableFill:            "table_fill",
	LibCallElemDrop:             "elem_drop",
	LibCallFuncRef:              "func_ref",
	LibCallRaiseTrap:            "raise_trap",
	LibCallProbestack:           "probestack",
}

// Name returns the symbol name of the routine.
func (l LibCall) Name() string {
	if l < LibCallCount {
		return libCallNames[l]
	}
	return fmt.Sprintf("libcall(%d)", uint32(l))
}

func (l LibCall) String() string {
	return l.Name()
}

// LibCallResolver returns the native address of a LibCall.
type LibCallResolver interface {
	ResolveLibCall(LibCall) (uintptr, bool)
}

// LibCallTable is a LibCallResolver backed by a map.
type LibCallTable map[LibCall]uintptr

// ResolveLibCall implements LibCallResolver.ResolveLibCall.
func (t LibCallTable) ResolveLibCall(l LibCall) (uintptr, bool) {
	addr, ok := t[l]
	return addr, ok && addr != 0
}
