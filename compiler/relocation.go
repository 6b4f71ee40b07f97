package compiler

import "fmt"

// RelocationKind is the encoding of the value a Relocation patches into code or data.
type RelocationKind uint8

const (
	// RelocationAbs4 is an absolute 4-byte address.
	RelocationAbs4 RelocationKind = iota
	// RelocationAbs8 is an absolute 8-byte address.
	RelocationAbs8
	// RelocationX86PCRel4 is an x86 PC-relative 4-byte displacement.
	RelocationX86PCRel4
	// RelocationX86PCRel8 is an x86 PC-relative 8-byte displacement.
	RelocationX86PCRel8
	// RelocationX86CallPCRel4 is the 4-byte displacement of an x86 call.
	RelocationX86CallPCRel4
	// RelocationX86CallPLTRel4 is the 4-byte displacement of an x86 call through a PLT entry.
	RelocationX86CallPLTRel4
	// RelocationX86GOTPCRel4 is the 4-byte displacement of an x86 GOT entry.
	RelocationX86GOTPCRel4
	// RelocationArm64Call is the 26-bit word offset of an arm64 BL.
	RelocationArm64Call
	// RelocationArm64Movw0 to RelocationArm64Movw3 fill the imm16 of an arm64 MOVZ/MOVK with
	// the matching 16 bits of the address.
	RelocationArm64Movw0
	RelocationArm64Movw1
	RelocationArm64Movw2
	RelocationArm64Movw3
)

var relocationKindNames = [...]string{
	RelocationAbs4:           "Abs4",
	RelocationAbs8:           "Abs8",
	RelocationX86PCRel4:      "X86PCRel4",
	RelocationX86PCRel8:      "X86PCRel8",
	RelocationX86CallPCRel4:  "X86CallPCRel4",
	RelocationX86CallPLTRel4: "X86CallPLTRel4",
	RelocationX86GOTPCRel4:   "X86GOTPCRel4",
	RelocationArm64Call:      "Arm64Call",
	RelocationArm64Movw0:     "Arm64Movw0",
	RelocationArm64Movw1:     "Arm64Movw1",
	RelocationArm64Movw2:     "Arm64Movw2",
	RelocationArm64Movw3:     "Arm64Movw3",
}

func (k RelocationKind) String() string {
	if int(k) < len(relocationKindNames) {
		return relocationKindNames[k]
	}
	return fmt.Sprintf("RelocationKind(%d)", uint8(k))
}

// Valid returns true for a known kind.
func (k RelocationKind) Valid() bool {
	return int(k) < len(relocationKindNames)
}

// RelocationTargetKind is what a Relocation points at.
type RelocationTargetKind uint8

const (
	// RelocationTargetLocalFunc is a local function, by local function index.
	RelocationTargetLocalFunc RelocationTargetKind = iota
	// RelocationTargetLibCall is a runtime routine, by vm.LibCall.
	RelocationTargetLibCall
	// RelocationTargetCustomSection is a custom section, by section index.
	RelocationTargetCustomSection
	// RelocationTargetJumpTable is a jump table of a local function.
	RelocationTargetJumpTable
)

func (k RelocationTargetKind) String() string {
	switch k {
	case RelocationTargetLocalFunc:
		return "LocalFunc"
	case RelocationTargetLibCall:
		return "LibCall"
	case RelocationTargetCustomSection:
		return "CustomSection"
	case RelocationTargetJumpTable:
		return "JumpTable"
	}
	return fmt.Sprintf("RelocationTargetKind(%d)", uint8(k))
}

// RelocationTarget identifies the address a Relocation resolves to.
type RelocationTarget struct {
	Kind RelocationTargetKind
	// Index is the local function index, vm.LibCall, or section index depending on Kind.
	Index uint32
	// JumpTable is the jump table index within the local function Index when Kind is
	// RelocationTargetJumpTable.
	JumpTable uint32
}

func (t RelocationTarget) String() string {
	if t.Kind == RelocationTargetJumpTable {
		return fmt.Sprintf("JumpTable(%d, %d)", t.Index, t.JumpTable)
	}
	return fmt.Sprintf("%s(%d)", t.Kind, t.Index)
}

// Relocation records where and how to write a resolved address into generated bytes.
type Relocation struct {
	Kind   RelocationKind
	Target RelocationTarget
	// Offset is the offset of the patched bytes from the start of the function or section.
	Offset uint32
	Addend int64
}

// Size returns the number of bytes patched by the relocation.
func (r *Relocation) Size() int {
	switch r.Kind {
	case RelocationAbs8, RelocationX86PCRel8:
		return 8
	}
	return 4
}

func (r Relocation) String() string {
	return fmt.Sprintf("%s@%#x -> %s%+d", r.Kind, r.Offset, r.Target, r.Addend)
}
