package compiler

// SectionIndex is the index of a CustomSection in a Compilation.
type SectionIndex = uint32

// CustomSectionProtection is the protection a CustomSection is mapped with.
type CustomSectionProtection uint8

const (
	// ProtectionRead is read-only data.
	ProtectionRead CustomSectionProtection = iota
	// ProtectionReadExecute is code.
	ProtectionReadExecute
)

func (p CustomSectionProtection) String() string {
	if p == ProtectionReadExecute {
		return "r-x"
	}
	return "r--"
}

// CustomSection is code or data emitted by a compiler besides the function bodies, such as
// constant pools, libcall stubs or unwind tables.
type CustomSection struct {
	Protection  CustomSectionProtection
	Bytes       []byte
	Relocations []Relocation
}

// TrampolinesSection describes a custom section holding arm64 call trampolines, used when a
// BL cannot reach its target.
type TrampolinesSection struct {
	SectionIndex SectionIndex
	// Slots is the number of trampolines in the section.
	Slots uint32
	// Size is the size of one trampoline.
	Size uint32
}

// Dwarf locates the DWARF data of a Compilation.
type Dwarf struct {
	EhFrame SectionIndex
}
