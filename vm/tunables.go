package vm

import (
	"fmt"

	"github.com/wasmforge/universal/wasm"
)

// MemoryStyleKind is the bounds-checking strategy of a linear memory.
type MemoryStyleKind uint8

const (
	// MemoryStyleDynamic memories may move when grown and are bounds checked explicitly.
	MemoryStyleDynamic MemoryStyleKind = iota
	// MemoryStyleStatic memories reserve their whole bound up front and rely on guard pages.
	MemoryStyleStatic
)

// MemoryStyle is the layout chosen for one linear memory.
type MemoryStyle struct {
	Kind MemoryStyleKind
	// Bound is the number of reserved pages of a static memory.
	Bound uint32
	// OffsetGuardSize is the number of guard bytes after the accessible memory.
	OffsetGuardSize uint64
}

func (s MemoryStyle) String() string {
	if s.Kind == MemoryStyleStatic {
		return fmt.Sprintf("static(bound=%d, guard=%#x)", s.Bound, s.OffsetGuardSize)
	}
	return fmt.Sprintf("dynamic(guard=%#x)", s.OffsetGuardSize)
}

// TableStyle is the layout chosen for one table.
type TableStyle uint8

const (
	// TableStyleCallerChecksSignature tables hold anyfuncs whose signature the caller checks.
	TableStyleCallerChecksSignature TableStyle = iota
)

func (s TableStyle) String() string {
	return "caller-checks-signature"
}

// Tunables chooses memory and table styles. Implementations must be pure.
type Tunables interface {
	MemoryStyle(*wasm.MemoryType) MemoryStyle
	TableStyle(*wasm.TableType) TableStyle
}

// BaseTunables chooses a static style for memories whose maximum fits the static bound, and a
// dynamic style otherwise.
type BaseTunables struct {
	// StaticMemoryBound is the largest maximum, in pages, of a static memory.
	StaticMemoryBound uint32
	// StaticMemoryOffsetGuardSize is the guard size of static memories.
	StaticMemoryOffsetGuardSize uint64
	// DynamicMemoryOffsetGuardSize is the guard size of dynamic memories.
	DynamicMemoryOffsetGuardSize uint64
}

// NewBaseTunables returns the defaults for a target with the given pointer width in bytes.
func NewBaseTunables(pointerWidth int) *BaseTunables {
	if pointerWidth >= 8 {
		return &BaseTunables{
			StaticMemoryBound:            0x1_0000,
			StaticMemoryOffsetGuardSize:  0x8000_0000,
			DynamicMemoryOffsetGuardSize: 0x1_0000,
		}
	}
	return &BaseTunables{
		StaticMemoryBound:            0x4000,
		StaticMemoryOffsetGuardSize:  0x1_0000,
		DynamicMemoryOffsetGuardSize: 0x1_0000,
	}
}

// MemoryStyle implements Tunables.MemoryStyle.
func (t *BaseTunables) MemoryStyle(m *wasm.MemoryType) MemoryStyle {
	maximum := uint32(wasm.MemoryLimitPages)
	if m.Max != nil {
		maximum = *m.Max
	}
	if maximum <= t.StaticMemoryBound {
		return MemoryStyle{
			Kind:            MemoryStyleStatic,
			Bound:           t.StaticMemoryBound,
			OffsetGuardSize: t.StaticMemoryOffsetGuardSize,
		}
	}
	return MemoryStyle{Kind: MemoryStyleDynamic, OffsetGuardSize: t.DynamicMemoryOffsetGuardSize}
}

// TableStyle implements Tunables.TableStyle.
func (t *BaseTunables) TableStyle(*wasm.TableType) TableStyle {
	return TableStyleCallerChecksSignature
}
