package universal

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/internal/codememory"
	"github.com/wasmforge/universal/vm"
)

const (
	// arm64CallRange is the largest distance a BL is patched to reach directly. Farther calls
	// go through a trampoline.
	arm64CallRange = 0x1000_0000
	// arm64TrampolineSize is LDR x17, #8; BR x17; followed by the 8-byte target.
	arm64TrampolineSize = 16
	arm64LdrX17         = 0x5800_0051
	arm64BrX17          = 0xd61f_0220
)

var le = binary.LittleEndian

// linker resolves and applies the relocations of one executable written in a region.
type linker struct {
	w        *codememory.Writer
	l        *layout
	src      executableSource
	libCalls vm.LibCallResolver

	// trampolineSlots maps an arm64 call target to the offset of its trampoline.
	trampolineSlots map[uint64]int
	nextSlot        uint32
}

// link applies every function and custom section relocation of src.
func (e *Engine) link(w *codememory.Writer, l *layout, src executableSource) error {
	k := &linker{w: w, l: l, src: src, libCalls: e.libCalls}
	for i := range l.functions {
		body := src.functionBody(i)
		if err := k.apply(src.functionRelocations(i), l.functions[i], len(body.Body)); err != nil {
			return newError(KindLink, err, "function %d", i)
		}
	}
	for i := range l.customSections {
		if err := k.apply(src.customSectionRelocations(i), l.customSections[i], len(src.customSectionBytes(i))); err != nil {
			return newError(KindLink, err, "custom section %d", i)
		}
	}
	return nil
}

func (k *linker) apply(relocs relocationList, base, size int) error {
	for i := 0; i < relocs.Len(); i++ {
		r := relocs.At(i)
		if end := int(r.Offset) + r.Size(); end > size {
			return errors.Errorf("relocation %d (%s) ends at %#x past the end %#x", i, r, end, size)
		}
		target, err := k.targetAddress(r.Target)
		if err != nil {
			return errors.Wrapf(err, "relocation %d (%s)", i, r)
		}
		if err = k.patch(&r, base+int(r.Offset), target); err != nil {
			return errors.Wrapf(err, "relocation %d (%s)", i, r)
		}
	}
	return nil
}

func (k *linker) targetAddress(t compiler.RelocationTarget) (uint64, error) {
	switch t.Kind {
	case compiler.RelocationTargetLocalFunc:
		if int(t.Index) >= len(k.l.functions) {
			return 0, errors.Errorf("local function %d out of range", t.Index)
		}
		return uint64(k.w.Address(k.l.functions[t.Index])), nil
	case compiler.RelocationTargetLibCall:
		addr, ok := k.libCalls.ResolveLibCall(vm.LibCall(t.Index))
		if !ok {
			return 0, errors.Errorf("libcall %s is not resolved", vm.LibCall(t.Index))
		}
		return uint64(addr), nil
	case compiler.RelocationTargetCustomSection:
		if int(t.Index) >= len(k.l.customSections) {
			return 0, errors.Errorf("custom section %d out of range", t.Index)
		}
		return uint64(k.w.Address(k.l.customSections[t.Index])), nil
	case compiler.RelocationTargetJumpTable:
		if int(t.Index) >= len(k.l.functions) {
			return 0, errors.Errorf("local function %d out of range", t.Index)
		}
		jts := k.src.functionJumpTables(int(t.Index))
		if int(t.JumpTable) >= jts.Len() {
			return 0, errors.Errorf("jump table %d of function %d out of range", t.JumpTable, t.Index)
		}
		return uint64(k.w.Address(k.l.functions[t.Index])) + uint64(jts.At(int(t.JumpTable))), nil
	}
	return 0, errors.Errorf("unknown relocation target %s", t.Kind)
}

func (k *linker) patch(r *compiler.Relocation, site int, target uint64) error {
	siteAddr := uint64(k.w.Address(site))
	b, err := k.w.Patch(site, r.Size())
	if err != nil {
		return err
	}
	switch r.Kind {
	case compiler.RelocationAbs8:
		le.PutUint64(b, target+uint64(r.Addend))
	case compiler.RelocationAbs4:
		le.PutUint32(b, uint32(target+uint64(r.Addend)))
	case compiler.RelocationX86PCRel4, compiler.RelocationX86CallPCRel4, compiler.RelocationX86CallPLTRel4:
		le.PutUint32(b, uint32(target-siteAddr+uint64(r.Addend)))
	case compiler.RelocationX86PCRel8:
		le.PutUint64(b, target-siteAddr+uint64(r.Addend))
	case compiler.RelocationArm64Call:
		delta := int64(target-siteAddr) + r.Addend
		if delta >= arm64CallRange || delta <= -arm64CallRange {
			slot, err := k.trampoline(target)
			if err != nil {
				return err
			}
			delta = int64(uint64(k.w.Address(slot))-siteAddr) + r.Addend
		}
		le.PutUint32(b, uint32(delta>>2)&0x3ff_ffff|le.Uint32(b))
	case compiler.RelocationArm64Movw0, compiler.RelocationArm64Movw1,
		compiler.RelocationArm64Movw2, compiler.RelocationArm64Movw3:
		shift := 16 * uint(r.Kind-compiler.RelocationArm64Movw0)
		v := target + uint64(r.Addend)
		le.PutUint32(b, uint32((v>>shift)&0xffff)<<5|le.Uint32(b))
	default:
		return errors.Errorf("relocation kind %s is not supported", r.Kind)
	}
	return nil
}

// trampoline returns the offset of an arm64 trampoline jumping to target, writing one in the
// next free slot of the trampolines section if none exists yet.
func (k *linker) trampoline(target uint64) (int, error) {
	if off, ok := k.trampolineSlots[target]; ok {
		return off, nil
	}
	ts := k.src.trampolines()
	if ts == nil {
		return 0, errors.New("call target out of range and no trampolines section")
	}
	if int(ts.SectionIndex) >= len(k.l.customSections) {
		return 0, errors.Errorf("trampolines section %d out of range", ts.SectionIndex)
	}
	if p := k.src.customSectionProtection(int(ts.SectionIndex)); p != compiler.ProtectionReadExecute {
		return 0, errors.Errorf("trampolines section %d is %s, not executable", ts.SectionIndex, p)
	}
	if ts.Size < arm64TrampolineSize {
		return 0, errors.Errorf("trampoline size %d is smaller than %d", ts.Size, arm64TrampolineSize)
	}
	if k.nextSlot >= ts.Slots {
		return 0, errors.Errorf("all %d trampolines are used", ts.Slots)
	}
	if end := uint64(ts.Slots) * uint64(ts.Size); end > uint64(len(k.src.customSectionBytes(int(ts.SectionIndex)))) {
		return 0, errors.Errorf("%d trampolines of %d bytes overrun section %d", ts.Slots, ts.Size, ts.SectionIndex)
	}
	off := k.l.customSections[ts.SectionIndex] + int(k.nextSlot*ts.Size)
	b, err := k.w.Patch(off, arm64TrampolineSize)
	if err != nil {
		return 0, err
	}
	le.PutUint32(b[0:], arm64LdrX17)
	le.PutUint32(b[4:], arm64BrX17)
	le.PutUint64(b[8:], target)
	k.nextSlot++
	if k.trampolineSlots == nil {
		k.trampolineSlots = map[uint64]int{}
	}
	k.trampolineSlots[target] = off
	return off, nil
}
