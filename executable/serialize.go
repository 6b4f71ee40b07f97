package executable

import (
	"hash/crc32"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/wasm"
)

// Magic starts every serialized executable.
const Magic = "WASMUNIV"

// Version is the serialization format version. Buffers of another version are rejected.
const Version = uint32(2)

// headerSize is the size of Magic, Version and the CRC32 of everything after the header.
const headerSize = 16

type sectionID int

const (
	sectionCompileInfo sectionID = iota
	sectionFunctionBodies
	sectionFunctionRelocations
	sectionFunctionJumpTables
	sectionFunctionFrameInfo
	sectionCallTrampolines
	sectionDynamicTrampolines
	sectionCustomSections
	sectionCustomSectionRelocations
	sectionDebug
	sectionTrampolines
	sectionDataInitializers
	sectionPassiveData
	sectionPassiveElements
	sectionCpuFeatures
	sectionCount
)

// tocSize is the size of the table of contents: a u64 offset and a u64 length per section.
const tocSize = int(sectionCount) * 16

// relocationSize is the size of a serialized compiler.Relocation.
const relocationSize = 24

var crc = crc32.MakeTable(crc32.Castagnoli)

// Serialize writes the serialized form of e to w.
func (e *Executable) Serialize(w io.Writer) error {
	_, err := w.Write(e.Bytes())
	return errors.Wrap(err, "write executable")
}

// Bytes returns the serialized form of e.
func (e *Executable) Bytes() []byte {
	var sections [sectionCount][]byte
	sections[sectionCompileInfo] = encodeCompileInfo(&e.CompileInfo)
	sections[sectionFunctionBodies] = encodeFunctionBodies(e.FunctionBodies)
	sections[sectionFunctionRelocations] = encodeRelocationLists(e.FunctionRelocations)
	sections[sectionFunctionJumpTables] = encodeJumpTables(e.FunctionJumpTables)
	sections[sectionFunctionFrameInfo] = encodeFrameInfo(e.FunctionFrameInfo)
	sections[sectionCallTrampolines] = encodeFunctionBodies(e.FunctionCallTrampolines)
	sections[sectionDynamicTrampolines] = encodeFunctionBodies(e.DynamicFunctionTrampolines)

	var customSections listEncoder
	sectionRelocations := make([][]compiler.Relocation, len(e.CustomSections))
	for i := range e.CustomSections {
		s := &e.CustomSections[i]
		item := customSections.item()
		item.u8(byte(s.Protection))
		item.buf = append(item.buf, s.Bytes...)
		sectionRelocations[i] = s.Relocations
	}
	sections[sectionCustomSections] = customSections.finish()
	sections[sectionCustomSectionRelocations] = encodeRelocationLists(sectionRelocations)

	if e.Debug != nil {
		var enc encoder
		enc.u32(e.Debug.EhFrame)
		sections[sectionDebug] = enc.buf
	}
	if t := e.Trampolines; t != nil {
		var enc encoder
		enc.u32(t.SectionIndex)
		enc.u32(t.Slots)
		enc.u32(t.Size)
		sections[sectionTrampolines] = enc.buf
	}

	var data listEncoder
	for _, d := range e.DataInitializers {
		item := data.item()
		item.u32(d.MemoryIndex)
		item.optU32(d.Base)
		item.u32(d.Offset)
		item.buf = append(item.buf, d.Data...)
	}
	sections[sectionDataInitializers] = data.finish()

	m := e.CompileInfo.Module
	var passiveData listEncoder
	for _, idx := range sortedKeys(m.PassiveData) {
		item := passiveData.item()
		item.u32(idx)
		item.buf = append(item.buf, m.PassiveData[idx]...)
	}
	sections[sectionPassiveData] = passiveData.finish()

	var passiveElements listEncoder
	for _, idx := range sortedKeys(m.PassiveElements) {
		item := passiveElements.item()
		item.u32(idx)
		for _, f := range m.PassiveElements[idx] {
			item.u32(f)
		}
	}
	sections[sectionPassiveElements] = passiveElements.finish()

	var cpu encoder
	cpu.u64(uint64(e.CpuFeatures))
	cpu.u32(uint32(e.Architecture))
	sections[sectionCpuFeatures] = cpu.buf

	size := headerSize + tocSize
	for _, s := range sections {
		size += len(s)
	}
	buf := make([]byte, headerSize+tocSize, size)
	copy(buf, Magic)
	le.PutUint32(buf[8:], Version)
	offset := headerSize + tocSize
	for i, s := range sections {
		le.PutUint64(buf[headerSize+16*i:], uint64(offset))
		le.PutUint64(buf[headerSize+16*i+8:], uint64(len(s)))
		buf = append(buf, s...)
		offset += len(s)
	}
	le.PutUint32(buf[12:], crc32.Checksum(buf[headerSize:], crc))
	return buf
}

func sortedKeys[V any](m map[wasm.Index]V) []wasm.Index {
	keys := make([]wasm.Index, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// encodeFunctionBodies encodes each body as [u32 body length][u8 unwind kind][body][unwind].
func encodeFunctionBodies(bodies []compiler.FunctionBody) []byte {
	var l listEncoder
	for i := range bodies {
		b := &bodies[i]
		item := l.item()
		item.u32(uint32(len(b.Body)))
		if b.UnwindInfo == nil {
			item.u8(0)
			item.buf = append(item.buf, b.Body...)
			continue
		}
		item.u8(byte(b.UnwindInfo.Kind))
		item.buf = append(item.buf, b.Body...)
		item.buf = append(item.buf, b.UnwindInfo.Data...)
	}
	return l.finish()
}

func encodeRelocation(e *encoder, r *compiler.Relocation) {
	e.u8(byte(r.Kind))
	e.u8(byte(r.Target.Kind))
	e.u8(0)
	e.u8(0)
	e.u32(r.Offset)
	e.u32(r.Target.Index)
	e.u32(r.Target.JumpTable)
	e.i64(r.Addend)
}

func encodeRelocationLists(lists [][]compiler.Relocation) []byte {
	var l listEncoder
	for _, rs := range lists {
		item := l.item()
		for i := range rs {
			encodeRelocation(item, &rs[i])
		}
	}
	return l.finish()
}

func encodeJumpTables(tables []compiler.JumpTableOffsets) []byte {
	var l listEncoder
	for _, jt := range tables {
		item := l.item()
		for _, o := range jt {
			item.u32(o)
		}
	}
	return l.finish()
}

func encodeFrameInfo(infos []compiler.CompiledFunctionFrameInfo) []byte {
	var l listEncoder
	for i := range infos {
		fi := &infos[i]
		item := l.item()
		item.u32(uint32(len(fi.Traps)))
		for _, t := range fi.Traps {
			item.u32(t.CodeOffset)
			item.u8(byte(t.TrapCode))
		}
		am := &fi.AddressMap
		item.u32(am.StartSrcLoc)
		item.u32(am.EndSrcLoc)
		item.u32(am.BodyOffset)
		item.u32(am.BodyLen)
		item.u32(uint32(len(am.Instructions)))
		for _, in := range am.Instructions {
			item.u32(in.SrcLoc)
			item.u32(in.CodeOffset)
			item.u32(in.CodeLen)
		}
	}
	return l.finish()
}
