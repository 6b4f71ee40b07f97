package binary

import (
	"sort"

	"github.com/wasmforge/universal/wasm"
	"github.com/wasmforge/universal/wasm/leb128"
)

var sizePrefixedName = []byte{4, 'n', 'a', 'm', 'e'}

// EncodeModule implements wasm.EncodeModule for the WebAssembly Binary Format.
// Note: If saving to a file, the conventional extension is wasm
// See https://www.w3.org/TR/wasm-core-2/#binary-format%E2%91%A0
func EncodeModule(m *wasm.Module) (bytes []byte) {
	bytes = append(Magic, version...)
	if len(m.TypeSection) > 0 {
		bytes = append(bytes, encodeTypeSection(m.TypeSection)...)
	}
	if len(m.ImportSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDImport, len(m.ImportSection), func(i int) []byte {
			return encodeImport(&m.ImportSection[i])
		})...)
	}
	if len(m.FunctionSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDFunction, len(m.FunctionSection), func(i int) []byte {
			return leb128.EncodeUint32(m.FunctionSection[i])
		})...)
	}
	if len(m.TableSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDTable, len(m.TableSection), func(i int) []byte {
			return encodeTable(&m.TableSection[i])
		})...)
	}
	if len(m.MemorySection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDMemory, len(m.MemorySection), func(i int) []byte {
			return encodeMemory(&m.MemorySection[i])
		})...)
	}
	if len(m.GlobalSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDGlobal, len(m.GlobalSection), func(i int) []byte {
			return encodeGlobal(&m.GlobalSection[i])
		})...)
	}
	if len(m.ExportSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDExport, len(m.ExportSection), func(i int) []byte {
			return encodeExport(&m.ExportSection[i])
		})...)
	}
	if m.StartSection != nil {
		bytes = append(bytes, encodeSection(wasm.SectionIDStart, leb128.EncodeUint32(*m.StartSection))...)
	}
	if len(m.ElementSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDElement, len(m.ElementSection), func(i int) []byte {
			return encodeElement(&m.ElementSection[i])
		})...)
	}
	if m.DataCountSection != nil {
		bytes = append(bytes, encodeSection(wasm.SectionIDDataCount, leb128.EncodeUint32(*m.DataCountSection))...)
	}
	if len(m.CodeSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDCode, len(m.CodeSection), func(i int) []byte {
			return encodeCode(&m.CodeSection[i])
		})...)
	}
	if len(m.DataSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDData, len(m.DataSection), func(i int) []byte {
			return encodeDataSegment(&m.DataSection[i])
		})...)
	}
	if m.NameSection != nil {
		nameSection := append(sizePrefixedName, encodeNameSectionData(m.NameSection)...)
		bytes = append(bytes, encodeSection(wasm.SectionIDCustom, nameSection)...)
	}
	return
}

// encodeSection encodes the sectionID, the size of its contents in bytes, followed by the contents.
// See https://www.w3.org/TR/wasm-core-2/#sections%E2%91%A0
func encodeSection(sectionID wasm.SectionID, contents []byte) []byte {
	return append([]byte{sectionID}, encodeSizePrefixed(contents)...)
}

func encodeVectorSection(sectionID wasm.SectionID, count int, encode func(i int) []byte) []byte {
	contents := leb128.EncodeUint32(uint32(count))
	for i := 0; i < count; i++ {
		contents = append(contents, encode(i)...)
	}
	return encodeSection(sectionID, contents)
}

// encodeTypeSection encodes a wasm.SectionIDType for the given imports in WebAssembly Binary Format.
//
// See https://www.w3.org/TR/wasm-core-2/#type-section%E2%91%A0
func encodeTypeSection(types []wasm.FunctionType) []byte {
	return encodeVectorSection(wasm.SectionIDType, len(types), func(i int) []byte {
		return encodeFunctionType(&types[i])
	})
}

// encodeFunctionType returns the wasm.FunctionType encoded in WebAssembly Binary Format.
//
// See https://www.w3.org/TR/wasm-core-2/#binary-functype
func encodeFunctionType(t *wasm.FunctionType) []byte {
	data := append([]byte{0x60}, encodeValTypes(t.Params)...)
	return append(data, encodeValTypes(t.Results)...)
}

func sortIndices(indices []wasm.Index) {
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
}
