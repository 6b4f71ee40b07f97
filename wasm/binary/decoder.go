// Package binary decodes, validates and encodes the WebAssembly binary format.
package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wasmforge/universal/wasm"
	"github.com/wasmforge/universal/wasm/leb128"
)

// DecodeModule implements wasm.DecodeModule for the WebAssembly Binary Format
// See https://www.w3.org/TR/wasm-core-2/#binary-format%E2%91%A0
func DecodeModule(binary []byte, enabledFeatures wasm.Features) (*wasm.Module, error) {
	r := bytes.NewReader(binary)

	// Magic number.
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, Magic) {
		return nil, ErrInvalidMagicNumber
	}

	// Version.
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, version) {
		return nil, ErrInvalidVersion
	}

	m := &wasm.Module{}
	var lastSectionID wasm.SectionID
	for {
		sectionID, err := r.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("read section id: %w", err)
		}

		sectionSize, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("get size of section %s: %v", wasm.SectionIDName(sectionID), err)
		}

		sectionContentStart := r.Len()
		if int(sectionSize) > sectionContentStart {
			return nil, fmt.Errorf("section %s: size %d exceeds remaining %d bytes", wasm.SectionIDName(sectionID), sectionSize, sectionContentStart)
		}

		// Non-custom sections must appear at most once and in order, except the data count section
		// which sits between the import-like sections and code.
		if sectionID != wasm.SectionIDCustom {
			if order(sectionID) <= order(lastSectionID) && lastSectionID != wasm.SectionIDCustom {
				return nil, fmt.Errorf("section %s: out of order or duplicated", wasm.SectionIDName(sectionID))
			}
			lastSectionID = sectionID
		}

		switch sectionID {
		case wasm.SectionIDCustom:
			// First, validate the section and determine if the section for this name has already been set
			name, nameSize, decodeErr := decodeUTF8(r, "custom section name")
			if decodeErr != nil {
				err = decodeErr
				break
			} else if sectionSize < nameSize {
				err = fmt.Errorf("malformed custom section %s", name)
				break
			} else if name == "name" && m.NameSection != nil {
				err = fmt.Errorf("redundant custom section %s", name)
				break
			}

			limit := sectionSize - nameSize
			if name == "name" {
				m.NameSection, err = decodeNameSection(r, uint64(limit))
			} else {
				// Skip unknown custom sections.
				_, err = io.CopyN(io.Discard, r, int64(limit))
			}
		case wasm.SectionIDType:
			m.TypeSection, err = decodeTypeSection(enabledFeatures, r)
		case wasm.SectionIDImport:
			if m.ImportSection, err = decodeImportSection(r, enabledFeatures); err != nil {
				return nil, err // avoid re-wrapping the error.
			}
			m.BuildImportCounts()
		case wasm.SectionIDFunction:
			m.FunctionSection, err = decodeFunctionSection(r)
		case wasm.SectionIDTable:
			m.TableSection, err = decodeTableSection(r, enabledFeatures)
		case wasm.SectionIDMemory:
			m.MemorySection, err = decodeMemorySection(r)
		case wasm.SectionIDGlobal:
			m.GlobalSection, err = decodeGlobalSection(r, enabledFeatures)
		case wasm.SectionIDExport:
			m.ExportSection, err = decodeExportSection(r)
		case wasm.SectionIDStart:
			m.StartSection, err = decodeStartSection(r)
		case wasm.SectionIDElement:
			m.ElementSection, err = decodeElementSection(r, enabledFeatures)
		case wasm.SectionIDCode:
			m.CodeSection, err = decodeCodeSection(r, int64(len(binary)))
		case wasm.SectionIDData:
			m.DataSection, err = decodeDataSection(r, enabledFeatures)
		case wasm.SectionIDDataCount:
			if err = enabledFeatures.RequireEnabled(wasm.FeatureBulkMemoryOperations); err != nil {
				err = fmt.Errorf("data count section not supported as %v", err)
				break
			}
			m.DataCountSection, err = decodeDataCountSection(r)
		default:
			err = ErrInvalidSectionID
		}

		readBytes := sectionContentStart - r.Len()
		if err == nil && int(sectionSize) != readBytes {
			err = fmt.Errorf("invalid section length: expected to be %d but got %d", sectionSize, readBytes)
		}

		if err != nil {
			return nil, fmt.Errorf("section %s: %v", wasm.SectionIDName(sectionID), err)
		}
	}

	functionCount, codeCount := len(m.FunctionSection), len(m.CodeSection)
	if functionCount != codeCount {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d != %d", functionCount, codeCount)
	}
	return m, nil
}

// order returns the position of a section in the binary. The data count section sits after the
// element section and before the code section even though its ID is higher.
func order(id wasm.SectionID) int {
	switch id {
	case wasm.SectionIDCustom:
		return 0
	case wasm.SectionIDDataCount:
		return int(wasm.SectionIDElement)*2 + 1
	}
	return int(id) * 2
}
