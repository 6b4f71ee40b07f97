package binary

import (
	"bytes"
	"fmt"

	"github.com/wasmforge/universal/wasm"
	"github.com/wasmforge/universal/wasm/leb128"
)

// decodeVectorSize reads the element count of a vector, rejecting counts that can't fit in the
// remaining bytes since every element is at least one byte.
func decodeVectorSize(r *bytes.Reader) (uint32, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("get size of vector: %w", err)
	}
	if int(vs) > r.Len() {
		return 0, fmt.Errorf("vector size %d exceeds remaining %d bytes", vs, r.Len())
	}
	return vs, nil
}

func decodeTypeSection(enabledFeatures wasm.Features, r *bytes.Reader) ([]wasm.FunctionType, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]wasm.FunctionType, vs)
	for i := uint32(0); i < vs; i++ {
		if err = decodeFunctionType(enabledFeatures, r, &result[i]); err != nil {
			return nil, fmt.Errorf("read %d-th type: %v", i, err)
		}
	}
	return result, nil
}

// decodeFunctionType decodes the function type from the given reader
// See https://www.w3.org/TR/wasm-core-2/#binary-functype
func decodeFunctionType(enabledFeatures wasm.Features, r *bytes.Reader, ret *wasm.FunctionType) (err error) {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read leading byte: %w", err)
	}

	if b != 0x60 {
		return fmt.Errorf("%w: %#x != 0x60", ErrInvalidByte, b)
	}

	paramCount, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("could not read parameter count: %w", err)
	}

	paramTypes, err := decodeValueTypes(r, paramCount, enabledFeatures)
	if err != nil {
		return fmt.Errorf("could not read parameter types: %w", err)
	}

	resultCount, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("could not read result count: %w", err)
	}

	// Guard >1.0 feature multi-value
	if resultCount > 1 {
		if err = enabledFeatures.RequireEnabled(wasm.FeatureMultiValue); err != nil {
			return fmt.Errorf("multiple result types invalid as %v", err)
		}
	}

	resultTypes, err := decodeValueTypes(r, resultCount, enabledFeatures)
	if err != nil {
		return fmt.Errorf("could not read result types: %w", err)
	}

	ret.Params = paramTypes
	ret.Results = resultTypes
	return nil
}

func decodeImportSection(r *bytes.Reader, enabledFeatures wasm.Features) ([]wasm.Import, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]wasm.Import, vs)
	for i := uint32(0); i < vs; i++ {
		if err = decodeImport(r, i, enabledFeatures, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeFunctionSection(r *bytes.Reader) ([]uint32, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]uint32, vs)
	for i := uint32(0); i < vs; i++ {
		if result[i], _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("get type index: %w", err)
		}
	}
	return result, err
}

func decodeTableSection(r *bytes.Reader, enabledFeatures wasm.Features) ([]wasm.TableType, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	if vs > 1 {
		if err := enabledFeatures.RequireEnabled(wasm.FeatureReferenceTypes); err != nil {
			return nil, fmt.Errorf("at most one table allowed in module as %w", err)
		}
	}

	ret := make([]wasm.TableType, vs)
	for i := range ret {
		if err = decodeTable(r, enabledFeatures, &ret[i]); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func decodeMemorySection(r *bytes.Reader) ([]wasm.MemoryType, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}
	if vs > 1 {
		return nil, fmt.Errorf("at most one memory allowed in module, but read %d", vs)
	}

	result := make([]wasm.MemoryType, vs)
	for i := range result {
		if err = decodeMemory(r, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func decodeGlobalSection(r *bytes.Reader, enabledFeatures wasm.Features) ([]wasm.Global, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]wasm.Global, vs)
	for i := uint32(0); i < vs; i++ {
		if err = decodeGlobal(r, enabledFeatures, &result[i]); err != nil {
			return nil, fmt.Errorf("global[%d]: %w", i, err)
		}
	}
	return result, nil
}

func decodeExportSection(r *bytes.Reader) ([]wasm.Export, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	usedName := make(map[string]struct{}, vs)
	exportSection := make([]wasm.Export, vs)
	for i := wasm.Index(0); i < vs; i++ {
		export := &exportSection[i]
		if err := decodeExport(r, export); err != nil {
			return nil, fmt.Errorf("read export: %w", err)
		}
		if _, ok := usedName[export.Name]; ok {
			return nil, fmt.Errorf("export[%d] duplicates name %q", i, export.Name)
		}
		usedName[export.Name] = struct{}{}
	}
	return exportSection, nil
}

func decodeStartSection(r *bytes.Reader) (*wasm.Index, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get function index: %w", err)
	}
	return &vs, nil
}

func decodeElementSection(r *bytes.Reader, enabledFeatures wasm.Features) ([]wasm.ElementSegment, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]wasm.ElementSegment, vs)
	for i := uint32(0); i < vs; i++ {
		if err = decodeElementSegment(r, enabledFeatures, &result[i]); err != nil {
			return nil, fmt.Errorf("read element: %w", err)
		}
	}
	return result, nil
}

func decodeCodeSection(r *bytes.Reader, moduleSize int64) ([]wasm.Code, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]wasm.Code, vs)
	for i := uint32(0); i < vs; i++ {
		if err = decodeCode(r, moduleSize, &result[i]); err != nil {
			return nil, fmt.Errorf("read %d-th code segment: %v", i, err)
		}
	}
	return result, nil
}

func decodeDataSection(r *bytes.Reader, enabledFeatures wasm.Features) ([]wasm.DataSegment, error) {
	vs, err := decodeVectorSize(r)
	if err != nil {
		return nil, err
	}

	result := make([]wasm.DataSegment, vs)
	for i := uint32(0); i < vs; i++ {
		if err = decodeDataSegment(r, enabledFeatures, &result[i]); err != nil {
			return nil, fmt.Errorf("read data segment: %w", err)
		}
	}
	return result, nil
}

func decodeDataCountSection(r *bytes.Reader) (count *uint32, err error) {
	v, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
