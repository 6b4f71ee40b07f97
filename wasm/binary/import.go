package binary

import (
	"bytes"
	"fmt"

	"github.com/wasmforge/universal/wasm"
	"github.com/wasmforge/universal/wasm/leb128"
)

func decodeImport(r *bytes.Reader, idx uint32, enabledFeatures wasm.Features, ret *wasm.Import) (err error) {
	if ret.Module, _, err = decodeUTF8(r, "import module"); err != nil {
		return fmt.Errorf("import[%d] error decoding module: %w", idx, err)
	}

	if ret.Name, _, err = decodeUTF8(r, "import name"); err != nil {
		return fmt.Errorf("import[%d] error decoding name: %w", idx, err)
	}

	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("import[%d] error decoding type: %w", idx, err)
	}
	ret.Type = b
	switch ret.Type {
	case wasm.ExternTypeFunc:
		ret.DescFunc, _, err = leb128.DecodeUint32(r)
	case wasm.ExternTypeTable:
		err = decodeTable(r, enabledFeatures, &ret.DescTable)
	case wasm.ExternTypeMemory:
		err = decodeMemory(r, &ret.DescMem)
	case wasm.ExternTypeGlobal:
		ret.DescGlobal, err = decodeGlobalType(r, enabledFeatures)
		if err == nil && ret.DescGlobal.Mutable {
			if e := enabledFeatures.RequireEnabled(wasm.FeatureMutableGlobal); e != nil {
				err = fmt.Errorf("mutable global import invalid as %v", e)
			}
		}
	default:
		err = fmt.Errorf("%w: invalid byte for importdesc: %#x", ErrInvalidByte, b)
	}
	if err != nil {
		return fmt.Errorf("import[%d] %s[%s.%s]: %w", idx, wasm.ExternTypeName(ret.Type), ret.Module, ret.Name, err)
	}
	return
}

func encodeImport(i *wasm.Import) []byte {
	data := encodeSizePrefixed([]byte(i.Module))
	data = append(data, encodeSizePrefixed([]byte(i.Name))...)
	data = append(data, i.Type)
	switch i.Type {
	case wasm.ExternTypeFunc:
		data = append(data, leb128.EncodeUint32(i.DescFunc)...)
	case wasm.ExternTypeTable:
		data = append(data, encodeTable(&i.DescTable)...)
	case wasm.ExternTypeMemory:
		data = append(data, encodeMemory(&i.DescMem)...)
	case wasm.ExternTypeGlobal:
		data = append(data, encodeGlobalType(i.DescGlobal)...)
	}
	return data
}
