package binary

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/wasmforge/universal/wasm"
	"github.com/wasmforge/universal/wasm/leb128"
)

var noValType = []byte{0}

// encodedValTypes is a cache of size prefixed binary encoding of known val types.
var encodedValTypes = map[wasm.ValueType][]byte{
	wasm.ValueTypeI32:       {1, wasm.ValueTypeI32},
	wasm.ValueTypeI64:       {1, wasm.ValueTypeI64},
	wasm.ValueTypeF32:       {1, wasm.ValueTypeF32},
	wasm.ValueTypeF64:       {1, wasm.ValueTypeF64},
	wasm.ValueTypeExternref: {1, wasm.ValueTypeExternref},
	wasm.ValueTypeFuncref:   {1, wasm.ValueTypeFuncref},
	wasm.ValueTypeV128:      {1, wasm.ValueTypeV128},
}

// encodeValTypes fast paths binary encoding of common value type lengths
func encodeValTypes(vt []wasm.ValueType) []byte {
	switch uint32(len(vt)) {
	case 0: // nullary
		return noValType
	case 1:
		if encoded, ok := encodedValTypes[vt[0]]; ok {
			return encoded
		}
	case 2:
		return []byte{2, vt[0], vt[1]}
	}
	count := leb128.EncodeUint32(uint32(len(vt)))
	return append(count, vt...)
}

func decodeValueTypes(r *bytes.Reader, num uint32, enabledFeatures wasm.Features) ([]wasm.ValueType, error) {
	if num == 0 {
		return nil, nil
	}
	if int(num) > r.Len() {
		return nil, fmt.Errorf("value type count %d exceeds remaining %d bytes", num, r.Len())
	}

	ret := make([]wasm.ValueType, num)
	if _, err := io.ReadFull(r, ret); err != nil {
		return nil, err
	}

	for _, v := range ret {
		if err := validateValueType(v, enabledFeatures); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func validateValueType(v wasm.ValueType, enabledFeatures wasm.Features) error {
	switch v {
	case wasm.ValueTypeI32, wasm.ValueTypeF32, wasm.ValueTypeI64, wasm.ValueTypeF64:
		return nil
	case wasm.ValueTypeExternref, wasm.ValueTypeFuncref:
		if err := enabledFeatures.RequireEnabled(wasm.FeatureReferenceTypes); err != nil {
			return fmt.Errorf("%s is invalid as %v", wasm.ValueTypeName(v), err)
		}
		return nil
	case wasm.ValueTypeV128:
		if err := enabledFeatures.RequireEnabled(wasm.FeatureSIMD); err != nil {
			return fmt.Errorf("%s is invalid as %v", wasm.ValueTypeName(v), err)
		}
		return nil
	}
	return fmt.Errorf("invalid value type: %d", v)
}

// decodeUTF8 decodes a size prefixed string from the reader, returning it and the count of bytes read.
// contextFormat and contextArgs apply an error format when present
func decodeUTF8(r *bytes.Reader, contextFormat string, contextArgs ...interface{}) (string, uint32, error) {
	size, sizeOfSize, err := leb128.DecodeUint32(r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read %s size: %w", fmt.Sprintf(contextFormat, contextArgs...), err)
	}

	if int(size) > r.Len() {
		return "", 0, fmt.Errorf("%s size %d exceeds remaining %d bytes", fmt.Sprintf(contextFormat, contextArgs...), size, r.Len())
	}

	buf := make([]byte, size)
	if _, err = io.ReadFull(r, buf); err != nil {
		return "", 0, fmt.Errorf("failed to read %s: %w", fmt.Sprintf(contextFormat, contextArgs...), err)
	}

	if !utf8.Valid(buf) {
		return "", 0, fmt.Errorf("%s is not valid UTF-8", fmt.Sprintf(contextFormat, contextArgs...))
	}

	return string(buf), size + uint32(sizeOfSize), nil
}

func encodeSizePrefixed(data []byte) []byte {
	size := leb128.EncodeUint32(uint32(len(data)))
	return append(size, data...)
}
