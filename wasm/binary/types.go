package binary

import (
	"bytes"
	"fmt"

	"github.com/wasmforge/universal/wasm"
	"github.com/wasmforge/universal/wasm/leb128"
)

// decodeLimitsType returns the limits decoded with the WebAssembly Binary Format.
//
// See https://www.w3.org/TR/wasm-core-2/#limits%E2%91%A6
func decodeLimitsType(r *bytes.Reader) (min uint32, max *uint32, shared bool, err error) {
	var flag byte
	if flag, err = r.ReadByte(); err != nil {
		err = fmt.Errorf("read leading byte: %v", err)
		return
	}

	switch flag {
	case 0x00, 0x02:
		min, _, err = leb128.DecodeUint32(r)
		if err != nil {
			err = fmt.Errorf("read min of limit: %v", err)
		}
	case 0x01, 0x03:
		min, _, err = leb128.DecodeUint32(r)
		if err != nil {
			err = fmt.Errorf("read min of limit: %v", err)
			return
		}
		var m uint32
		if m, _, err = leb128.DecodeUint32(r); err != nil {
			err = fmt.Errorf("read max of limit: %v", err)
		} else {
			max = &m
		}
	default:
		err = fmt.Errorf("%v for limits: %#x not in (0x00, 0x01, 0x02, 0x03)", ErrInvalidByte, flag)
	}

	shared = flag == 0x02 || flag == 0x03
	return
}

// encodeLimitsType returns the limits encoded in WebAssembly Binary Format.
//
// See https://www.w3.org/TR/wasm-core-2/#limits%E2%91%A6
func encodeLimitsType(min uint32, max *uint32, shared bool) []byte {
	var flag byte
	if shared {
		flag = 0x02
	}
	if max == nil {
		return append([]byte{flag}, leb128.EncodeUint32(min)...)
	}
	flag |= 0x01
	return append(append([]byte{flag}, leb128.EncodeUint32(min)...), leb128.EncodeUint32(*max)...)
}

// decodeTable returns the wasm.TableType decoded with the WebAssembly Binary Format.
//
// See https://www.w3.org/TR/wasm-core-2/#binary-table
func decodeTable(r *bytes.Reader, enabledFeatures wasm.Features, ret *wasm.TableType) (err error) {
	ret.ElemType, err = r.ReadByte()
	if err != nil {
		return fmt.Errorf("read leading byte: %v", err)
	}

	if ret.ElemType != wasm.ValueTypeFuncref {
		if err = enabledFeatures.RequireEnabled(wasm.FeatureReferenceTypes); err != nil {
			return fmt.Errorf("table type %s is invalid: %w", wasm.ValueTypeName(ret.ElemType), err)
		}
		if ret.ElemType != wasm.ValueTypeExternref {
			return fmt.Errorf("%w: invalid table element type %#x", ErrInvalidByte, ret.ElemType)
		}
	}

	var shared bool
	ret.Min, ret.Max, shared, err = decodeLimitsType(r)
	if err != nil {
		return fmt.Errorf("read limits: %v", err)
	}
	if shared {
		return fmt.Errorf("tables cannot be marked as shared")
	}
	if ret.Max != nil && ret.Min > *ret.Max {
		return fmt.Errorf("table size minimum must not be greater than maximum")
	}
	return
}

func encodeTable(t *wasm.TableType) []byte {
	return append([]byte{t.ElemType}, encodeLimitsType(t.Min, t.Max, false)...)
}

// decodeMemory returns the wasm.MemoryType decoded with the WebAssembly Binary Format.
//
// See https://www.w3.org/TR/wasm-core-2/#binary-memory
func decodeMemory(r *bytes.Reader, ret *wasm.MemoryType) (err error) {
	ret.Min, ret.Max, ret.Shared, err = decodeLimitsType(r)
	if err != nil {
		return err
	}
	if ret.Min > wasm.MemoryLimitPages {
		return fmt.Errorf("min %d pages (%s) over limit of %d pages (%s)",
			ret.Min, pagesString(ret.Min), wasm.MemoryLimitPages, pagesString(wasm.MemoryLimitPages))
	}
	if ret.Max != nil {
		if *ret.Max > wasm.MemoryLimitPages {
			return fmt.Errorf("max %d pages (%s) over limit of %d pages (%s)",
				*ret.Max, pagesString(*ret.Max), wasm.MemoryLimitPages, pagesString(wasm.MemoryLimitPages))
		} else if ret.Min > *ret.Max {
			return fmt.Errorf("min %d pages (%s) > max %d pages (%s)",
				ret.Min, pagesString(ret.Min), *ret.Max, pagesString(*ret.Max))
		}
	}
	if ret.Shared && ret.Max == nil {
		return fmt.Errorf("shared memory requires a maximum")
	}
	return nil
}

func encodeMemory(m *wasm.MemoryType) []byte {
	return encodeLimitsType(m.Min, m.Max, m.Shared)
}

func pagesString(pages uint32) string {
	return fmt.Sprintf("%d Ki", uint64(pages)*uint64(wasm.MemoryPageSize)/1024)
}

func decodeGlobalType(r *bytes.Reader, enabledFeatures wasm.Features) (wasm.GlobalType, error) {
	vt, err := r.ReadByte()
	if err != nil {
		return wasm.GlobalType{}, fmt.Errorf("read value type: %w", err)
	}
	if err = validateValueType(vt, enabledFeatures); err != nil {
		return wasm.GlobalType{}, err
	}

	ret := wasm.GlobalType{ValType: vt}
	b, err := r.ReadByte()
	if err != nil {
		return wasm.GlobalType{}, fmt.Errorf("read mutablity: %w", err)
	}

	switch mut := b; mut {
	case 0x00: // not mutable
	case 0x01: // mutable
		ret.Mutable = true
	default:
		return wasm.GlobalType{}, fmt.Errorf("%w for mutability: %#x != 0x00 or 0x01", ErrInvalidByte, mut)
	}
	return ret, nil
}

func encodeGlobalType(t wasm.GlobalType) []byte {
	if t.Mutable {
		return []byte{t.ValType, 0x01}
	}
	return []byte{t.ValType, 0x00}
}

func decodeGlobal(r *bytes.Reader, enabledFeatures wasm.Features, ret *wasm.Global) (err error) {
	ret.Type, err = decodeGlobalType(r, enabledFeatures)
	if err != nil {
		return err
	}

	err = decodeConstantExpression(r, enabledFeatures, &ret.Init)
	return
}

func encodeGlobal(g *wasm.Global) []byte {
	return append(encodeGlobalType(g.Type), encodeConstantExpression(&g.Init)...)
}
