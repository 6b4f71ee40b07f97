package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wasmforge/universal/wasm"
	"github.com/wasmforge/universal/wasm/leb128"
)

func decodeConstantExpression(r *bytes.Reader, enabledFeatures wasm.Features, ret *wasm.ConstantExpression) error {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read opcode: %v", err)
	}

	remainingBeforeData := int64(r.Len())
	offsetAtData := r.Size() - remainingBeforeData

	opcode := b
	switch opcode {
	case wasm.OpcodeI32Const:
		_, _, err = leb128.DecodeInt32(r)
	case wasm.OpcodeI64Const:
		_, _, err = leb128.DecodeInt64(r)
	case wasm.OpcodeF32Const:
		_, err = r.Seek(4, io.SeekCurrent)
	case wasm.OpcodeF64Const:
		_, err = r.Seek(8, io.SeekCurrent)
	case wasm.OpcodeGlobalGet:
		_, _, err = leb128.DecodeUint32(r)
	case wasm.OpcodeRefNull:
		if err := enabledFeatures.RequireEnabled(wasm.FeatureBulkMemoryOperations); err != nil {
			return fmt.Errorf("ref.null is not supported as %w", err)
		}
		reftype, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("read reference type for ref.null: %w", err)
		} else if reftype != wasm.ValueTypeFuncref && reftype != wasm.ValueTypeExternref {
			return fmt.Errorf("invalid type for ref.null: 0x%x", reftype)
		}
	case wasm.OpcodeRefFunc:
		if err := enabledFeatures.RequireEnabled(wasm.FeatureBulkMemoryOperations); err != nil {
			return fmt.Errorf("ref.func is not supported as %w", err)
		}
		// Parsing index.
		_, _, err = leb128.DecodeUint32(r)
	case wasm.OpcodeVecPrefix:
		if err := enabledFeatures.RequireEnabled(wasm.FeatureSIMD); err != nil {
			return fmt.Errorf("vector instructions are not supported as %w", err)
		}
		opcode, err = r.ReadByte()
		if err != nil {
			return fmt.Errorf("read vector instruction opcode suffix: %w", err)
		}
		if opcode != wasm.OpcodeVecV128Const {
			return fmt.Errorf("invalid vector opcode for const expression: %#x", opcode)
		}
		offsetAtData++
		_, err = r.Seek(16, io.SeekCurrent)
		opcode = wasm.OpcodeVecPrefix
	default:
		return fmt.Errorf("%v for const expression opt code: %#x", ErrInvalidByte, b)
	}

	if err != nil {
		return fmt.Errorf("read value: %v", err)
	}

	end := r.Size() - int64(r.Len())
	if b, err = r.ReadByte(); err != nil {
		return fmt.Errorf("look for end opcode: %v", err)
	}

	if b != wasm.OpcodeEnd {
		return fmt.Errorf("constant expression has been not terminated")
	}

	data := make([]byte, end-offsetAtData)
	if _, err = r.ReadAt(data, offsetAtData); err != nil {
		return fmt.Errorf("error re-buffering ConstantExpression.Data")
	}
	ret.Opcode = opcode
	ret.Data = data
	return nil
}

func encodeConstantExpression(expr *wasm.ConstantExpression) (ret []byte) {
	if expr.Opcode == wasm.OpcodeVecPrefix {
		ret = append(ret, wasm.OpcodeVecPrefix, wasm.OpcodeVecV128Const)
	} else {
		ret = append(ret, expr.Opcode)
	}
	ret = append(ret, expr.Data...)
	ret = append(ret, wasm.OpcodeEnd)
	return
}
