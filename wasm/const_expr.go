package wasm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/wasmforge/universal/wasm/leb128"
)

// ConstantExpression is a single constant instruction, without the trailing OpcodeEnd. A v128.const
// is recorded as OpcodeVecPrefix with its 16 immediate bytes.
type ConstantExpression struct {
	Opcode Opcode
	// Data is the immediate of Opcode, as encoded.
	Data []byte
}

// GlobalInitKind is the kind of a GlobalInit.
type GlobalInitKind byte

const (
	GlobalInitI32Const GlobalInitKind = iota
	GlobalInitI64Const
	GlobalInitF32Const
	GlobalInitF64Const
	GlobalInitV128Const
	GlobalInitGetGlobal
	GlobalInitRefNullConst
	GlobalInitRefFunc
)

// GlobalInit is the evaluated initializer of a local global.
type GlobalInit struct {
	Kind GlobalInitKind
	// Bits holds the constant bits, or the global or function index for GlobalInitGetGlobal and
	// GlobalInitRefFunc.
	Bits uint64
	// HighBits holds the upper 64 bits of a GlobalInitV128Const.
	HighBits uint64
}

// GlobalInit evaluates the expression as a global initializer.
func (c *ConstantExpression) GlobalInit() (GlobalInit, error) {
	r := bytes.NewReader(c.Data)
	switch c.Opcode {
	case OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return GlobalInit{}, fmt.Errorf("read i32: %w", err)
		}
		return GlobalInit{Kind: GlobalInitI32Const, Bits: uint64(uint32(v))}, nil
	case OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(r)
		if err != nil {
			return GlobalInit{}, fmt.Errorf("read i64: %w", err)
		}
		return GlobalInit{Kind: GlobalInitI64Const, Bits: uint64(v)}, nil
	case OpcodeF32Const:
		if len(c.Data) != 4 {
			return GlobalInit{}, fmt.Errorf("read f32: invalid length %d", len(c.Data))
		}
		return GlobalInit{Kind: GlobalInitF32Const, Bits: uint64(binary.LittleEndian.Uint32(c.Data))}, nil
	case OpcodeF64Const:
		if len(c.Data) != 8 {
			return GlobalInit{}, fmt.Errorf("read f64: invalid length %d", len(c.Data))
		}
		return GlobalInit{Kind: GlobalInitF64Const, Bits: binary.LittleEndian.Uint64(c.Data)}, nil
	case OpcodeVecPrefix:
		if len(c.Data) != 16 {
			return GlobalInit{}, fmt.Errorf("read v128: invalid length %d", len(c.Data))
		}
		return GlobalInit{
			Kind:     GlobalInitV128Const,
			Bits:     binary.LittleEndian.Uint64(c.Data),
			HighBits: binary.LittleEndian.Uint64(c.Data[8:]),
		}, nil
	case OpcodeGlobalGet:
		v, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return GlobalInit{}, fmt.Errorf("read global index: %w", err)
		}
		return GlobalInit{Kind: GlobalInitGetGlobal, Bits: uint64(v)}, nil
	case OpcodeRefNull:
		return GlobalInit{Kind: GlobalInitRefNullConst}, nil
	case OpcodeRefFunc:
		v, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return GlobalInit{}, fmt.Errorf("read function index: %w", err)
		}
		return GlobalInit{Kind: GlobalInitRefFunc, Bits: uint64(v)}, nil
	}
	return GlobalInit{}, fmt.Errorf("unsupported constant expression %s", InstructionName(c.Opcode))
}

// Offset evaluates the expression as a segment offset: either a constant, or the value of a
// global added to zero.
func (c *ConstantExpression) Offset() (offset uint32, base *Index, err error) {
	r := bytes.NewReader(c.Data)
	switch c.Opcode {
	case OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return 0, nil, fmt.Errorf("read offset: %w", err)
		}
		return uint32(v), nil, nil
	case OpcodeGlobalGet:
		v, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return 0, nil, fmt.Errorf("read offset global: %w", err)
		}
		return 0, &v, nil
	}
	return 0, nil, fmt.Errorf("invalid offset expression %s", InstructionName(c.Opcode))
}
