package binary

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/wasmforge/universal/wasm"
	"github.com/wasmforge/universal/wasm/leb128"
)

func decodeCode(r *bytes.Reader, moduleSize int64, ret *wasm.Code) (err error) {
	ss, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("get the size of code: %w", err)
	}
	remaining := int64(ss)
	if remaining > int64(r.Len()) {
		return fmt.Errorf("code size %d exceeds remaining %d bytes", ss, r.Len())
	}

	// Parse #locals.
	ls, bytesRead, err := leb128.DecodeUint32(r)
	remaining -= int64(bytesRead)
	if err != nil {
		return fmt.Errorf("get the size locals: %v", err)
	} else if remaining < 0 {
		return io.EOF
	}

	// Validate the locals.
	bytesRead = 0
	var sum uint64
	nums := make([]uint32, 0, ls)
	types := make([]wasm.ValueType, 0, ls)
	for i := uint32(0); i < ls; i++ {
		num, n, err := leb128.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("read n of locals: %v", err)
		} else if remaining-int64(n) < 0 {
			return io.EOF
		}

		sum += uint64(num)
		nums = append(nums, num)

		b, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("read type of local: %v", err)
		}

		bytesRead += n + 1
		switch vt := b; vt {
		case wasm.ValueTypeI32, wasm.ValueTypeF32, wasm.ValueTypeI64, wasm.ValueTypeF64,
			wasm.ValueTypeFuncref, wasm.ValueTypeExternref, wasm.ValueTypeV128:
			types = append(types, vt)
		default:
			return fmt.Errorf("invalid local type: 0x%x", vt)
		}
	}
	remaining -= int64(bytesRead)
	if remaining < 0 {
		return io.EOF
	}

	if sum > math.MaxUint32 {
		return fmt.Errorf("too many locals: %d", sum)
	}

	var localTypes []wasm.ValueType
	if sum > 0 {
		localTypes = make([]wasm.ValueType, 0, sum)
	}
	for i, num := range nums {
		t := types[i]
		for j := uint32(0); j < num; j++ {
			localTypes = append(localTypes, t)
		}
	}

	bodyOffset := moduleSize - int64(r.Len())
	body := make([]byte, remaining)
	if _, err = io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if len(body) == 0 || body[len(body)-1] != wasm.OpcodeEnd {
		return fmt.Errorf("expr not end with OpcodeEnd")
	}

	ret.BodyOffset = uint64(bodyOffset)
	ret.LocalTypes = localTypes
	ret.Body = body
	return nil
}

// encodeCode returns the wasm.Code encoded in WebAssembly Binary Format.
//
// See https://www.w3.org/TR/wasm-core-2/#binary-code
func encodeCode(c *wasm.Code) []byte {
	// Local blocks compress locals while preserving index order by grouping locals of the same type.
	// https://www.w3.org/TR/wasm-core-2/#code-section%E2%91%A0
	localBlockCount := uint32(0) // how many blocks of locals with the same type (types can repeat!)
	var localBlocks []byte
	localTypeLen := len(c.LocalTypes)
	if localTypeLen > 0 {
		i := localTypeLen - 1
		var runCount uint32              // count of the same type
		var lastValueType wasm.ValueType // initialize to an invalid type 0

		// iterate backwards so it is easier to size prefix
		for ; i >= 0; i-- {
			vt := c.LocalTypes[i]
			if lastValueType != vt {
				if runCount != 0 { // Only on the first iteration, this is zero when vt is compared against invalid
					localBlocks = append(leb128.EncodeUint32(runCount), localBlocks...)
				}
				lastValueType = vt
				localBlocks = append(leb128.EncodeUint32(uint32(vt)), localBlocks...) // reuse the EncodeUint32 cache
				localBlockCount++
				runCount = 1
			} else {
				runCount++
			}
		}
		localBlocks = append(leb128.EncodeUint32(runCount), localBlocks...)
		localBlocks = append(leb128.EncodeUint32(localBlockCount), localBlocks...)
	} else {
		localBlocks = leb128.EncodeUint32(0)
	}
	code := append(localBlocks, c.Body...)
	return append(leb128.EncodeUint32(uint32(len(code))), code...)
}
