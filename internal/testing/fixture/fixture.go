// Package fixture holds modules shared by tests across packages.
package fixture

import (
	"github.com/wasmforge/universal/wasm"
	"github.com/wasmforge/universal/wasm/binary"
)

var (
	i32 = wasm.ValueTypeI32
	i64 = wasm.ValueTypeI64
)

// SumModule exports "sum" adding its two i32 parameters.
func SumModule() *wasm.Module {
	return &wasm.Module{
		TypeSection:     []wasm.FunctionType{{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}}},
		FunctionSection: []wasm.Index{0},
		ExportSection:   []wasm.Export{{Type: wasm.ExternTypeFunc, Name: "sum", Index: 0}},
		CodeSection: []wasm.Code{{Body: []byte{
			wasm.OpcodeLocalGet, 0,
			wasm.OpcodeLocalGet, 1,
			wasm.OpcodeI32Add,
			wasm.OpcodeEnd,
		}}},
		NameSection: &wasm.NameSection{ModuleName: "sum", FunctionNames: map[wasm.Index]string{0: "sum"}},
	}
}

// SumWasm is SumModule in the binary format.
func SumWasm() []byte {
	return binary.EncodeModule(SumModule())
}

// CallsModule imports "env.log" and exports:
//   - "mul_add" (a, b, c i64) -> a*b + c, computed with a call to "mul"
//   - "mul" (a, b i64) -> a*b
//   - "answer" () -> i32 42, through a local
func CallsModule() *wasm.Module {
	return &wasm.Module{
		TypeSection: []wasm.FunctionType{
			{Params: []wasm.ValueType{i64, i64, i64}, Results: []wasm.ValueType{i64}},
			{Params: []wasm.ValueType{i64, i64}, Results: []wasm.ValueType{i64}},
			{Results: []wasm.ValueType{i32}},
			{Params: []wasm.ValueType{i32}},
		},
		ImportSection:   []wasm.Import{{Type: wasm.ExternTypeFunc, Module: "env", Name: "log", DescFunc: 3}},
		FunctionSection: []wasm.Index{0, 1, 2},
		MemorySection:   []wasm.MemoryType{{Min: 1}},
		ExportSection: []wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "mul_add", Index: 1},
			{Type: wasm.ExternTypeFunc, Name: "mul", Index: 2},
			{Type: wasm.ExternTypeFunc, Name: "answer", Index: 3},
			{Type: wasm.ExternTypeMemory, Name: "memory", Index: 0},
		},
		CodeSection: []wasm.Code{
			{Body: []byte{
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeLocalGet, 1,
				wasm.OpcodeCall, 2,
				wasm.OpcodeLocalGet, 2,
				wasm.OpcodeI64Add,
				wasm.OpcodeEnd,
			}},
			{Body: []byte{
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeLocalGet, 1,
				wasm.OpcodeI64Mul,
				wasm.OpcodeEnd,
			}},
			{LocalTypes: []wasm.ValueType{i32}, Body: []byte{
				wasm.OpcodeI32Const, 40,
				wasm.OpcodeLocalSet, 0,
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeI32Const, 2,
				wasm.OpcodeI32Add,
				wasm.OpcodeLocalTee, 0,
				wasm.OpcodeDrop,
				wasm.OpcodeNop,
				wasm.OpcodeLocalGet, 0,
				wasm.OpcodeReturn,
				wasm.OpcodeEnd,
			}},
		},
		DataSection: []wasm.DataSegment{{
			OffsetExpression: wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{8}},
			Init:             []byte("answer"),
		}},
	}
}

// CallsWasm is CallsModule in the binary format.
func CallsWasm() []byte {
	return binary.EncodeModule(CallsModule())
}
