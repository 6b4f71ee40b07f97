package singlepass

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/internal/testing/fixture"
	"github.com/wasmforge/universal/wasm"
	wasmbinary "github.com/wasmforge/universal/wasm/binary"
)

var amd64 = compiler.Target{Architecture: compiler.ArchitectureAmd64}

func translate(t *testing.T, m *wasm.Module) *compiler.ModuleTranslation {
	translation, err := compiler.NewModuleEnvironment(wasm.Features20191205).Translate(wasmbinary.EncodeModule(m))
	require.NoError(t, err)
	return translation
}

func compile(t *testing.T, m *wasm.Module) (*compiler.ModuleTranslation, *compiler.Compilation) {
	translation := translate(t, m)
	c, err := New().CompileModule(amd64, &compiler.CompileModuleInfo{
		Features: wasm.Features20191205,
		Module:   translation.Module,
	}, translation.TranslationState, translation.FunctionBodyInputs)
	require.NoError(t, err)
	return translation, c
}

func TestCompiler_Name(t *testing.T) {
	require.Equal(t, "singlepass", New().Name())
}

func TestCompiler_CompileModule_Sum(t *testing.T) {
	translation, c := compile(t, fixture.SumModule())

	require.Equal(t, 1, len(c.Functions))
	require.Equal(t, 1, len(c.FunctionCallTrampolines))
	require.Zero(t, len(c.DynamicFunctionTrampolines))
	require.Zero(t, len(c.CustomSections))
	require.Nil(t, c.Trampolines)

	f := c.Functions[0]
	code := f.Body.Body
	require.Equal(t, byte(0x55), code[0], "push rbp")
	require.Equal(t, byte(0xc3), code[len(code)-1], "ret")
	require.Empty(t, f.Relocations)
	require.Nil(t, f.Body.UnwindInfo)

	am := f.FrameInfo.AddressMap
	input := translation.FunctionBodyInputs[0]
	require.Equal(t, uint32(input.ModuleOffset), am.StartSrcLoc)
	require.Equal(t, uint32(input.ModuleOffset)+uint32(len(input.Body)), am.EndSrcLoc)
	require.Equal(t, uint32(len(code)), am.BodyLen)
	// local.get, local.get, i32.add, end
	require.Equal(t, 4, len(am.Instructions))
	var end uint32
	for i, ins := range am.Instructions {
		require.True(t, ins.SrcLoc >= am.StartSrcLoc && ins.SrcLoc < am.EndSrcLoc, i)
		require.True(t, ins.CodeOffset >= end, i)
		require.NotZero(t, ins.CodeLen, i)
		end = ins.CodeOffset + ins.CodeLen
	}
	require.Equal(t, am.BodyLen, end)
	require.Equal(t, input.ModuleOffset+4, uint64(am.Instructions[2].SrcLoc))
}

func TestCompiler_CompileModule_Calls(t *testing.T) {
	translation, c := compile(t, fixture.CallsModule())
	m := translation.Module

	require.Equal(t, m.LocalFunctionCount(), len(c.Functions))
	require.Equal(t, len(m.Signatures), len(c.FunctionCallTrampolines))
	require.Equal(t, 1, len(c.DynamicFunctionTrampolines))

	// mul_add calls mul, which is local function 1.
	relocs := c.Functions[0].Relocations
	require.Equal(t, 1, len(relocs))
	r := relocs[0]
	require.Equal(t, compiler.RelocationAbs8, r.Kind)
	require.Equal(t, compiler.RelocationTarget{Kind: compiler.RelocationTargetLocalFunc, Index: 1}, r.Target)
	require.Zero(t, r.Addend)

	code := c.Functions[0].Body.Body
	require.Equal(t, []byte{0x48, 0xb8}, code[r.Offset-2:r.Offset])
	require.Equal(t, uint64(callTargetPlaceholder), binary.LittleEndian.Uint64(code[r.Offset:]))
	require.Equal(t, []byte{0xff, 0xd0}, code[r.Offset+8:r.Offset+10], "call rax")

	require.Empty(t, c.Functions[1].Relocations)
	require.Empty(t, c.Functions[2].Relocations)
}

func TestCompiler_CompileModule_Trampolines(t *testing.T) {
	m := fixture.CallsModule()
	m.TypeSection = append(m.TypeSection, wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeF64}})
	_, c := compile(t, m)

	for i, tr := range c.FunctionCallTrampolines[:4] {
		require.Equal(t, byte(0x55), tr.Body[0], i)
		require.Equal(t, byte(0xc3), tr.Body[len(tr.Body)-1], i)
	}
	require.Equal(t, []byte{0x0f, 0x0b}, c.FunctionCallTrampolines[4].Body, "ud2")

	dyn := c.DynamicFunctionTrampolines[0].Body
	require.Equal(t, byte(0x55), dyn[0])
	require.Equal(t, byte(0xc3), dyn[len(dyn)-1])
	// mov rax, [rdi]
	require.True(t, bytes.Contains(dyn, []byte{0x48, 0x8b, 0x07}))
}

func TestCompiler_CompileModule_UnsupportedTarget(t *testing.T) {
	translation := translate(t, fixture.SumModule())
	_, err := New().CompileModule(compiler.Target{Architecture: compiler.ArchitectureArm64},
		&compiler.CompileModuleInfo{Module: translation.Module}, translation.TranslationState, translation.FunctionBodyInputs)
	require.True(t, errors.Is(err, compiler.ErrUnsupportedTarget))
	require.Contains(t, err.Error(), "arm64")
}

func TestCompiler_CompileModule_BodyCountMismatch(t *testing.T) {
	translation := translate(t, fixture.SumModule())
	_, err := New().CompileModule(amd64, &compiler.CompileModuleInfo{Module: translation.Module}, translation.TranslationState, nil)
	require.EqualError(t, err, "0 function bodies for 1 local functions")
}

func TestCompiler_ValidateModule(t *testing.T) {
	i32, i64 := wasm.ValueTypeI32, wasm.ValueTypeI64
	single := func(ft wasm.FunctionType, locals []wasm.ValueType, body ...byte) *wasm.Module {
		return &wasm.Module{
			TypeSection:     []wasm.FunctionType{ft},
			FunctionSection: []wasm.Index{0},
			CodeSection:     []wasm.Code{{LocalTypes: locals, Body: body}},
		}
	}
	v_i32 := wasm.FunctionType{Results: []wasm.ValueType{i32}}

	tests := []struct {
		name        string
		module      *wasm.Module
		expectedErr string
	}{
		{name: "sum", module: fixture.SumModule()},
		{name: "calls", module: fixture.CallsModule()},
		{
			name:   "i64 constants",
			module: single(wasm.FunctionType{Results: []wasm.ValueType{i64}}, nil, wasm.OpcodeI64Const, 0x7f, wasm.OpcodeI64Const, 2, wasm.OpcodeI64Xor, wasm.OpcodeEnd),
		},
		{
			name:        "unsupported instruction",
			module:      single(v_i32, nil, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Const, 1, 0x6d, wasm.OpcodeEnd),
			expectedErr: "opcode(0x6d) at offset 0x",
		},
		{
			name:        "type mismatch",
			module:      single(v_i32, nil, wasm.OpcodeI32Const, 1, wasm.OpcodeI64Const, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd),
			expectedErr: "type mismatch: expected i32, got i64",
		},
		{
			name:        "underflow",
			module:      single(v_i32, nil, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd),
			expectedErr: "operand stack underflow",
		},
		{
			name:        "result count",
			module:      single(v_i32, nil, wasm.OpcodeEnd),
			expectedErr: "expected 1 values on the stack at return, got 0",
		},
		{
			name:        "local out of range",
			module:      single(v_i32, []wasm.ValueType{i32}, wasm.OpcodeLocalGet, 1, wasm.OpcodeEnd),
			expectedErr: "local index 1 out of range",
		},
		{
			name:        "float local",
			module:      single(wasm.FunctionType{}, []wasm.ValueType{wasm.ValueTypeF32}, wasm.OpcodeEnd),
			expectedErr: "local: value type f32 is not supported",
		},
		{
			name: "too many params",
			module: single(wasm.FunctionType{Params: []wasm.ValueType{i32, i32, i32, i32, i32, i32}}, nil,
				wasm.OpcodeEnd),
			expectedErr: "6 parameters exceed the supported 5",
		},
		{
			name:        "instructions after return",
			module:      single(v_i32, nil, wasm.OpcodeI32Const, 1, wasm.OpcodeReturn, wasm.OpcodeNop, wasm.OpcodeEnd),
			expectedErr: "instructions after return are not supported",
		},
		{
			name: "call import",
			module: &wasm.Module{
				TypeSection:     []wasm.FunctionType{{}},
				ImportSection:   []wasm.Import{{Type: wasm.ExternTypeFunc, Module: "env", Name: "f"}},
				FunctionSection: []wasm.Index{0},
				CodeSection:     []wasm.Code{{Body: []byte{wasm.OpcodeCall, 0, wasm.OpcodeEnd}}},
			},
			expectedErr: "function[1]: call at offset",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			err := New().ValidateModule(wasm.Features20191205, wasmbinary.EncodeModule(tc.module))
			if tc.expectedErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.expectedErr)
			}
		})
	}
}

func TestCompiler_ValidateModule_Malformed(t *testing.T) {
	err := New().ValidateModule(wasm.Features20191205, []byte("not wasm"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode module")
}
