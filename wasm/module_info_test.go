package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmforge/universal/wasm/leb128"
)

func u32(v uint32) *uint32 { return &v }

func i32Const(v int32) ConstantExpression {
	return ConstantExpression{Opcode: OpcodeI32Const, Data: leb128.EncodeInt32(v)}
}

func TestNewModuleInfo(t *testing.T) {
	i32i32_i32 := FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeI32}, Results: []ValueType{ValueTypeI32}}
	v_v := FunctionType{}
	start := Index(1)
	m := &Module{
		TypeSection: []FunctionType{i32i32_i32, v_v},
		ImportSection: []Import{
			{Type: ExternTypeFunc, Module: "env", Name: "add", DescFunc: 0},
			{Type: ExternTypeGlobal, Module: "env", Name: "base", DescGlobal: GlobalType{ValType: ValueTypeI32}},
			{Type: ExternTypeMemory, Module: "env", Name: "mem", DescMem: MemoryType{Min: 1}},
		},
		FunctionSection: []Index{1, 0},
		TableSection:    []TableType{{ElemType: ValueTypeFuncref, Min: 2, Max: u32(4)}},
		GlobalSection: []Global{
			{Type: GlobalType{ValType: ValueTypeI64, Mutable: true}, Init: ConstantExpression{Opcode: OpcodeI64Const, Data: leb128.EncodeInt64(-2)}},
		},
		ExportSection: []Export{
			{Type: ExternTypeFunc, Name: "sum", Index: 2},
			{Type: ExternTypeMemory, Name: "memory", Index: 0},
		},
		StartSection: &start,
		ElementSection: []ElementSegment{
			{Mode: ElementModeActive, OffsetExpr: i32Const(1), Init: []Index{2}},
			{Mode: ElementModePassive, Init: []Index{0, 1}},
			{Mode: ElementModeDeclarative, Init: []Index{1}},
		},
		DataSection: []DataSegment{
			{OffsetExpression: ConstantExpression{Opcode: OpcodeGlobalGet, Data: leb128.EncodeUint32(0)}, Init: []byte("hi")},
			{Passive: true, Init: []byte("later")},
		},
		NameSection: &NameSection{ModuleName: "math", FunctionNames: map[Index]string{2: "sum"}},
	}

	info, data, err := NewModuleInfo(m)
	require.NoError(t, err)

	require.Equal(t, ImportCounts{Functions: 1, Memories: 1, Globals: 1}, info.ImportCounts)
	require.Equal(t, []Index{0, 1, 0}, info.Functions)
	require.Equal(t, 2, info.LocalFunctionCount())
	require.Equal(t, []ImportEntry{
		{Module: "env", Field: "add", ImportNo: 0, Entity: ImportIndex{Type: ExternTypeFunc, Index: 0}},
		{Module: "env", Field: "base", ImportNo: 1, Entity: ImportIndex{Type: ExternTypeGlobal, Index: 0}},
		{Module: "env", Field: "mem", ImportNo: 2, Entity: ImportIndex{Type: ExternTypeMemory, Index: 0}},
	}, info.Imports)
	require.Equal(t, map[string]ExportIndex{
		"sum":    {Type: ExternTypeFunc, Index: 2},
		"memory": {Type: ExternTypeMemory, Index: 0},
	}, info.Exports)
	require.Equal(t, []string{"memory", "sum"}, info.SortedExportNames())
	require.Equal(t, Index(1), *info.StartFunction)
	require.Equal(t, []GlobalType{{ValType: ValueTypeI32}, {ValType: ValueTypeI64, Mutable: true}}, info.Globals)
	require.Equal(t, []GlobalInit{{Kind: GlobalInitI64Const, Bits: ^uint64(1)}}, info.GlobalInitializers)
	require.Equal(t, []TableInitializer{{Offset: 1, Elements: []Index{2}}}, info.TableInitializers)
	require.Equal(t, map[Index][]Index{1: {0, 1}}, info.PassiveElements)
	require.Equal(t, map[Index][]byte{1: []byte("later")}, info.PassiveData)
	require.Equal(t, "math", info.Name)
	require.Equal(t, "sum", info.FunctionNames[2])

	base := Index(0)
	require.Equal(t, []DataInitializer{{Base: &base, Data: []byte("hi")}}, data)

	require.Equal(t, "(i32, i32) -> (i32)", info.FunctionType(2).String())
	require.Len(t, info.ImportedFunctionTypes(), 1)

	local, ok := info.LocalFunctionIndex(2)
	require.True(t, ok)
	require.Equal(t, Index(1), local)
	require.Equal(t, Index(2), info.FunctionIndex(local))
	_, ok = info.LocalFunctionIndex(0)
	require.False(t, ok)
	_, ok = info.LocalMemoryIndex(0)
	require.False(t, ok)
	local, ok = info.LocalGlobalIndex(1)
	require.True(t, ok)
	require.Equal(t, Index(0), local)
	local, ok = info.LocalTableIndex(0)
	require.True(t, ok)
	require.Equal(t, Index(0), local)
}

func TestNewModuleInfo_errors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		module *Module
		expErr string
	}{
		{
			name:   "function type out of range",
			module: &Module{FunctionSection: []Index{0}},
			expErr: "function[0]: type index 0 out of range",
		},
		{
			name:   "import type out of range",
			module: &Module{ImportSection: []Import{{Type: ExternTypeFunc, DescFunc: 3}}},
			expErr: "import[0] func: type index 3 out of range",
		},
		{
			name:   "export out of range",
			module: &Module{ExportSection: []Export{{Type: ExternTypeMemory, Name: "m"}}},
			expErr: `export "m": memory index 0 out of range`,
		},
		{
			name: "duplicate export",
			module: &Module{
				MemorySection: []MemoryType{{}},
				ExportSection: []Export{{Type: ExternTypeMemory, Name: "m"}, {Type: ExternTypeMemory, Name: "m"}},
			},
			expErr: `export[1] duplicates name "m"`,
		},
		{
			name:   "start out of range",
			module: &Module{StartSection: new(Index)},
			expErr: "start function index 0 out of range",
		},
		{
			name:   "bad data offset",
			module: &Module{DataSection: []DataSegment{{OffsetExpression: ConstantExpression{Opcode: OpcodeI64Const}}}},
			expErr: "data[0]: invalid offset expression i64.const",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := NewModuleInfo(tc.module)
			require.EqualError(t, err, tc.expErr)
		})
	}
}

func TestConstantExpression_GlobalInit(t *testing.T) {
	for _, tc := range []struct {
		expr ConstantExpression
		exp  GlobalInit
	}{
		{expr: i32Const(-1), exp: GlobalInit{Kind: GlobalInitI32Const, Bits: 0xffffffff}},
		{expr: ConstantExpression{Opcode: OpcodeF32Const, Data: []byte{0, 0, 0x80, 0x3f}}, exp: GlobalInit{Kind: GlobalInitF32Const, Bits: 0x3f800000}},
		{expr: ConstantExpression{Opcode: OpcodeF64Const, Data: []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f}}, exp: GlobalInit{Kind: GlobalInitF64Const, Bits: 0x3ff0000000000000}},
		{expr: ConstantExpression{Opcode: OpcodeGlobalGet, Data: []byte{3}}, exp: GlobalInit{Kind: GlobalInitGetGlobal, Bits: 3}},
		{expr: ConstantExpression{Opcode: OpcodeRefNull, Data: []byte{ValueTypeFuncref}}, exp: GlobalInit{Kind: GlobalInitRefNullConst}},
		{expr: ConstantExpression{Opcode: OpcodeRefFunc, Data: []byte{7}}, exp: GlobalInit{Kind: GlobalInitRefFunc, Bits: 7}},
		{
			expr: ConstantExpression{Opcode: OpcodeVecPrefix, Data: []byte{1, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0}},
			exp:  GlobalInit{Kind: GlobalInitV128Const, Bits: 1, HighBits: 2},
		},
	} {
		actual, err := tc.expr.GlobalInit()
		require.NoError(t, err)
		require.Equal(t, tc.exp, actual)
	}

	_, err := (&ConstantExpression{Opcode: OpcodeNop}).GlobalInit()
	require.EqualError(t, err, "unsupported constant expression nop")
}

func TestFunctionType(t *testing.T) {
	ft := &FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeI64}, Results: []ValueType{ValueTypeF32}}
	require.Equal(t, "(i32, i64) -> (f32)", ft.String())
	require.True(t, ft.EqualsSignature([]ValueType{ValueTypeI32, ValueTypeI64}, []ValueType{ValueTypeF32}))
	require.False(t, ft.EqualsSignature([]ValueType{ValueTypeI32}, []ValueType{ValueTypeF32}))

	other := &FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI64, ValueTypeF32}}
	require.NotEqual(t, ft.Key(), other.Key())
	require.Equal(t, "_", (&FunctionType{}).Key())
}

func TestFeatures(t *testing.T) {
	f := Features20191205
	require.True(t, f.IsEnabled(FeatureMutableGlobal))
	require.False(t, f.IsEnabled(FeatureMultiValue))
	require.EqualError(t, f.RequireEnabled(FeatureMultiValue), `feature "multi-value" is disabled`)

	f = f.SetEnabled(FeatureMultiValue, true)
	require.NoError(t, f.RequireEnabled(FeatureMultiValue))
	require.Equal(t, "mutable-global|multi-value", f.String())
	require.Equal(t, Features20191205, f.SetEnabled(FeatureMultiValue, false))
}
