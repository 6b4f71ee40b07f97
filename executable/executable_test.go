package executable

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/internal/platform"
	"github.com/wasmforge/universal/vm"
	"github.com/wasmforge/universal/wasm"
)

var (
	i32 = wasm.ValueTypeI32
	i64 = wasm.ValueTypeI64
)

func testModule(t *testing.T) (*wasm.ModuleInfo, []wasm.DataInitializer) {
	max, start := uint32(3), wasm.Index(2)
	m := &wasm.Module{
		TypeSection: []wasm.FunctionType{{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}}, {}},
		ImportSection: []wasm.Import{
			{Type: wasm.ExternTypeFunc, Module: "env", Name: "f", DescFunc: 1},
			{Type: wasm.ExternTypeMemory, Module: "env", Name: "mem", DescMem: wasm.MemoryType{Min: 1, Max: &max}},
		},
		FunctionSection: []wasm.Index{0, 1},
		TableSection:    []wasm.TableType{{ElemType: wasm.ValueTypeFuncref, Min: 2}},
		GlobalSection: []wasm.Global{{
			Type: wasm.GlobalType{ValType: i64, Mutable: true},
			Init: wasm.ConstantExpression{Opcode: wasm.OpcodeI64Const, Data: []byte{0x2a}},
		}},
		ExportSection: []wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "add", Index: 1},
			{Type: wasm.ExternTypeTable, Name: "t", Index: 0},
		},
		StartSection: &start,
		ElementSection: []wasm.ElementSegment{
			{
				OffsetExpr: wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0}},
				Init:       []wasm.Index{1, 2},
				Type:       wasm.ValueTypeFuncref,
				Mode:       wasm.ElementModeActive,
			},
			{Init: []wasm.Index{2}, Type: wasm.ValueTypeFuncref, Mode: wasm.ElementModePassive},
		},
		DataSection: []wasm.DataSegment{
			{OffsetExpression: wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{16}}, Init: []byte("hello")},
			{Passive: true, Init: []byte("passive")},
		},
		NameSection: &wasm.NameSection{ModuleName: "test", FunctionNames: map[wasm.Index]string{1: "add"}},
	}
	info, data, err := wasm.NewModuleInfo(m)
	require.NoError(t, err)
	return info, data
}

// testExecutable exercises every field of the serialized form.
func testExecutable(t *testing.T) *Executable {
	m, data := testModule(t)
	return &Executable{
		CompileInfo: compiler.CompileModuleInfo{
			Features:     wasm.Features20220419,
			Module:       m,
			MemoryStyles: []vm.MemoryStyle{{Kind: vm.MemoryStyleStatic, Bound: 0x1_0000, OffsetGuardSize: 0x8000_0000}},
			TableStyles:  []vm.TableStyle{vm.TableStyleCallerChecksSignature},
		},
		FunctionBodies: []compiler.FunctionBody{
			{Body: []byte{0x55, 0x48, 0x89, 0xe5, 0xc3}, UnwindInfo: &compiler.UnwindInfo{Kind: compiler.UnwindWindowsX64, Data: []byte{1, 2, 3, 4}}},
			{Body: []byte{0xc3}, UnwindInfo: &compiler.UnwindInfo{Kind: compiler.UnwindSystemV, Data: []byte{9}}},
		},
		FunctionRelocations: [][]compiler.Relocation{
			{{Kind: compiler.RelocationAbs8, Target: compiler.RelocationTarget{Kind: compiler.RelocationTargetLocalFunc, Index: 1}, Offset: 1}},
			{
				{Kind: compiler.RelocationX86CallPCRel4, Target: compiler.RelocationTarget{Kind: compiler.RelocationTargetLibCall, Index: uint32(vm.LibCallRaiseTrap)}, Addend: -4},
				{Kind: compiler.RelocationAbs4, Target: compiler.RelocationTarget{Kind: compiler.RelocationTargetJumpTable, Index: 0, JumpTable: 1}},
			},
		},
		FunctionJumpTables: []compiler.JumpTableOffsets{{8, 16}, nil},
		FunctionFrameInfo: []compiler.CompiledFunctionFrameInfo{
			{
				Traps: []compiler.TrapInformation{{CodeOffset: 3, TrapCode: compiler.TrapUnreachableCodeReached}},
				AddressMap: compiler.FunctionAddressMap{
					Instructions: []compiler.InstructionAddressMap{{SrcLoc: 40, CodeOffset: 0, CodeLen: 4}, {SrcLoc: 41, CodeOffset: 4, CodeLen: 1}},
					StartSrcLoc:  40,
					EndSrcLoc:    42,
					BodyLen:      5,
				},
			},
			{},
		},
		FunctionCallTrampolines:    []compiler.FunctionBody{{Body: []byte{0x55, 0xc3}}, {Body: []byte{0x0f, 0x0b}}},
		DynamicFunctionTrampolines: []compiler.FunctionBody{{Body: []byte{0x55, 0x5d, 0xc3}}},
		CustomSections: []compiler.CustomSection{
			{
				Protection:  compiler.ProtectionReadExecute,
				Bytes:       make([]byte, 32),
				Relocations: []compiler.Relocation{{Kind: compiler.RelocationAbs8, Target: compiler.RelocationTarget{Kind: compiler.RelocationTargetLocalFunc}, Offset: 8}},
			},
			{Protection: compiler.ProtectionRead, Bytes: []byte("eh_frame")},
		},
		Debug:            &compiler.Dwarf{EhFrame: 1},
		Trampolines:      &compiler.TrampolinesSection{SectionIndex: 0, Slots: 2, Size: 16},
		DataInitializers: data,
		Architecture:     compiler.ArchitectureAmd64,
		CpuFeatures:      platform.CpuFeatureAmd64SSE3 | platform.CpuFeatureAmd64AVX2,
	}
}

var cmpOpts = []cmp.Option{cmpopts.EquateEmpty()}

// reseal recomputes the checksum after a test edits a serialized executable.
func reseal(b []byte) []byte {
	le.PutUint32(b[12:], crc32.Checksum(b[headerSize:], crc))
	return b
}

func TestExecutable_RoundTrip(t *testing.T) {
	e := testExecutable(t)
	b := e.Bytes()

	actual, err := Deserialize(b)
	require.NoError(t, err)
	if diff := cmp.Diff(e, actual, cmpOpts...); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	// Serializing again is deterministic even though module maps aren't ordered.
	require.Equal(t, b, actual.Bytes())

	var buf bytes.Buffer
	require.NoError(t, e.Serialize(&buf))
	require.Equal(t, b, buf.Bytes())
}

func TestExecutable_Deserialize_Owned(t *testing.T) {
	b := testExecutable(t).Bytes()
	e, err := Deserialize(b)
	require.NoError(t, err)

	for i := range b {
		b[i] = 0xff
	}
	require.Equal(t, []byte{0x55, 0x48, 0x89, 0xe5, 0xc3}, e.FunctionBodies[0].Body)
	require.Equal(t, []byte("hello"), e.DataInitializers[0].Data)
	require.Equal(t, []byte("passive"), e.Module().PassiveData[1])
}

func TestExecutable_CodeSize(t *testing.T) {
	// bodies 5+4 and 1 (SystemV unwind info isn't inline), trampolines 2+2+3, sections 32+8
	require.Equal(t, 57, testExecutable(t).CodeSize())
}

func TestNewView(t *testing.T) {
	e := testExecutable(t)
	b := e.Bytes()
	v, err := NewView(b)
	require.NoError(t, err)

	require.Equal(t, b, v.Bytes())
	require.Equal(t, 2, v.FunctionCount())
	require.Equal(t, e.FunctionBodies[1], v.FunctionBody(1))
	require.Equal(t, e.FunctionRelocations[1], v.FunctionRelocations(1).Slice())
	require.Equal(t, 2, v.FunctionJumpTables(0).Len())
	require.Equal(t, uint32(16), v.FunctionJumpTables(0).At(1))
	require.Zero(t, v.FunctionJumpTables(1).Len())
	require.Equal(t, e.FunctionFrameInfo[0], v.FunctionFrameInfo(0))
	require.Equal(t, 2, v.CallTrampolineCount())
	require.Equal(t, []byte{0x0f, 0x0b}, v.CallTrampoline(1).Body)
	require.Equal(t, 1, v.DynamicTrampolineCount())
	require.Equal(t, e.DynamicFunctionTrampolines[0], v.DynamicTrampoline(0))
	require.Equal(t, 2, v.CustomSectionCount())
	require.Equal(t, compiler.ProtectionReadExecute, v.CustomSectionProtection(0))
	require.Equal(t, compiler.ProtectionRead, v.CustomSectionProtection(1))
	require.Equal(t, []byte("eh_frame"), v.CustomSectionBytes(1))
	require.Equal(t, 1, v.CustomSectionRelocations(0).Len())
	require.Equal(t, e.Debug, v.Debug())
	require.Equal(t, e.Trampolines, v.Trampolines())
	require.Equal(t, compiler.ArchitectureAmd64, v.Architecture())
	require.Equal(t, e.CpuFeatures, v.CpuFeatures())
	require.Equal(t, e.DataInitializers, v.DataInitializers())
	require.Equal(t, "test", v.Module().Name)
	require.Empty(t, v.Module().PassiveData, "passive data is only copied on request")

	// Bodies are sliced from the buffer, passive data is copied out of it.
	passive, err := v.PassiveData()
	require.NoError(t, err)
	elements, err := v.PassiveElements()
	require.NoError(t, err)
	require.Equal(t, map[wasm.Index][]wasm.Index{1: {2}}, elements)

	body := v.FunctionBody(1).Body
	for i := range b {
		b[i] = 0
	}
	require.Equal(t, []byte{0}, body)
	require.Equal(t, map[wasm.Index][]byte{1: []byte("passive")}, passive)
}

func TestNewView_Errors(t *testing.T) {
	valid := func() []byte { return testExecutable(t).Bytes() }
	toc := func(b []byte, id sectionID) (offset, length []byte) {
		at := headerSize + 16*int(id)
		return b[at : at+8], b[at+8 : at+16]
	}

	tests := []struct {
		name        string
		input       func() []byte
		expectedErr string
	}{
		{
			name:        "short",
			input:       func() []byte { return valid()[:20] },
			expectedErr: "20 bytes is shorter than the header",
		},
		{
			name: "magic",
			input: func() []byte {
				b := valid()
				copy(b, "WASMUNIX")
				return b
			},
			expectedErr: `invalid magic "WASMUNIX"`,
		},
		{
			name: "version",
			input: func() []byte {
				b := valid()
				le.PutUint32(b[8:], 1)
				return b
			},
			expectedErr: "format version 1, want 2",
		},
		{
			name: "checksum",
			input: func() []byte {
				b := valid()
				b[len(b)-1] ^= 0xff
				return b
			},
			expectedErr: "checksum",
		},
		{
			name: "section out of bounds",
			input: func() []byte {
				b := valid()
				_, length := toc(b, sectionFunctionBodies)
				le.PutUint64(length, uint64(len(b)))
				return reseal(b)
			},
			expectedErr: "section 1: range",
		},
		{
			name: "section inside the header",
			input: func() []byte {
				b := valid()
				offset, _ := toc(b, sectionCpuFeatures)
				le.PutUint64(offset, 0)
				return reseal(b)
			},
			expectedErr: "section 14: range",
		},
		{
			name: "cpu features size",
			input: func() []byte {
				b := valid()
				_, length := toc(b, sectionCpuFeatures)
				le.PutUint64(length, 8)
				return reseal(b)
			},
			expectedErr: "cpu features section is 8 bytes",
		},
		{
			name: "relocation kind",
			input: func() []byte {
				e := testExecutable(t)
				e.FunctionRelocations[0][0].Kind = 200
				return e.Bytes()
			},
			expectedErr: "function relocations[0]: relocation 0: unknown kind 200",
		},
		{
			name: "function count",
			input: func() []byte {
				e := testExecutable(t)
				e.FunctionBodies = e.FunctionBodies[:1]
				return e.Bytes()
			},
			expectedErr: "1 function bodies for 2 local functions",
		},
		{
			name: "relocation list count",
			input: func() []byte {
				e := testExecutable(t)
				e.FunctionRelocations = e.FunctionRelocations[:1]
				return e.Bytes()
			},
			expectedErr: "1 function relocation lists for 2 functions",
		},
		{
			name: "call trampolines",
			input: func() []byte {
				e := testExecutable(t)
				e.FunctionCallTrampolines = e.FunctionCallTrampolines[:1]
				return e.Bytes()
			},
			expectedErr: "1 call trampolines for 2 signatures",
		},
		{
			name: "dynamic trampolines",
			input: func() []byte {
				e := testExecutable(t)
				e.DynamicFunctionTrampolines = nil
				return e.Bytes()
			},
			expectedErr: "0 dynamic trampolines for 1 imported functions",
		},
		{
			name: "eh_frame",
			input: func() []byte {
				e := testExecutable(t)
				e.Debug.EhFrame = 2
				return e.Bytes()
			},
			expectedErr: "eh_frame section 2 out of range",
		},
		{
			name: "memory styles",
			input: func() []byte {
				e := testExecutable(t)
				e.CompileInfo.MemoryStyles = nil
				return e.Bytes()
			},
			expectedErr: "compile info: 0 memory styles for 1 memories",
		},
		{
			name: "export out of range",
			input: func() []byte {
				e := testExecutable(t)
				e.Module().Exports["bad"] = wasm.ExportIndex{Type: wasm.ExternTypeGlobal, Index: 1}
				return e.Bytes()
			},
			expectedErr: `export "bad": global index 1 out of range`,
		},
		{
			name: "unwind kind",
			input: func() []byte {
				e := testExecutable(t)
				e.FunctionBodies[1].UnwindInfo.Kind = 7
				return e.Bytes()
			},
			expectedErr: "function body[1]: unknown unwind kind 7",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewView(tc.input())
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrCorrupt), err)
			require.Contains(t, err.Error(), tc.expectedErr)

			_, err = Deserialize(tc.input())
			require.True(t, errors.Is(err, ErrCorrupt), err)
		})
	}
}

func TestExecutable_Check(t *testing.T) {
	require.NoError(t, testExecutable(t).Check())

	tests := []struct {
		name        string
		edit        func(e *Executable)
		expectedErr string
	}{
		{
			name:        "missing module",
			edit:        func(e *Executable) { e.CompileInfo.Module = nil },
			expectedErr: "compile info: missing module",
		},
		{
			name:        "memory styles",
			edit:        func(e *Executable) { e.CompileInfo.MemoryStyles = nil },
			expectedErr: "compile info: 0 memory styles for 1 memories",
		},
		{
			name:        "import index",
			edit:        func(e *Executable) { e.Module().Imports[0].Entity.Index = 7 },
			expectedErr: "compile info: import[0]: func index 7 out of range",
		},
		{
			name:        "function count",
			edit:        func(e *Executable) { e.FunctionBodies = e.FunctionBodies[:1] },
			expectedErr: "1 function bodies for 2 local functions",
		},
		{
			name:        "jump table lists",
			edit:        func(e *Executable) { e.FunctionJumpTables = nil },
			expectedErr: "0 function jump table lists for 2 functions",
		},
		{
			name:        "dynamic trampolines",
			edit:        func(e *Executable) { e.DynamicFunctionTrampolines = nil },
			expectedErr: "0 dynamic trampolines for 1 imported functions",
		},
		{
			name:        "trampolines section",
			edit:        func(e *Executable) { e.Trampolines.SectionIndex = 2 },
			expectedErr: "trampolines section 2 out of range",
		},
		{
			name:        "protection",
			edit:        func(e *Executable) { e.CustomSections[1].Protection = 9 },
			expectedErr: "custom section[1]: unknown protection 9",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			e := testExecutable(t)
			tc.edit(e)
			err := e.Check()
			require.True(t, errors.Is(err, ErrCorrupt), err)
			require.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}

func TestParseList(t *testing.T) {
	var l listEncoder
	l.item().u32(7)
	l.item()
	item := l.item()
	item.buf = append(item.buf, "ab"...)
	b := l.finish()

	parsed, err := parseList(b)
	require.NoError(t, err)
	require.Equal(t, 3, parsed.len())
	require.Equal(t, []byte{7, 0, 0, 0}, parsed.item(0))
	require.Empty(t, parsed.item(1))
	require.Equal(t, []byte("ab"), parsed.item(2))

	// The second offset moves past the third.
	le.PutUint64(b[16:], 5)
	_, err = parseList(b)
	require.EqualError(t, err, "list item 2 offset 4 out of order or bounds")

	_, err = parseList(b[:12])
	require.EqualError(t, err, "list header: 12 bytes")
}
