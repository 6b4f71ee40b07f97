package universal

import (
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/executable"
	"github.com/wasmforge/universal/internal/codememory"
	"github.com/wasmforge/universal/internal/platform"
	"github.com/wasmforge/universal/internal/testing/fixture"
	"github.com/wasmforge/universal/vm"
	"github.com/wasmforge/universal/wasm"
	"github.com/wasmforge/universal/wasm/binary"
)

func encode(m *wasm.Module) []byte {
	return binary.EncodeModule(m)
}

// unsupportedModule is the sum module dividing instead of adding.
func unsupportedModule() *wasm.Module {
	m := fixture.SumModule()
	m.CodeSection[0].Body = []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, 0x6d, wasm.OpcodeEnd}
	return m
}

func requireNativeCalls(t *testing.T) {
	requireCompilerSupported(t)
	if runtime.GOARCH != "amd64" {
		t.Skip("generated code is amd64 only")
	}
}

func TestEngine_ID(t *testing.T) {
	e1, e2 := NewEngine(nil), NewEngine(nil)
	require.NotEqual(t, e1.ID(), e2.ID())

	c := e1.Clone()
	require.Equal(t, e1.ID(), c.ID())
	require.Equal(t, e1.Target(), c.Target())
	require.Equal(t, e1.Features(), c.Features())

	// Clones share registries.
	ft := &wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI32}}
	require.Equal(t, e1.RegisterSignature(ft), c.RegisterSignature(ft))
}

func TestEngine_RegisterSignature(t *testing.T) {
	e := NewHeadlessEngine(nil)
	i32i32 := &wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}
	i64 := &wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI64}}

	idx := e.RegisterSignature(i32i32)
	require.Equal(t, idx, e.RegisterSignature(&wasm.FunctionType{
		Params:  []wasm.ValueType{wasm.ValueTypeI32},
		Results: []wasm.ValueType{wasm.ValueTypeI32},
	}))
	other := e.RegisterSignature(i64)
	require.NotEqual(t, idx, other)

	ft, ok := e.LookupSignature(idx)
	require.True(t, ok)
	require.Equal(t, i32i32.String(), ft.String())

	_, ok = e.LookupSignature(other + 1)
	require.False(t, ok)
}

func TestEngine_RegisterFunctionMetadata(t *testing.T) {
	e := NewHeadlessEngine(nil)
	data := vm.CallerCheckedAnyfunc{TypeIndex: 1, VMContext: 0x2000}
	ref := e.RegisterFunctionMetadata(data)
	require.Equal(t, ref, e.Clone().RegisterFunctionMetadata(data))
	require.NotEqual(t, ref, e.RegisterFunctionMetadata(vm.CallerCheckedAnyfunc{TypeIndex: 2}))

	got, ok := e.LookupFunctionMetadata(ref)
	require.True(t, ok)
	require.Equal(t, data, got)
}

func TestEngine_Headless(t *testing.T) {
	e := NewHeadlessEngine(nil)
	require.True(t, e.Headless())

	_, err := e.Compile(fixture.SumWasm(), nil)
	require.True(t, IsKind(err, KindCapability), err)
	require.EqualError(t, err, "capability error: compilation requires a compiler, the engine is headless")

	err = e.Validate(fixture.SumWasm())
	require.True(t, IsKind(err, KindCapability), err)

	// A headless engine still loads what another engine compiled.
	requireNativeCalls(t)
	exe, err := NewEngine(nil).Compile(fixture.SumWasm(), nil)
	require.NoError(t, err)
	a, err := e.LoadSerialized(exe.Bytes())
	require.NoError(t, err)
	defer a.Close()

	results, err := a.Invoke("sum", 40, 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
}

func TestEngine_Validate(t *testing.T) {
	e := NewEngine(nil)
	require.NoError(t, e.Validate(fixture.SumWasm()))
	require.NoError(t, e.Validate(fixture.CallsWasm()))

	err := e.Validate(encode(unsupportedModule()))
	require.True(t, IsKind(err, KindValidate), err)

	err = e.Validate([]byte("not wasm"))
	require.True(t, IsKind(err, KindValidate), err)
}

func TestEngine_Compile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		engine  *Engine
		wasm    []byte
		expKind Kind
		expErr  string
	}{
		{
			name:    "malformed",
			engine:  NewEngine(nil),
			wasm:    []byte{0, 'a', 's', 'm', 2, 0, 0, 0},
			expKind: KindWasm,
		},
		{
			name:    "unsupported instruction",
			engine:  NewEngine(nil),
			wasm:    encode(unsupportedModule()),
			expKind: KindCodegen,
		},
		{
			name:    "unsupported target",
			engine:  NewEngine(NewEngineConfig().WithTarget(compiler.Target{Architecture: compiler.ArchitectureArm64})),
			wasm:    fixture.SumWasm(),
			expKind: KindUnsupportedTarget,
			expErr:  "unsupported target error: singlepass can't generate code for arm64",
		},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.engine.Compile(tc.wasm, nil)
			require.True(t, IsKind(err, tc.expKind), err)
			if tc.expErr != "" {
				require.Contains(t, err.Error(), tc.expErr)
			}
		})
	}
}

func TestEngine_Compile(t *testing.T) {
	e := NewEngine(nil)
	exe, err := e.Compile(fixture.CallsWasm(), nil)
	require.NoError(t, err)

	m := exe.Module()
	require.Equal(t, 3, len(exe.FunctionBodies))
	require.Equal(t, len(m.Signatures), len(exe.FunctionCallTrampolines))
	require.Equal(t, 1, len(exe.DynamicFunctionTrampolines))
	require.Equal(t, e.Target().Architecture, exe.Architecture)
	require.Equal(t, e.Target().CpuFeatures, exe.CpuFeatures)
	require.Equal(t, 1, len(exe.CompileInfo.MemoryStyles))
	require.Equal(t, vm.MemoryStyleStatic, exe.CompileInfo.MemoryStyles[0].Kind)
	require.Equal(t, []wasm.DataInitializer{{Offset: 8, Data: []byte("answer")}}, exe.DataInitializers)
}

// dynamicTunables chooses dynamic memories.
type dynamicTunables struct{ vm.Tunables }

func (dynamicTunables) MemoryStyle(*wasm.MemoryType) vm.MemoryStyle {
	return vm.MemoryStyle{Kind: vm.MemoryStyleDynamic}
}

func TestEngine_Compile_Tunables(t *testing.T) {
	e := NewEngine(nil)
	exe, err := e.Compile(fixture.CallsWasm(), dynamicTunables{vm.NewBaseTunables(8)})
	require.NoError(t, err)
	require.Equal(t, vm.MemoryStyleDynamic, exe.CompileInfo.MemoryStyles[0].Kind)

	e = NewEngine(NewEngineConfig().WithTunables(dynamicTunables{vm.NewBaseTunables(8)}))
	exe, err = e.Compile(fixture.CallsWasm(), nil)
	require.NoError(t, err)
	require.Equal(t, vm.MemoryStyleDynamic, exe.CompileInfo.MemoryStyles[0].Kind)
}

func TestEngine_Load_Sum(t *testing.T) {
	requireNativeCalls(t)

	e := NewEngine(nil)
	exe, err := e.Compile(fixture.SumWasm(), nil)
	require.NoError(t, err)

	for _, l := range loaders {
		loader := l
		t.Run(loader.name, func(t *testing.T) {
			a, err := loader.load(e, exe)
			require.NoError(t, err)
			defer a.Close()

			require.Equal(t, map[string]wasm.ExportIndex{"sum": {Type: wasm.ExternTypeFunc, Index: 0}}, a.Exports())
			require.Equal(t, 1, len(a.Functions()))
			f := a.Functions()[0]
			ft, ok := e.LookupSignature(f.Signature)
			require.True(t, ok)
			require.Equal(t, 2, len(ft.Params))
			require.Equal(t, 1, len(ft.Results))
			require.Equal(t, uint32(len(exe.FunctionBodies[0].Body)), f.Length)

			tests := []struct{ a, b, exp uint64 }{
				{a: 1, b: 2, exp: 3},
				{a: 0xffff_ffff, b: 1, exp: 0},
				{a: 1 << 31, b: 1 << 31, exp: 0},
				{a: 100, b: 0xffff_ff9c, exp: 0},
			}
			for _, tc := range tests {
				results, err := a.Invoke("sum", tc.a, tc.b)
				require.NoError(t, err)
				require.Equal(t, []uint64{tc.exp}, results, "%d + %d", tc.a, tc.b)
			}

			local, srcLoc, ok := a.FrameInfo(f.Body.Uintptr() + 1)
			require.True(t, ok)
			require.Equal(t, wasm.Index(0), local)
			require.NotZero(t, srcLoc)

			_, _, ok = a.FrameInfo(f.Body.Uintptr() + uintptr(f.Length))
			require.False(t, ok)
		})
	}
}

func TestEngine_Load_Calls(t *testing.T) {
	requireNativeCalls(t)

	e := NewEngine(nil)
	exe, err := e.Compile(fixture.CallsWasm(), nil)
	require.NoError(t, err)
	a, err := e.Load(exe)
	require.NoError(t, err)
	defer a.Close()

	results, err := a.Invoke("mul_add", 6, 7, 100)
	require.NoError(t, err)
	require.Equal(t, []uint64{142}, results)

	results, err = a.Invoke("mul", ^uint64(0), 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{^uint64(0) - 1}, results)

	results, err = a.Invoke("answer")
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)

	require.Equal(t, 1, len(a.DynamicTrampolines()))
	require.False(t, a.DynamicTrampolines()[0].IsNil())
	require.Equal(t, []LocalMemory{{Type: wasm.MemoryType{Min: 1}, Style: exe.CompileInfo.MemoryStyles[0]}}, a.LocalMemories())
	require.Equal(t, []wasm.DataInitializer{{Offset: 8, Data: []byte("answer")}}, a.DataInitializers())
	require.Equal(t, exe.Module().ImportCounts, a.ImportCounts())

	imports := a.Imports()
	require.Equal(t, 1, len(imports))
	require.Equal(t, "env", imports[0].Module)
	require.Equal(t, "log", imports[0].Field)
	require.Equal(t, a.Signatures()[3], imports[0].Type.Signature)
	require.Equal(t, a.CallTrampolines()[3], imports[0].Type.StaticTrampoline)
}

func TestArtifact_Invoke_Errors(t *testing.T) {
	requireNativeCalls(t)

	e := NewEngine(nil)
	exe, err := e.Compile(fixture.CallsWasm(), nil)
	require.NoError(t, err)
	a, err := e.Load(exe)
	require.NoError(t, err)

	tests := []struct {
		name   string
		export string
		params []uint64
		expErr string
	}{
		{name: "missing", export: "nope", expErr: `export "nope" not found`},
		{name: "memory", export: "memory", expErr: `export "memory" is a memory, not a function`},
		{name: "arity", export: "mul", params: []uint64{1}, expErr: `export "mul" takes 2 params, got 1`},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Invoke(tc.export, tc.params...)
			require.EqualError(t, err, tc.expErr)
		})
	}

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, err = a.Invoke("answer")
	require.ErrorIs(t, err, ErrArtifactClosed)
}

func TestEngine_LoadSerialized_RoundTrip(t *testing.T) {
	requireCompilerSupported(t)

	e := NewEngine(nil)
	exe, err := e.Compile(fixture.CallsWasm(), nil)
	require.NoError(t, err)

	owned, err := e.Load(exe)
	require.NoError(t, err)
	defer owned.Close()
	loaded, err := e.LoadSerialized(exe.Bytes())
	require.NoError(t, err)
	defer loaded.Close()

	opts := cmp.Options{cmpopts.IgnoreFields(vm.ImportType{}, "StaticTrampoline"), cmpopts.EquateEmpty()}
	require.Empty(t, cmp.Diff(owned.Exports(), loaded.Exports(), opts))
	require.Empty(t, cmp.Diff(owned.Imports(), loaded.Imports(), opts))
	require.Empty(t, cmp.Diff(owned.Signatures(), loaded.Signatures(), opts))
	require.Empty(t, cmp.Diff(owned.LocalMemories(), loaded.LocalMemories(), opts))
	require.Empty(t, cmp.Diff(owned.DataInitializers(), loaded.DataInitializers(), opts))
	require.Empty(t, cmp.Diff(owned.Module().FunctionNames, loaded.Module().FunctionNames, opts))
	require.Equal(t, len(owned.Functions()), len(loaded.Functions()))
	require.Equal(t, owned.CodeSize(), loaded.CodeSize())
	for i := range owned.Functions() {
		require.Equal(t, owned.Functions()[i].Length, loaded.Functions()[i].Length)
		require.Equal(t, owned.Functions()[i].Signature, loaded.Functions()[i].Signature)
	}
	require.Equal(t, owned.Offsets(), loaded.Offsets())
}

func TestEngine_LoadSerialized_Corrupt(t *testing.T) {
	e := NewHeadlessEngine(nil)
	_, err := e.LoadSerialized([]byte("WASMUNIV"))
	require.True(t, IsKind(err, KindCorrupt), err)
	require.ErrorIs(t, err, executable.ErrCorrupt)
}

func TestEngine_LoadSerialized_DataInitializers(t *testing.T) {
	requireCompilerSupported(t)

	e := NewEngine(nil)
	exe, err := e.Compile(fixture.CallsWasm(), nil)
	require.NoError(t, err)
	b := exe.Bytes()
	a, err := e.LoadSerialized(b)
	require.NoError(t, err)
	defer a.Close()

	for i := range b {
		b[i] = 0
	}
	require.Equal(t, []wasm.DataInitializer{{Offset: 8, Data: []byte("answer")}}, a.DataInitializers())
}

func TestEngine_Load_Inconsistent(t *testing.T) {
	requireNativeCalls(t)

	tests := []struct {
		name        string
		edit        func(exe *executable.Executable)
		expectedErr string
	}{
		{
			name:        "memory styles",
			edit:        func(exe *executable.Executable) { exe.CompileInfo.MemoryStyles = nil },
			expectedErr: "0 memory styles for 1 memories",
		},
		{
			name:        "import index",
			edit:        func(exe *executable.Executable) { exe.Module().Imports[0].Entity.Index = 7 },
			expectedErr: "import[0]: func index 7 out of range",
		},
		{
			name:        "dynamic trampolines",
			edit:        func(exe *executable.Executable) { exe.DynamicFunctionTrampolines = nil },
			expectedErr: "0 dynamic trampolines for 1 imported functions",
		},
		{
			name:        "frame infos",
			edit:        func(exe *executable.Executable) { exe.FunctionFrameInfo = exe.FunctionFrameInfo[:1] },
			expectedErr: "1 function frame infos for 3 functions",
		},
		{
			name: "trampolines section",
			edit: func(exe *executable.Executable) {
				exe.Trampolines = &compiler.TrampolinesSection{SectionIndex: uint32(len(exe.CustomSections)), Slots: 1, Size: 16}
			},
			expectedErr: "trampolines section",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			e := NewEngine(nil)
			for _, l := range loaders {
				exe, err := e.Compile(fixture.CallsWasm(), nil)
				require.NoError(t, err)
				tc.edit(exe)

				_, err = l.load(e, exe)
				require.True(t, IsKind(err, KindCorrupt), "%s: %v", l.name, err)
				require.ErrorIs(t, err, executable.ErrCorrupt, l.name)
				require.Contains(t, err.Error(), tc.expectedErr, l.name)

				budget, available := e.MemoryPool()
				require.Equal(t, budget, available, l.name)
			}
		})
	}
}

func TestEngine_Load_Capabilities(t *testing.T) {
	host := compiler.HostTarget().Architecture
	if host == compiler.ArchitectureUnknown {
		t.Skip()
	}
	other := compiler.ArchitectureArm64
	if host == other {
		other = compiler.ArchitectureAmd64
	}
	sse3 := platform.CpuFeatureAmd64SSE3
	avx2 := platform.CpuFeatureAmd64AVX2

	tests := []struct {
		name         string
		target       compiler.Target
		hostFeatures platform.CpuFeature
		arch         compiler.Architecture
		cpuFeatures  platform.CpuFeature
		expectedErr  string
	}{
		{
			name:         "supported",
			target:       compiler.Target{Architecture: host, CpuFeatures: sse3 | avx2},
			hostFeatures: sse3 | avx2,
			arch:         host,
			cpuFeatures:  sse3 | avx2,
		},
		{
			name:         "missing on target",
			target:       compiler.Target{Architecture: host, CpuFeatures: sse3},
			hostFeatures: sse3 | avx2,
			arch:         host,
			cpuFeatures:  sse3 | avx2,
			expectedErr:  "executable requires CPU features missing on " + host.String() + ": avx2",
		},
		{
			name:         "missing on host",
			target:       compiler.Target{Architecture: host, CpuFeatures: sse3 | avx2},
			hostFeatures: sse3,
			arch:         host,
			cpuFeatures:  sse3 | avx2,
			expectedErr:  "executable requires CPU features the host lacks: avx2",
		},
		{
			name:        "architecture differs from target",
			target:      compiler.Target{Architecture: host},
			arch:        other,
			expectedErr: "executable for " + other.String() + " can't be loaded by an engine targeting " + host.String(),
		},
		{
			name:        "architecture differs from host",
			target:      compiler.Target{Architecture: other},
			arch:        other,
			expectedErr: "executable for " + other.String() + " can't run on a " + host.String() + " host",
		},
		{
			name:        "architecture unknown",
			target:      compiler.Target{Architecture: host},
			arch:        compiler.ArchitectureUnknown,
			expectedErr: "can't be loaded by an engine targeting",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			if tc.expectedErr == "" {
				requireCompilerSupported(t)
			}
			for _, l := range loaders {
				e := newLinkTestEngine()
				e.target = tc.target
				e.host = compiler.Target{Architecture: host, CpuFeatures: tc.hostFeatures}
				exe := relocatedExecutable(0)
				exe.Architecture = tc.arch
				exe.CpuFeatures = tc.cpuFeatures

				a, err := l.load(e, exe)
				if tc.expectedErr == "" {
					require.NoError(t, err, l.name)
					require.NoError(t, a.Close())
					continue
				}
				require.True(t, IsKind(err, KindCapability), "%s: %v", l.name, err)
				require.Contains(t, err.Error(), tc.expectedErr, l.name)
				budget, available := e.MemoryPool()
				require.Equal(t, budget, available, l.name)
			}
		})
	}
}

func TestEngine_Load_Exhaustion(t *testing.T) {
	requireCompilerSupported(t)

	page := platform.PageSize()
	e := NewEngine(NewEngineConfig().WithMemoryPoolBudget(page))
	exe, err := e.Compile(fixture.SumWasm(), nil)
	require.NoError(t, err)

	a, err := e.Load(exe)
	require.NoError(t, err)
	budget, available := e.MemoryPool()
	require.Equal(t, page, budget)
	require.Zero(t, available)

	_, err = e.Load(exe)
	require.True(t, IsKind(err, KindResource), err)
	var re *codememory.ResourceError
	require.ErrorAs(t, err, &re)
	require.Zero(t, re.Available)

	require.NoError(t, a.Close())
	_, available = e.MemoryPool()
	require.Equal(t, page, available)

	a, err = e.Load(exe)
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestEngine_Logging(t *testing.T) {
	requireCompilerSupported(t)

	core, logs := observer.New(zap.DebugLevel)
	e := NewEngine(NewEngineConfig().WithLogger(zap.New(core)))
	exe, err := e.Compile(fixture.SumWasm(), nil)
	require.NoError(t, err)
	a, err := e.Load(exe)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	compiled := logs.FilterMessage("module compiled").All()
	require.Equal(t, 1, len(compiled))
	fields := compiled[0].ContextMap()
	require.Equal(t, e.ID(), fields["engine"])
	require.Equal(t, int64(1), fields["functions"])
	require.Equal(t, 1, logs.FilterMessage("module loaded").Len())
}

func TestEngine_Metrics(t *testing.T) {
	requireCompilerSupported(t)

	reg := prometheus.NewPedanticRegistry()
	cfg := NewEngineConfig().WithMetricsRegisterer(reg)
	e := NewEngine(cfg)
	// A second engine on the same registry reuses the collectors.
	e2 := NewEngine(cfg)

	exe, err := e.Compile(fixture.SumWasm(), nil)
	require.NoError(t, err)
	_, err = e2.Compile(fixture.SumWasm(), nil)
	require.NoError(t, err)
	a, err := e.Load(exe)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	require.Equal(t, 1, testutil.CollectAndCount(e.metrics.compile))
	n, err := testutil.GatherAndCount(reg, "universal_engine_compile_duration_seconds", "universal_engine_load_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
