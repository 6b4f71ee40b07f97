package universal

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/internal/codememory"
	"github.com/wasmforge/universal/vm"
	"github.com/wasmforge/universal/wasm"
)

// ErrArtifactClosed is returned when calling into a closed Artifact.
var ErrArtifactClosed = errors.New("artifact is closed")

// LocalMemory is a memory defined by the module with the style chosen at compile time.
type LocalMemory struct {
	Type  wasm.MemoryType
	Style vm.MemoryStyle
}

// LocalTable is a table defined by the module with the style chosen at compile time.
type LocalTable struct {
	Type  wasm.TableType
	Style vm.TableStyle
}

// LocalGlobal is a global defined by the module with its initializer.
type LocalGlobal struct {
	Type wasm.GlobalType
	Init wasm.GlobalInit
}

// Artifact is a loaded module: its code is published and everything needed to instantiate it
// is resolved against the engine. The code stays valid until Close.
type Artifact struct {
	engine *Engine
	region *codememory.Region
	module *wasm.ModuleInfo

	functions          []vm.LocalFunction
	frameInfos         []compiler.CompiledFunctionFrameInfo
	callTrampolines    []vm.Trampoline
	dynamicTrampolines []vm.FunctionBodyPtr
	customSections     []vm.SectionBodyPtr
	signatures         []vm.SharedSignatureIndex

	imports       []vm.Import
	localMemories []LocalMemory
	localTables   []LocalTable
	localGlobals  []LocalGlobal

	dataInitializers []wasm.DataInitializer
	passiveData      map[wasm.Index][]byte
	passiveElements  map[wasm.Index][]wasm.Index

	offsets vm.VMOffsets

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// loadLocked lays out, links and publishes src. e.inner.mu must be held.
func (e *Engine) loadLocked(src executableSource) (*Artifact, error) {
	if err := src.check(); err != nil {
		return nil, newError(KindCorrupt, err, "inconsistent executable")
	}
	m := src.compileInfo().Module

	passiveData, err := src.passiveData()
	if err != nil {
		return nil, newError(KindCorrupt, err, "passive data")
	}
	passiveElements, err := src.passiveElements()
	if err != nil {
		return nil, newError(KindCorrupt, err, "passive elements")
	}

	signatures := make([]vm.SharedSignatureIndex, len(m.Signatures))
	for i := range m.Signatures {
		signatures[i] = e.inner.signatures.Register(&m.Signatures[i])
	}

	region, w, l, err := e.allocate(src)
	if err != nil {
		return nil, err
	}
	a, err := e.finishLoad(src, region, w, &l, signatures)
	if err != nil {
		_ = region.Release()
		return nil, err
	}
	a.passiveData = passiveData
	a.passiveElements = passiveElements
	runtime.SetFinalizer(a, (*Artifact).Close)
	return a, nil
}

func (e *Engine) finishLoad(src executableSource, region *codememory.Region, w *codememory.Writer, l *layout, signatures []vm.SharedSignatureIndex) (*Artifact, error) {
	if err := e.link(w, l, src); err != nil {
		return nil, err
	}
	if err := region.Publish(); err != nil {
		return nil, newError(KindLink, err, "publish code memory")
	}

	info := src.compileInfo()
	m := info.Module
	a := &Artifact{
		engine:     e,
		region:     region,
		module:     m,
		signatures: signatures,
		offsets:    vm.ForHost().WithModuleInfo(m),
	}

	a.callTrampolines = make([]vm.Trampoline, len(l.callTrampolines))
	for i, off := range l.callTrampolines {
		addr, err := region.ExecutableAddress(off)
		if err != nil {
			return nil, newError(KindLink, err, "call trampoline %d", i)
		}
		a.callTrampolines[i] = vm.NewTrampoline(addr)
	}

	a.functions = make([]vm.LocalFunction, len(l.functions))
	a.frameInfos = make([]compiler.CompiledFunctionFrameInfo, len(l.functions))
	for i, off := range l.functions {
		addr, err := region.ExecutableAddress(off)
		if err != nil {
			return nil, newError(KindLink, err, "function %d", i)
		}
		sig := m.Functions[m.FunctionIndex(wasm.Index(i))]
		if int(sig) >= len(signatures) {
			return nil, newError(KindLink, nil, "function %d: signature %d out of range", i, sig)
		}
		length, err := bodyLength(len(src.functionBody(i).Body))
		if err != nil {
			return nil, errors.WithMessagef(err, "function %d", i)
		}
		a.functions[i] = vm.LocalFunction{
			Body:       vm.NewFunctionBodyPtr(addr),
			Length:     length,
			Signature:  signatures[sig],
			Trampoline: a.callTrampolines[sig],
		}
		a.frameInfos[i] = src.functionFrameInfo(i)
	}

	a.dynamicTrampolines = make([]vm.FunctionBodyPtr, len(l.dynamicTrampolines))
	for i, off := range l.dynamicTrampolines {
		addr, err := region.ExecutableAddress(off)
		if err != nil {
			return nil, newError(KindLink, err, "dynamic trampoline %d", i)
		}
		a.dynamicTrampolines[i] = vm.NewFunctionBodyPtr(addr)
	}

	a.customSections = make([]vm.SectionBodyPtr, len(l.customSections))
	for i, off := range l.customSections {
		var addr codememory.Address
		var err error
		if src.customSectionProtection(i) == compiler.ProtectionReadExecute {
			addr, err = region.ExecutableAddress(off)
		} else {
			addr, err = region.DataAddress(off)
		}
		if err != nil {
			return nil, newError(KindLink, err, "custom section %d", i)
		}
		a.customSections[i] = vm.NewSectionBodyPtr(addr)
	}

	a.imports = make([]vm.Import, len(m.Imports))
	for i := range m.Imports {
		imp := &m.Imports[i]
		ty := vm.ImportType{Kind: imp.Entity.Type}
		switch imp.Entity.Type {
		case wasm.ExternTypeFunc:
			sig := m.Functions[imp.Entity.Index]
			ty.Signature = signatures[sig]
			ty.StaticTrampoline = a.callTrampolines[sig]
		case wasm.ExternTypeTable:
			ty.Table = m.Tables[imp.Entity.Index]
		case wasm.ExternTypeMemory:
			ty.Memory = m.Memories[imp.Entity.Index]
			ty.MemoryStyle = info.MemoryStyles[imp.Entity.Index]
		case wasm.ExternTypeGlobal:
			ty.Global = m.Globals[imp.Entity.Index]
		}
		a.imports[i] = vm.Import{Module: imp.Module, Field: imp.Field, ImportNo: imp.ImportNo, Type: ty}
	}

	for i := int(m.ImportCounts.Memories); i < len(m.Memories); i++ {
		a.localMemories = append(a.localMemories, LocalMemory{Type: m.Memories[i], Style: info.MemoryStyles[i]})
	}
	for i := int(m.ImportCounts.Tables); i < len(m.Tables); i++ {
		a.localTables = append(a.localTables, LocalTable{Type: m.Tables[i], Style: info.TableStyles[i]})
	}
	for i := int(m.ImportCounts.Globals); i < len(m.Globals); i++ {
		a.localGlobals = append(a.localGlobals, LocalGlobal{
			Type: m.Globals[i],
			Init: m.GlobalInitializers[i-int(m.ImportCounts.Globals)],
		})
	}
	a.dataInitializers = src.dataInitializers()
	return a, nil
}

// Engine returns the engine that loaded the artifact.
func (a *Artifact) Engine() *Engine {
	return a.engine
}

// Module returns the description of the module.
func (a *Artifact) Module() *wasm.ModuleInfo {
	return a.module
}

// Functions returns the local functions, by local function index.
func (a *Artifact) Functions() []vm.LocalFunction {
	return a.functions
}

// CallTrampolines returns the call trampolines, by signature index.
func (a *Artifact) CallTrampolines() []vm.Trampoline {
	return a.callTrampolines
}

// DynamicTrampolines returns the dynamic trampolines, by imported function index.
func (a *Artifact) DynamicTrampolines() []vm.FunctionBodyPtr {
	return a.dynamicTrampolines
}

// CustomSections returns the custom sections, by section index.
func (a *Artifact) CustomSections() []vm.SectionBodyPtr {
	return a.customSections
}

// Signatures returns the engine-wide index of every signature of the module.
func (a *Artifact) Signatures() []vm.SharedSignatureIndex {
	return a.signatures
}

// Imports returns the imports in import section order.
func (a *Artifact) Imports() []vm.Import {
	return a.imports
}

// Exports returns the exports by name.
func (a *Artifact) Exports() map[string]wasm.ExportIndex {
	return a.module.Exports
}

// LocalMemories returns the memories defined by the module.
func (a *Artifact) LocalMemories() []LocalMemory {
	return a.localMemories
}

// LocalTables returns the tables defined by the module.
func (a *Artifact) LocalTables() []LocalTable {
	return a.localTables
}

// LocalGlobals returns the globals defined by the module.
func (a *Artifact) LocalGlobals() []LocalGlobal {
	return a.localGlobals
}

// DataInitializers returns the active data segments.
func (a *Artifact) DataInitializers() []wasm.DataInitializer {
	return a.dataInitializers
}

// PassiveData returns the passive data segments by data index.
func (a *Artifact) PassiveData() map[wasm.Index][]byte {
	return a.passiveData
}

// ElementSegments returns the active element segments.
func (a *Artifact) ElementSegments() []wasm.TableInitializer {
	return a.module.TableInitializers
}

// PassiveElements returns the passive element segments by element index.
func (a *Artifact) PassiveElements() map[wasm.Index][]wasm.Index {
	return a.passiveElements
}

// StartFunction returns the function to run on instantiation, if any.
func (a *Artifact) StartFunction() (wasm.Index, bool) {
	if a.module.StartFunction == nil {
		return 0, false
	}
	return *a.module.StartFunction, true
}

// ImportCounts returns the number of imports of each kind.
func (a *Artifact) ImportCounts() wasm.ImportCounts {
	return a.module.ImportCounts
}

// Offsets returns the vmctx layout of the module.
func (a *Artifact) Offsets() vm.VMOffsets {
	return a.offsets
}

// CodeSize returns the size of the code region.
func (a *Artifact) CodeSize() int {
	return a.region.Size()
}

// FrameInfo resolves a native pc inside a local function to the function and the offset of the
// instruction in the module binary.
func (a *Artifact) FrameInfo(pc uintptr) (local wasm.Index, srcLoc uint32, ok bool) {
	if a.closed.Load() || !a.region.Contains(pc) {
		return 0, 0, false
	}
	for i := range a.functions {
		f := &a.functions[i]
		start := f.Body.Uintptr()
		if pc < start || pc >= start+uintptr(f.Length) {
			continue
		}
		srcLoc, ok = a.frameInfos[i].AddressMap.Lookup(uint32(pc - start))
		return wasm.Index(i), srcLoc, ok
	}
	return 0, 0, false
}

// Invoke calls the exported function name with params and returns its results. Arguments and
// results are the raw bits of each value; i32 results are zero-extended. It is meant for
// functions that use neither imports nor the vmctx.
func (a *Artifact) Invoke(name string, params ...uint64) ([]uint64, error) {
	if a.closed.Load() {
		return nil, ErrArtifactClosed
	}
	exp, ok := a.module.Exports[name]
	if !ok {
		return nil, errors.Errorf("export %q not found", name)
	}
	if exp.Type != wasm.ExternTypeFunc {
		return nil, errors.Errorf("export %q is a %s, not a function", name, wasm.ExternTypeName(exp.Type))
	}
	local, ok := a.module.LocalFunctionIndex(exp.Index)
	if !ok {
		return nil, errors.Errorf("export %q is the imported function %d", name, exp.Index)
	}
	ft := a.module.FunctionType(exp.Index)
	if len(params) != len(ft.Params) {
		return nil, errors.Errorf("export %q takes %d params, got %d", name, len(ft.Params), len(params))
	}

	values := make([]uint64, max(len(ft.Params), len(ft.Results), 1))
	copy(values, params)
	f := &a.functions[local]
	if err := f.Trampoline.Call(0, f.Body, values); err != nil {
		return nil, errors.Wrapf(err, "call %q", name)
	}
	runtime.KeepAlive(a)

	results := values[:len(ft.Results)]
	for i, vt := range ft.Results {
		if vt == wasm.ValueTypeI32 || vt == wasm.ValueTypeF32 {
			results[i] = uint64(uint32(results[i]))
		}
	}
	return results, nil
}

// Close releases the code memory of the artifact back to the engine pool. Every handle of the
// artifact is invalid afterwards.
func (a *Artifact) Close() error {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		runtime.SetFinalizer(a, nil)
		a.closeErr = a.region.Release()
		a.engine.logger.Debug("artifact closed", zap.Int("size", a.region.Size()), zap.Error(a.closeErr))
	})
	return a.closeErr
}
