package executable

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/vm"
	"github.com/wasmforge/universal/wasm"
)

// encodeCompileInfo encodes everything of info but the passive data and elements, which have
// their own sections so a View can defer copying them.
func encodeCompileInfo(info *compiler.CompileModuleInfo) []byte {
	var e encoder
	m := info.Module
	e.u64(uint64(info.Features))
	e.str(m.Name)

	e.u32(uint32(len(m.Signatures)))
	for i := range m.Signatures {
		e.bytes(m.Signatures[i].Params)
		e.bytes(m.Signatures[i].Results)
	}
	e.u32(uint32(len(m.Functions)))
	for _, sig := range m.Functions {
		e.u32(sig)
	}
	e.u32(uint32(len(m.Tables)))
	for _, t := range m.Tables {
		e.u8(t.ElemType)
		e.u32(t.Min)
		e.optU32(t.Max)
	}
	e.u32(uint32(len(m.Memories)))
	for _, mem := range m.Memories {
		e.u32(mem.Min)
		e.optU32(mem.Max)
		e.bool(mem.Shared)
	}
	e.u32(uint32(len(m.Globals)))
	for _, g := range m.Globals {
		e.u8(g.ValType)
		e.bool(g.Mutable)
	}
	e.u32(uint32(len(m.GlobalInitializers)))
	for _, g := range m.GlobalInitializers {
		e.u8(byte(g.Kind))
		e.u64(g.Bits)
		e.u64(g.HighBits)
	}

	e.u32(m.ImportCounts.Functions)
	e.u32(m.ImportCounts.Tables)
	e.u32(m.ImportCounts.Memories)
	e.u32(m.ImportCounts.Globals)
	e.u32(uint32(len(m.Imports)))
	for _, imp := range m.Imports {
		e.str(imp.Module)
		e.str(imp.Field)
		e.u32(imp.ImportNo)
		e.u8(imp.Entity.Type)
		e.u32(imp.Entity.Index)
	}

	names := m.SortedExportNames()
	e.u32(uint32(len(names)))
	for _, name := range names {
		exp := m.Exports[name]
		e.str(name)
		e.u8(exp.Type)
		e.u32(exp.Index)
	}

	e.optU32(m.StartFunction)

	e.u32(uint32(len(m.TableInitializers)))
	for _, ti := range m.TableInitializers {
		e.u32(ti.TableIndex)
		e.optU32(ti.Base)
		e.u32(ti.Offset)
		e.u32(uint32(len(ti.Elements)))
		for _, f := range ti.Elements {
			e.u32(f)
		}
	}

	fnIdxs := make([]wasm.Index, 0, len(m.FunctionNames))
	for idx := range m.FunctionNames {
		fnIdxs = append(fnIdxs, idx)
	}
	sort.Slice(fnIdxs, func(i, j int) bool { return fnIdxs[i] < fnIdxs[j] })
	e.u32(uint32(len(fnIdxs)))
	for _, idx := range fnIdxs {
		e.u32(idx)
		e.str(m.FunctionNames[idx])
	}

	e.u32(uint32(len(info.MemoryStyles)))
	for _, s := range info.MemoryStyles {
		e.u8(byte(s.Kind))
		e.u32(s.Bound)
		e.u64(s.OffsetGuardSize)
	}
	e.u32(uint32(len(info.TableStyles)))
	for _, s := range info.TableStyles {
		e.u8(byte(s))
	}
	return e.buf
}

func valueTypes(b []byte) []wasm.ValueType {
	if len(b) == 0 {
		return nil
	}
	return append([]wasm.ValueType(nil), b...)
}

// decodeCompileInfo decodes an owned copy of the compile info and checks that its index
// spaces agree with each other.
func decodeCompileInfo(b []byte) (*compiler.CompileModuleInfo, error) {
	d := &decoder{b: b}
	info := &compiler.CompileModuleInfo{Features: wasm.Features(d.u64("features"))}
	m := &wasm.ModuleInfo{
		Exports:         map[string]wasm.ExportIndex{},
		PassiveElements: map[wasm.Index][]wasm.Index{},
		PassiveData:     map[wasm.Index][]byte{},
		FunctionNames:   map[wasm.Index]string{},
	}
	info.Module = m
	m.Name = d.str("name")

	m.Signatures = make([]wasm.FunctionType, d.count("signature", 8))
	for i := range m.Signatures {
		m.Signatures[i].Params = valueTypes(d.bytes("params"))
		m.Signatures[i].Results = valueTypes(d.bytes("results"))
	}
	if n := d.count("function", 4); n > 0 {
		m.Functions = make([]wasm.Index, n)
		for i := range m.Functions {
			m.Functions[i] = d.u32("function signature")
		}
	}
	if n := d.count("table", 6); n > 0 {
		m.Tables = make([]wasm.TableType, n)
		for i := range m.Tables {
			m.Tables[i] = wasm.TableType{ElemType: d.u8("table element type"), Min: d.u32("table min"), Max: d.optU32("table max")}
		}
	}
	if n := d.count("memory", 6); n > 0 {
		m.Memories = make([]wasm.MemoryType, n)
		for i := range m.Memories {
			m.Memories[i] = wasm.MemoryType{Min: d.u32("memory min"), Max: d.optU32("memory max"), Shared: d.bool("memory shared")}
		}
	}
	if n := d.count("global", 2); n > 0 {
		m.Globals = make([]wasm.GlobalType, n)
		for i := range m.Globals {
			m.Globals[i] = wasm.GlobalType{ValType: d.u8("global type"), Mutable: d.bool("global mutability")}
		}
	}
	if n := d.count("global initializer", 17); n > 0 {
		m.GlobalInitializers = make([]wasm.GlobalInit, n)
		for i := range m.GlobalInitializers {
			m.GlobalInitializers[i] = wasm.GlobalInit{
				Kind:     wasm.GlobalInitKind(d.u8("global initializer kind")),
				Bits:     d.u64("global initializer bits"),
				HighBits: d.u64("global initializer high bits"),
			}
		}
	}

	m.ImportCounts = wasm.ImportCounts{
		Functions: d.u32("imported functions"),
		Tables:    d.u32("imported tables"),
		Memories:  d.u32("imported memories"),
		Globals:   d.u32("imported globals"),
	}
	if n := d.count("import", 17); n > 0 {
		m.Imports = make([]wasm.ImportEntry, n)
		for i := range m.Imports {
			m.Imports[i] = wasm.ImportEntry{
				Module:   d.str("import module"),
				Field:    d.str("import field"),
				ImportNo: d.u32("import number"),
				Entity:   wasm.ImportIndex{Type: d.u8("import type"), Index: d.u32("import index")},
			}
		}
	}
	for i, n := 0, d.count("export", 9); i < n && d.err == nil; i++ {
		name := d.str("export name")
		m.Exports[name] = wasm.ExportIndex{Type: d.u8("export type"), Index: d.u32("export index")}
	}
	m.StartFunction = d.optU32("start function")

	if n := d.count("table initializer", 13); n > 0 {
		m.TableInitializers = make([]wasm.TableInitializer, n)
		for i := range m.TableInitializers {
			ti := wasm.TableInitializer{TableIndex: d.u32("table index"), Base: d.optU32("table base"), Offset: d.u32("table offset")}
			ti.Elements = make([]wasm.Index, d.count("table element", 4))
			for j := range ti.Elements {
				ti.Elements[j] = d.u32("table element")
			}
			m.TableInitializers[i] = ti
		}
	}
	for i, n := 0, d.count("function name", 8); i < n && d.err == nil; i++ {
		idx := d.u32("function name index")
		m.FunctionNames[idx] = d.str("function name")
	}

	if n := d.count("memory style", 13); n > 0 {
		info.MemoryStyles = make([]vm.MemoryStyle, n)
		for i := range info.MemoryStyles {
			info.MemoryStyles[i] = vm.MemoryStyle{
				Kind:            vm.MemoryStyleKind(d.u8("memory style kind")),
				Bound:           d.u32("memory style bound"),
				OffsetGuardSize: d.u64("memory style guard"),
			}
		}
	}
	if n := d.count("table style", 1); n > 0 {
		info.TableStyles = make([]vm.TableStyle, n)
		for i := range info.TableStyles {
			info.TableStyles[i] = vm.TableStyle(d.u8("table style"))
		}
	}
	if err := d.finish("compile info"); err != nil {
		return nil, err
	}
	if err := checkCompileInfo(info); err != nil {
		return nil, err
	}
	return info, nil
}

func checkCompileInfo(info *compiler.CompileModuleInfo) error {
	m := info.Module
	c := m.ImportCounts
	if int(c.Functions) > len(m.Functions) || int(c.Tables) > len(m.Tables) ||
		int(c.Memories) > len(m.Memories) || int(c.Globals) > len(m.Globals) {
		return errors.Errorf("import counts %+v exceed the index spaces", c)
	}
	for i, sig := range m.Functions {
		if int(sig) >= len(m.Signatures) {
			return errors.Errorf("function[%d]: signature %d out of range", i, sig)
		}
	}
	if got, want := len(m.GlobalInitializers), len(m.Globals)-int(c.Globals); got != want {
		return errors.Errorf("%d global initializers for %d local globals", got, want)
	}
	if len(info.MemoryStyles) != len(m.Memories) {
		return errors.Errorf("%d memory styles for %d memories", len(info.MemoryStyles), len(m.Memories))
	}
	if len(info.TableStyles) != len(m.Tables) {
		return errors.Errorf("%d table styles for %d tables", len(info.TableStyles), len(m.Tables))
	}
	for i, imp := range m.Imports {
		var limit int
		switch imp.Entity.Type {
		case wasm.ExternTypeFunc:
			limit = int(c.Functions)
		case wasm.ExternTypeTable:
			limit = int(c.Tables)
		case wasm.ExternTypeMemory:
			limit = int(c.Memories)
		case wasm.ExternTypeGlobal:
			limit = int(c.Globals)
		default:
			return errors.Errorf("import[%d]: unknown type %#x", i, imp.Entity.Type)
		}
		if int(imp.Entity.Index) >= limit {
			return errors.Errorf("import[%d]: %s index %d out of range", i, wasm.ExternTypeName(imp.Entity.Type), imp.Entity.Index)
		}
	}
	for name, exp := range m.Exports {
		var limit int
		switch exp.Type {
		case wasm.ExternTypeFunc:
			limit = len(m.Functions)
		case wasm.ExternTypeTable:
			limit = len(m.Tables)
		case wasm.ExternTypeMemory:
			limit = len(m.Memories)
		case wasm.ExternTypeGlobal:
			limit = len(m.Globals)
		default:
			return errors.Errorf("export %q: unknown type %#x", name, exp.Type)
		}
		if int(exp.Index) >= limit {
			return errors.Errorf("export %q: %s index %d out of range", name, wasm.ExternTypeName(exp.Type), exp.Index)
		}
	}
	if s := m.StartFunction; s != nil && int(*s) >= len(m.Functions) {
		return errors.Errorf("start function %d out of range", *s)
	}
	return nil
}
