package wasm

import (
	"fmt"
	"sort"
)

// ImportCounts are the number of imports of each kind. Imported entities come first in their
// index space, so the local index of an entity is its index minus the matching count.
type ImportCounts struct {
	Functions Index
	Tables    Index
	Memories  Index
	Globals   Index
}

// ImportIndex names the imported entity in the index space of its Type.
type ImportIndex struct {
	Type  ExternType
	Index Index
}

// ImportEntry is one import of a ModuleInfo.
type ImportEntry struct {
	Module string
	Field  string
	// ImportNo is the position of the import in the import section.
	ImportNo uint32
	Entity   ImportIndex
}

// ExportIndex names the exported entity in the index space of its Type.
type ExportIndex struct {
	Type  ExternType
	Index Index
}

// TableInitializer is an active element segment.
type TableInitializer struct {
	TableIndex Index
	// Base is the global whose value is added to Offset, or nil.
	Base     *Index
	Offset   uint32
	Elements []Index
}

// DataInitializer is an active data segment.
type DataInitializer struct {
	MemoryIndex Index
	// Base is the global whose value is added to Offset, or nil.
	Base   *Index
	Offset uint32
	Data   []byte
}

// ModuleInfo is the structural description of a module with every index space resolved.
type ModuleInfo struct {
	// Name is the module name from the name section, if any.
	Name string

	// Imports are in import section order.
	Imports []ImportEntry

	// Exports maps an export name to the exported entity.
	Exports map[string]ExportIndex

	// StartFunction is the function to call on instantiation, or nil.
	StartFunction *Index

	TableInitializers []TableInitializer

	// PassiveElements maps an element segment index to its function indices.
	PassiveElements map[Index][]Index

	// PassiveData maps a data segment index to its bytes.
	PassiveData map[Index][]byte

	// GlobalInitializers are the initializers of local globals, by local global index.
	GlobalInitializers []GlobalInit

	// FunctionNames maps a function index to its name from the name section.
	FunctionNames map[Index]string

	// Signatures are the types of the type section.
	Signatures []FunctionType

	// Functions is the signature index of every function, imported first.
	Functions []Index

	// Tables, Memories and Globals are the types of every entity, imported first.
	Tables   []TableType
	Memories []MemoryType
	Globals  []GlobalType

	ImportCounts ImportCounts
}

// LocalFunctionIndex converts a function index to a local one, or returns false for an import.
func (m *ModuleInfo) LocalFunctionIndex(f Index) (Index, bool) {
	if f < m.ImportCounts.Functions {
		return 0, false
	}
	return f - m.ImportCounts.Functions, true
}

// FunctionIndex converts a local function index to a function index.
func (m *ModuleInfo) FunctionIndex(local Index) Index {
	return local + m.ImportCounts.Functions
}

// LocalTableIndex converts a table index to a local one, or returns false for an import.
func (m *ModuleInfo) LocalTableIndex(t Index) (Index, bool) {
	if t < m.ImportCounts.Tables {
		return 0, false
	}
	return t - m.ImportCounts.Tables, true
}

// LocalMemoryIndex converts a memory index to a local one, or returns false for an import.
func (m *ModuleInfo) LocalMemoryIndex(mem Index) (Index, bool) {
	if mem < m.ImportCounts.Memories {
		return 0, false
	}
	return mem - m.ImportCounts.Memories, true
}

// LocalGlobalIndex converts a global index to a local one, or returns false for an import.
func (m *ModuleInfo) LocalGlobalIndex(g Index) (Index, bool) {
	if g < m.ImportCounts.Globals {
		return 0, false
	}
	return g - m.ImportCounts.Globals, true
}

// LocalFunctionCount returns the number of functions defined by the module.
func (m *ModuleInfo) LocalFunctionCount() int {
	return len(m.Functions) - int(m.ImportCounts.Functions)
}

// FunctionType returns the signature of the function at index f.
func (m *ModuleInfo) FunctionType(f Index) *FunctionType {
	return &m.Signatures[m.Functions[f]]
}

// ImportedFunctionTypes returns the signature of every imported function, in function index order.
func (m *ModuleInfo) ImportedFunctionTypes() []*FunctionType {
	ret := make([]*FunctionType, m.ImportCounts.Functions)
	for i := range ret {
		ret[i] = m.FunctionType(Index(i))
	}
	return ret
}

// SortedExportNames returns the export names in lexical order.
func (m *ModuleInfo) SortedExportNames() []string {
	names := make([]string, 0, len(m.Exports))
	for name := range m.Exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewModuleInfo resolves the index spaces of m. It returns the description along with the active
// data segments, which belong to the compiled output rather than the description.
func NewModuleInfo(m *Module) (*ModuleInfo, []DataInitializer, error) {
	m.BuildImportCounts()
	info := &ModuleInfo{
		Exports:         make(map[string]ExportIndex, len(m.ExportSection)),
		PassiveElements: map[Index][]Index{},
		PassiveData:     map[Index][]byte{},
		FunctionNames:   map[Index]string{},
		Signatures:      m.TypeSection,
		ImportCounts: ImportCounts{
			Functions: m.ImportFunctionCount,
			Tables:    m.ImportTableCount,
			Memories:  m.ImportMemoryCount,
			Globals:   m.ImportGlobalCount,
		},
	}
	if info.Signatures == nil {
		info.Signatures = []FunctionType{}
	}

	for i := range m.ImportSection {
		imp := &m.ImportSection[i]
		entry := ImportEntry{Module: imp.Module, Field: imp.Name, ImportNo: uint32(i)}
		switch imp.Type {
		case ExternTypeFunc:
			if int(imp.DescFunc) >= len(m.TypeSection) {
				return nil, nil, fmt.Errorf("import[%d] func: type index %d out of range", i, imp.DescFunc)
			}
			entry.Entity = ImportIndex{Type: ExternTypeFunc, Index: Index(len(info.Functions))}
			info.Functions = append(info.Functions, imp.DescFunc)
		case ExternTypeTable:
			entry.Entity = ImportIndex{Type: ExternTypeTable, Index: Index(len(info.Tables))}
			info.Tables = append(info.Tables, imp.DescTable)
		case ExternTypeMemory:
			entry.Entity = ImportIndex{Type: ExternTypeMemory, Index: Index(len(info.Memories))}
			info.Memories = append(info.Memories, imp.DescMem)
		case ExternTypeGlobal:
			entry.Entity = ImportIndex{Type: ExternTypeGlobal, Index: Index(len(info.Globals))}
			info.Globals = append(info.Globals, imp.DescGlobal)
		}
		info.Imports = append(info.Imports, entry)
	}

	for i, typeIdx := range m.FunctionSection {
		if int(typeIdx) >= len(m.TypeSection) {
			return nil, nil, fmt.Errorf("function[%d]: type index %d out of range", i, typeIdx)
		}
		info.Functions = append(info.Functions, typeIdx)
	}
	info.Tables = append(info.Tables, m.TableSection...)
	info.Memories = append(info.Memories, m.MemorySection...)

	for i := range m.GlobalSection {
		g := &m.GlobalSection[i]
		init, err := g.Init.GlobalInit()
		if err != nil {
			return nil, nil, fmt.Errorf("global[%d]: %w", i, err)
		}
		info.Globals = append(info.Globals, g.Type)
		info.GlobalInitializers = append(info.GlobalInitializers, init)
	}

	for i := range m.ExportSection {
		e := &m.ExportSection[i]
		var limit int
		switch e.Type {
		case ExternTypeFunc:
			limit = len(info.Functions)
		case ExternTypeTable:
			limit = len(info.Tables)
		case ExternTypeMemory:
			limit = len(info.Memories)
		case ExternTypeGlobal:
			limit = len(info.Globals)
		}
		if int(e.Index) >= limit {
			return nil, nil, fmt.Errorf("export %q: %s index %d out of range", e.Name, ExternTypeName(e.Type), e.Index)
		}
		if _, ok := info.Exports[e.Name]; ok {
			return nil, nil, fmt.Errorf("export[%d] duplicates name %q", i, e.Name)
		}
		info.Exports[e.Name] = ExportIndex{Type: e.Type, Index: e.Index}
	}

	if m.StartSection != nil {
		start := *m.StartSection
		if int(start) >= len(info.Functions) {
			return nil, nil, fmt.Errorf("start function index %d out of range", start)
		}
		info.StartFunction = &start
	}

	for i := range m.ElementSection {
		seg := &m.ElementSection[i]
		switch seg.Mode {
		case ElementModeActive:
			offset, base, err := seg.OffsetExpr.Offset()
			if err != nil {
				return nil, nil, fmt.Errorf("element[%d]: %w", i, err)
			}
			info.TableInitializers = append(info.TableInitializers, TableInitializer{
				TableIndex: seg.TableIndex,
				Base:       base,
				Offset:     offset,
				Elements:   seg.Init,
			})
		case ElementModePassive:
			info.PassiveElements[Index(i)] = seg.Init
		}
	}

	var dataInitializers []DataInitializer
	for i := range m.DataSection {
		seg := &m.DataSection[i]
		if seg.Passive {
			info.PassiveData[Index(i)] = seg.Init
			continue
		}
		offset, base, err := seg.OffsetExpression.Offset()
		if err != nil {
			return nil, nil, fmt.Errorf("data[%d]: %w", i, err)
		}
		dataInitializers = append(dataInitializers, DataInitializer{
			MemoryIndex: seg.MemoryIndex,
			Base:        base,
			Offset:      offset,
			Data:        seg.Init,
		})
	}

	if ns := m.NameSection; ns != nil {
		info.Name = ns.ModuleName
		for idx, name := range ns.FunctionNames {
			info.FunctionNames[idx] = name
		}
	}
	return info, dataInitializers, nil
}
