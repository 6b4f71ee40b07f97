// Package wasm holds the structural description of a WebAssembly module: the sections as decoded
// and the index-space-resolved ModuleInfo consumed by compilers and the loader.
package wasm

// Module is a WebAssembly binary representation.
// See https://www.w3.org/TR/wasm-core-2/#modules%E2%91%A8
//
// Differences from the specification:
// * NameSection is the only key ("name") decoded from the SectionIDCustom.
// * ExportSection is represented as a slice in declaration order.
type Module struct {
	// TypeSection contains the unique FunctionType of functions imported or defined in this module.
	TypeSection []FunctionType

	// ImportSection contains imported functions, tables, memories or globals required for instantiation.
	ImportSection []Import

	// FunctionSection contains the index in TypeSection of each function defined in this module.
	//
	// Note: The function Index namespace begins with imported functions and ends with those defined in this module.
	FunctionSection []Index

	TableSection []TableType

	MemorySection []MemoryType

	GlobalSection []Global

	ExportSection []Export

	// StartSection is the index of a function to call before returning from instantiation, or nil.
	StartSection *Index

	ElementSection []ElementSegment

	// CodeSection is index-correlated with FunctionSection and contains each function's locals and body.
	CodeSection []Code

	DataSection []DataSegment

	// DataCountSection is the declared count of data segments, or nil when absent.
	DataCountSection *uint32

	// NameSection is set when the custom "name" section was present.
	NameSection *NameSection

	// ImportFunctionCount and friends are the counts of imports by type, computed on decode.
	ImportFunctionCount,
	ImportTableCount,
	ImportMemoryCount,
	ImportGlobalCount Index
}

// Import is the binary representation of an import indicated by Type
// See https://www.w3.org/TR/wasm-core-2/#binary-import
type Import struct {
	Type ExternType
	// Module is the possibly empty primary namespace of this import
	Module string
	// Name is the possibly empty secondary namespace of this import
	Name string
	// DescFunc is the index in Module.TypeSection when Type equals ExternTypeFunc
	DescFunc Index
	// DescTable is the inlined TableType when Type equals ExternTypeTable
	DescTable TableType
	// DescMem is the inlined MemoryType when Type equals ExternTypeMemory
	DescMem MemoryType
	// DescGlobal is the inlined GlobalType when Type equals ExternTypeGlobal
	DescGlobal GlobalType
}

// Export is the binary representation of an export indicated by Type
// See https://www.w3.org/TR/wasm-core-2/#binary-export
type Export struct {
	Type ExternType
	// Name is what the host refers to this definition as.
	Name string
	// Index is the index of the definition to export, the index namespace is by Type
	Index Index
}

// Global is a global variable declared in this module.
type Global struct {
	Type GlobalType
	Init ConstantExpression
}

// Code is an entry in the Module.CodeSection containing the locals and body of the function.
// See https://www.w3.org/TR/wasm-core-2/#binary-code
type Code struct {
	// LocalTypes are any function-scoped variables in insertion order.
	LocalTypes []ValueType

	// Body is a sequence of expressions ending in OpcodeEnd
	Body []byte

	// BodyOffset is the offset of the beginning of the body in the module binary.
	BodyOffset uint64
}

// ElementMode represents a mode of element segment which is either active, passive or declarative.
//
// See https://www.w3.org/TR/wasm-core-2/#element-segments
type ElementMode = byte

const (
	ElementModeActive ElementMode = iota
	ElementModePassive
	ElementModeDeclarative
)

// ElementSegment are initialization instructions for a TableInstance
//
// See https://www.w3.org/TR/wasm-core-2/#element-segments
type ElementSegment struct {
	// OffsetExpr returns the table element offset to apply to Init indices. Only set in active mode.
	OffsetExpr ConstantExpression

	// TableIndex is the table's index to which this element segment is applied.
	TableIndex Index

	// Init indices are the function indices of the segment. ElementInitNullReference marks a null
	// reference.
	Init []Index

	// Type holds the type of this element segment, which is the RefType in WebAssembly 2.0.
	Type ValueType

	Mode ElementMode
}

// ElementInitNullReference is the Init entry for ref.null in an element segment.
const ElementInitNullReference = ^Index(0)

// DataSegment is a range of bytes to copy into memory, immediately on instantiation when active.
//
// See https://www.w3.org/TR/wasm-core-2/#data-segments%E2%91%A0
type DataSegment struct {
	OffsetExpression ConstantExpression
	MemoryIndex      Index
	Init             []byte
	Passive          bool
}

// NameSection represent the known custom name subsections defined in the WebAssembly Binary Format
//
// Note: This can be nil if no names were decoded for any reason including configuration.
// See https://www.w3.org/TR/wasm-core-2/#name-section%E2%91%A0
type NameSection struct {
	// ModuleName is the symbolic identifier for a module. Ex. math
	ModuleName string

	// FunctionNames is an association of a function index to its symbolic identifier. Ex. add
	//
	// Note: the key is in the function namespace, where module defined functions are preceded by imported ones.
	FunctionNames map[Index]string
}

// SectionID identifies the sections of a Module in the WebAssembly Binary Format.
//
// See https://www.w3.org/TR/wasm-core-2/#sections%E2%91%A0
type SectionID = byte

const (
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
	SectionIDDataCount
)

// SectionIDName returns the canonical name of a module section.
func SectionIDName(sectionID SectionID) string {
	switch sectionID {
	case SectionIDCustom:
		return "custom"
	case SectionIDType:
		return "type"
	case SectionIDImport:
		return "import"
	case SectionIDFunction:
		return "function"
	case SectionIDTable:
		return "table"
	case SectionIDMemory:
		return "memory"
	case SectionIDGlobal:
		return "global"
	case SectionIDExport:
		return "export"
	case SectionIDStart:
		return "start"
	case SectionIDElement:
		return "element"
	case SectionIDCode:
		return "code"
	case SectionIDData:
		return "data"
	case SectionIDDataCount:
		return "data_count"
	}
	return "unknown"
}

// TypeOfFunction returns the type index of the function at funcIdx in the function index space.
func (m *Module) TypeOfFunction(funcIdx Index) (Index, bool) {
	if funcIdx < m.ImportFunctionCount {
		var cur Index
		for i := range m.ImportSection {
			imp := &m.ImportSection[i]
			if imp.Type != ExternTypeFunc {
				continue
			}
			if cur == funcIdx {
				return imp.DescFunc, true
			}
			cur++
		}
		return 0, false
	}
	local := funcIdx - m.ImportFunctionCount
	if int(local) >= len(m.FunctionSection) {
		return 0, false
	}
	return m.FunctionSection[local], true
}

// BuildImportCounts sets the Import*Count fields from the ImportSection.
func (m *Module) BuildImportCounts() {
	m.ImportFunctionCount, m.ImportTableCount, m.ImportMemoryCount, m.ImportGlobalCount = 0, 0, 0, 0
	for i := range m.ImportSection {
		switch m.ImportSection[i].Type {
		case ExternTypeFunc:
			m.ImportFunctionCount++
		case ExternTypeTable:
			m.ImportTableCount++
		case ExternTypeMemory:
			m.ImportMemoryCount++
		case ExternTypeGlobal:
			m.ImportGlobalCount++
		}
	}
}
