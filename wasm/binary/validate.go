package binary

import (
	"fmt"

	"github.com/wasmforge/universal/wasm"
)

// ValidateModule performs the structural checks of a decoded module that don't need to look at
// function bodies: every index refers to something that exists and the limits on counts hold.
func ValidateModule(m *wasm.Module, enabledFeatures wasm.Features) error {
	m.BuildImportCounts()

	typeCount := wasm.Index(len(m.TypeSection))
	for i := range m.ImportSection {
		imp := &m.ImportSection[i]
		if imp.Type == wasm.ExternTypeFunc && imp.DescFunc >= typeCount {
			return fmt.Errorf("invalid import[%q.%q] function: type index out of range", imp.Module, imp.Name)
		}
	}
	for i, typeIdx := range m.FunctionSection {
		if typeIdx >= typeCount {
			return fmt.Errorf("invalid function[%d]: type section index %d out of range", i, typeIdx)
		}
	}

	functionCount := m.ImportFunctionCount + wasm.Index(len(m.FunctionSection))
	tableCount := m.ImportTableCount + wasm.Index(len(m.TableSection))
	memoryCount := m.ImportMemoryCount + wasm.Index(len(m.MemorySection))
	globalCount := m.ImportGlobalCount + wasm.Index(len(m.GlobalSection))

	if memoryCount > 1 {
		return fmt.Errorf("multiple memories are not supported")
	}
	if tableCount > 1 {
		if err := enabledFeatures.RequireEnabled(wasm.FeatureReferenceTypes); err != nil {
			return fmt.Errorf("multiple tables are not supported as %v", err)
		}
	}

	if err := validateGlobals(m); err != nil {
		return err
	}

	for i := range m.ExportSection {
		e := &m.ExportSection[i]
		var count wasm.Index
		switch e.Type {
		case wasm.ExternTypeFunc:
			count = functionCount
		case wasm.ExternTypeTable:
			count = tableCount
		case wasm.ExternTypeMemory:
			count = memoryCount
		case wasm.ExternTypeGlobal:
			count = globalCount
		}
		if e.Index >= count {
			return fmt.Errorf("unknown %s for export[%q]", wasm.ExternTypeName(e.Type), e.Name)
		}
	}

	if m.StartSection != nil {
		start := *m.StartSection
		typeIdx, ok := m.TypeOfFunction(start)
		if !ok {
			return fmt.Errorf("invalid start function: func[%d] has an invalid type", start)
		}
		if ft := &m.TypeSection[typeIdx]; len(ft.Params) > 0 || len(ft.Results) > 0 {
			return fmt.Errorf("invalid start function: func[%d] has signature %s instead of () -> ()", start, ft)
		}
	}

	for i := range m.ElementSection {
		seg := &m.ElementSection[i]
		if seg.Mode == wasm.ElementModeActive && seg.TableIndex >= tableCount {
			return fmt.Errorf("unknown table %d as active element target", seg.TableIndex)
		}
		for _, idx := range seg.Init {
			if idx != wasm.ElementInitNullReference && idx >= functionCount {
				return fmt.Errorf("element[%d]: function index %d out of range", i, idx)
			}
		}
	}

	if m.DataCountSection != nil && int(*m.DataCountSection) != len(m.DataSection) {
		return fmt.Errorf("data count section (%d) doesn't match the length of data section (%d)",
			*m.DataCountSection, len(m.DataSection))
	}
	for i := range m.DataSection {
		seg := &m.DataSection[i]
		if !seg.Passive && seg.MemoryIndex >= memoryCount {
			return fmt.Errorf("unknown memory for data[%d]", i)
		}
	}
	return nil
}

func validateGlobals(m *wasm.Module) error {
	importedGlobals := make([]wasm.GlobalType, 0, m.ImportGlobalCount)
	for i := range m.ImportSection {
		if imp := &m.ImportSection[i]; imp.Type == wasm.ExternTypeGlobal {
			importedGlobals = append(importedGlobals, imp.DescGlobal)
		}
	}
	functionCount := m.ImportFunctionCount + wasm.Index(len(m.FunctionSection))
	for i := range m.GlobalSection {
		g := &m.GlobalSection[i]
		init, err := g.Init.GlobalInit()
		if err != nil {
			return fmt.Errorf("global[%d]: %w", i, err)
		}
		var actual wasm.ValueType
		switch init.Kind {
		case wasm.GlobalInitI32Const:
			actual = wasm.ValueTypeI32
		case wasm.GlobalInitI64Const:
			actual = wasm.ValueTypeI64
		case wasm.GlobalInitF32Const:
			actual = wasm.ValueTypeF32
		case wasm.GlobalInitF64Const:
			actual = wasm.ValueTypeF64
		case wasm.GlobalInitV128Const:
			actual = wasm.ValueTypeV128
		case wasm.GlobalInitGetGlobal:
			if init.Bits >= uint64(len(importedGlobals)) {
				return fmt.Errorf("global[%d]: global.get %d must refer to an imported global", i, init.Bits)
			}
			actual = importedGlobals[init.Bits].ValType
		case wasm.GlobalInitRefNullConst:
			if len(g.Init.Data) != 1 {
				return fmt.Errorf("global[%d]: ref.null without a reference type", i)
			}
			actual = g.Init.Data[0]
		case wasm.GlobalInitRefFunc:
			if init.Bits >= uint64(functionCount) {
				return fmt.Errorf("global[%d]: ref.func %d out of range", i, init.Bits)
			}
			actual = wasm.ValueTypeFuncref
		}
		if actual != g.Type.ValType {
			return fmt.Errorf("global[%d]: type mismatch: %s != %s", i,
				wasm.ValueTypeName(g.Type.ValType), wasm.ValueTypeName(actual))
		}
	}
	return nil
}
