package executable

import (
	"github.com/pkg/errors"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/wasm"
)

// counts are the list lengths of an executable that must agree with its module.
type counts struct {
	functionBodies      int
	functionRelocations int
	functionJumpTables  int
	functionFrameInfo   int

	callTrampolines    int
	dynamicTrampolines int

	customSections           int
	customSectionRelocations int

	debug       *compiler.Dwarf
	trampolines *compiler.TrampolinesSection
}

func (c *counts) check(m *wasm.ModuleInfo) error {
	n := c.functionBodies
	if local := m.LocalFunctionCount(); n != local {
		return errors.Errorf("%d function bodies for %d local functions", n, local)
	}
	for _, l := range []struct {
		name string
		n    int
	}{
		{"function relocation lists", c.functionRelocations},
		{"function jump table lists", c.functionJumpTables},
		{"function frame infos", c.functionFrameInfo},
	} {
		if l.n != n {
			return errors.Errorf("%d %s for %d functions", l.n, l.name, n)
		}
	}
	if got, want := c.callTrampolines, len(m.Signatures); got != want {
		return errors.Errorf("%d call trampolines for %d signatures", got, want)
	}
	if got, want := c.dynamicTrampolines, int(m.ImportCounts.Functions); got != want {
		return errors.Errorf("%d dynamic trampolines for %d imported functions", got, want)
	}
	sections := c.customSections
	if got := c.customSectionRelocations; got != sections {
		return errors.Errorf("%d custom section relocation lists for %d sections", got, sections)
	}
	if c.debug != nil && int(c.debug.EhFrame) >= sections {
		return errors.Errorf("eh_frame section %d out of range", c.debug.EhFrame)
	}
	if c.trampolines != nil && int(c.trampolines.SectionIndex) >= sections {
		return errors.Errorf("trampolines section %d out of range", c.trampolines.SectionIndex)
	}
	return nil
}

// Check applies the consistency checks NewView runs on a serialized executable to e, so an
// executable built or edited in memory fails to load instead of indexing out of range. The
// error matches ErrCorrupt.
func (e *Executable) Check() error {
	if e.CompileInfo.Module == nil {
		return corrupt(nil, "compile info: missing module")
	}
	if err := checkCompileInfo(&e.CompileInfo); err != nil {
		return corrupt(err, "compile info")
	}
	for i := range e.CustomSections {
		if p := e.CustomSections[i].Protection; p > compiler.ProtectionReadExecute {
			return corrupt(nil, "custom section[%d]: unknown protection %d", i, p)
		}
	}
	c := counts{
		functionBodies:           len(e.FunctionBodies),
		functionRelocations:      len(e.FunctionRelocations),
		functionJumpTables:       len(e.FunctionJumpTables),
		functionFrameInfo:        len(e.FunctionFrameInfo),
		callTrampolines:          len(e.FunctionCallTrampolines),
		dynamicTrampolines:       len(e.DynamicFunctionTrampolines),
		customSections:           len(e.CustomSections),
		customSectionRelocations: len(e.CustomSections),
		debug:                    e.Debug,
		trampolines:              e.Trampolines,
	}
	if err := c.check(e.CompileInfo.Module); err != nil {
		return corrupt(err, "inconsistent executable")
	}
	return nil
}
