package universal

import (
	"math"

	"github.com/pkg/errors"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/internal/codememory"
)

const (
	// ArchFunctionAlignment is the alignment of every function, trampoline and executable
	// custom section in code memory.
	ArchFunctionAlignment = 16
	// DataSectionAlignment is the alignment of read-only custom sections.
	DataSectionAlignment = 64
	// unwindAlignment is the alignment of unwind info written right after its function.
	unwindAlignment = 4
)

func roundUp(size, multiple int) int {
	return (size + multiple - 1) &^ (multiple - 1)
}

// functionAllocationSize returns the bytes a function takes in code memory, including unwind
// info that must follow it.
func functionAllocationSize(f *compiler.FunctionBody) int {
	if unwind := f.InlineUnwindInfo(); unwind != nil {
		return roundUp(len(f.Body), unwindAlignment) + len(unwind)
	}
	return len(f.Body)
}

// layout is the placement of an executable in its region. Function offsets are in write order:
// call trampolines, then local functions, then dynamic trampolines.
type layout struct {
	callTrampolines    []int
	functions          []int
	dynamicTrampolines []int
	// customSections is indexed by section index.
	customSections []int
	// executableSize is page aligned. Data sections start there.
	executableSize int
	dataSize       int
}

func (l *layout) total() int {
	return l.executableSize + l.dataSize
}

// planLayout places every function and custom section of src. Executable bytes come first and
// data sections start on the next page, so the two can be protected differently.
func planLayout(src executableSource, pageSize int) layout {
	l := layout{
		callTrampolines:    make([]int, src.callTrampolineCount()),
		functions:          make([]int, src.functionCount()),
		dynamicTrampolines: make([]int, src.dynamicTrampolineCount()),
		customSections:     make([]int, src.customSectionCount()),
	}
	var acc int
	place := func(size int) int {
		off := acc
		acc = roundUp(acc+size, ArchFunctionAlignment)
		return off
	}
	for i := range l.callTrampolines {
		body := src.callTrampoline(i)
		l.callTrampolines[i] = place(functionAllocationSize(&body))
	}
	for i := range l.functions {
		body := src.functionBody(i)
		l.functions[i] = place(functionAllocationSize(&body))
	}
	for i := range l.dynamicTrampolines {
		body := src.dynamicTrampoline(i)
		l.dynamicTrampolines[i] = place(functionAllocationSize(&body))
	}
	for i := range l.customSections {
		if src.customSectionProtection(i) == compiler.ProtectionReadExecute {
			l.customSections[i] = place(len(src.customSectionBytes(i)))
		}
	}
	l.executableSize = roundUp(acc, pageSize)

	acc = 0
	for i := range l.customSections {
		if src.customSectionProtection(i) != compiler.ProtectionReadExecute {
			l.customSections[i] = l.executableSize + acc
			acc = roundUp(acc+len(src.customSectionBytes(i)), DataSectionAlignment)
		}
	}
	l.dataSize = acc
	return l
}

// allocate reserves a region for src and writes its functions and sections at the offsets of
// planLayout. The region is returned unpublished with its writer, for linking.
func (e *Engine) allocate(src executableSource) (*codememory.Region, *codememory.Writer, layout, error) {
	pool := e.inner.pool
	l := planLayout(src, pool.PageSize())

	region, err := pool.Allocate(l.total())
	if err != nil {
		return nil, nil, l, newError(KindResource, err, "allocate %d bytes of code memory", l.total())
	}
	w, err := region.Writer()
	if err == nil {
		err = writeLayout(w, src, &l, pool.PageSize())
	}
	if err != nil {
		_ = region.Release()
		var ce *CompileError
		if errors.As(err, &ce) {
			return nil, nil, l, err
		}
		return nil, nil, l, newError(KindLink, err, "write code memory")
	}
	return region, w, l, nil
}

// bodyLength converts the length of a function body to the width recorded in function metadata.
func bodyLength(n int) (uint32, error) {
	if uint64(n) > math.MaxUint32 {
		return 0, newError(KindCodegen, nil, "function body length %d exceeds 4GiB", n)
	}
	return uint32(n), nil
}

func writeLayout(w *codememory.Writer, src executableSource, l *layout, pageSize int) error {
	writeFunction := func(body compiler.FunctionBody, want int, what string, i int) error {
		if _, err := bodyLength(len(body.Body)); err != nil {
			return errors.WithMessagef(err, "%s %d", what, i)
		}
		off, err := w.WriteExecutable(ArchFunctionAlignment, body.Body)
		if err != nil {
			return errors.Wrapf(err, "%s %d", what, i)
		}
		if off != want {
			return errors.Errorf("%s %d written at %#x, planned at %#x", what, i, off, want)
		}
		if unwind := body.InlineUnwindInfo(); unwind != nil {
			if _, err = w.WriteExecutable(unwindAlignment, unwind); err != nil {
				return errors.Wrapf(err, "unwind info of %s %d", what, i)
			}
		}
		return nil
	}

	for i, want := range l.callTrampolines {
		if err := writeFunction(src.callTrampoline(i), want, "call trampoline", i); err != nil {
			return err
		}
	}
	for i, want := range l.functions {
		if err := writeFunction(src.functionBody(i), want, "function", i); err != nil {
			return err
		}
	}
	for i, want := range l.dynamicTrampolines {
		if err := writeFunction(src.dynamicTrampoline(i), want, "dynamic trampoline", i); err != nil {
			return err
		}
	}
	for i, want := range l.customSections {
		if src.customSectionProtection(i) != compiler.ProtectionReadExecute {
			continue
		}
		off, err := w.WriteExecutable(ArchFunctionAlignment, src.customSectionBytes(i))
		if err != nil {
			return errors.Wrapf(err, "custom section %d", i)
		}
		if off != want {
			return errors.Errorf("custom section %d written at %#x, planned at %#x", i, off, want)
		}
	}

	alignment := pageSize
	for i, want := range l.customSections {
		if src.customSectionProtection(i) == compiler.ProtectionReadExecute {
			continue
		}
		off, err := w.WriteData(alignment, src.customSectionBytes(i))
		if err != nil {
			return errors.Wrapf(err, "custom section %d", i)
		}
		if off != want {
			return errors.Errorf("custom section %d written at %#x, planned at %#x", i, off, want)
		}
		alignment = DataSectionAlignment
	}
	return nil
}
