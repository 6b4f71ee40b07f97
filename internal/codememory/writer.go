package codememory

import (
	"github.com/pkg/errors"
)

var (
	// ErrOutOfBounds is returned when a write does not fit in the region.
	ErrOutOfBounds = errors.New("write out of code region bounds")
	// ErrInterleaved is returned when executable bytes are written after data bytes.
	ErrInterleaved = errors.New("executable write after data write")
	// ErrPageShared is returned when data would share a page with executable bytes.
	ErrPageShared = errors.New("data write shares a page with executable memory")
)

// Writer fills a Region before it is published. Executable bytes come first and data bytes after.
type Writer struct {
	r      *Region
	offset int
}

// Offset returns the end of the last write.
func (w *Writer) Offset() int {
	return w.offset
}

// WriteExecutable writes input at the next offset aligned to alignment and returns that offset.
func (w *Writer) WriteExecutable(alignment int, input []byte) (int, error) {
	if w.r.hasData {
		return 0, ErrInterleaved
	}
	offset, err := w.write(alignment, input)
	if err != nil {
		return 0, err
	}
	w.r.executableEnd = w.offset
	return offset, nil
}

// WriteData writes input at the next offset aligned to alignment and returns that offset. The first
// data write must not land on a page holding executable bytes.
func (w *Writer) WriteData(alignment int, input []byte) (int, error) {
	if !w.r.hasData {
		if start := RoundUp(w.offset, alignment); w.r.executableEnd > 0 && start < RoundUp(w.r.executableEnd, w.r.pageSize) {
			return 0, errors.Wrapf(ErrPageShared, "data at %d, executable zone ends at %d", start, w.r.executableEnd)
		}
	}
	offset, err := w.write(alignment, input)
	if err != nil {
		return 0, err
	}
	if !w.r.hasData {
		w.r.hasData = true
		w.r.dataStart = offset
	}
	return offset, nil
}

// Patch returns a writable window of n bytes at offset, for applying relocations.
func (w *Writer) Patch(offset, n int) ([]byte, error) {
	if err := w.check(); err != nil {
		return nil, err
	}
	if offset < 0 || n < 0 || offset+n > w.r.size {
		return nil, errors.Wrapf(ErrOutOfBounds, "patch [%d, %d) in region of %d bytes", offset, offset+n, w.r.size)
	}
	return w.r.mem[offset : offset+n : offset+n], nil
}

// Address returns the address offset will have once published, for relocation arithmetic.
func (w *Writer) Address(offset int) uintptr {
	return w.r.base() + uintptr(offset)
}

func (w *Writer) write(alignment int, input []byte) (int, error) {
	if err := w.check(); err != nil {
		return 0, err
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return 0, errors.Errorf("alignment %d is not a power of two", alignment)
	}
	aligned := RoundUp(w.offset, alignment)
	end := aligned + len(input)
	if end > w.r.size {
		return 0, errors.Wrapf(ErrOutOfBounds, "write [%d, %d) in region of %d bytes", aligned, end, w.r.size)
	}
	clear(w.r.mem[w.offset:aligned])
	copy(w.r.mem[aligned:end], input)
	w.offset = end
	return aligned, nil
}

func (w *Writer) check() error {
	switch {
	case w.r.released:
		return ErrReleased
	case w.r.published:
		return ErrPublished
	}
	return nil
}
