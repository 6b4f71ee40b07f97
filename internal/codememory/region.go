package codememory

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/wasmforge/universal/internal/platform"
)

var (
	// ErrPublished is returned by any write attempted after Region.Publish.
	ErrPublished = errors.New("code region already published")
	// ErrWriterTaken is returned when the writer of a region is requested twice.
	ErrWriterTaken = errors.New("code region writer already taken")
	// ErrNotPublished is returned when an address is requested before Region.Publish.
	ErrNotPublished = errors.New("code region not published")
	// ErrReleased is returned by any use of a region after Region.Release.
	ErrReleased = errors.New("code region released")
)

// Address is a location inside a published region. Only this package can construct a non-zero
// Address.
type Address struct {
	ptr uintptr
}

// Uintptr returns the raw address.
func (a Address) Uintptr() uintptr {
	return a.ptr
}

// IsZero returns true for the zero Address.
func (a Address) IsZero() bool {
	return a.ptr == 0
}

// Region is one allocation from a Pool. It is written through its Writer, then published,
// after which its executable zone is read-execute and its data zone read-only.
type Region struct {
	pool     *Pool
	mem      []byte
	size     int
	pageSize int

	// executableEnd is the end offset of the last executable write.
	executableEnd int
	// dataStart is the offset of the first data write, or zero when none happened.
	dataStart int
	hasData   bool

	writerTaken bool
	published   bool
	released    bool
}

// Size returns the requested size of the region.
func (r *Region) Size() int {
	return r.size
}

// ExecutableEnd returns the end offset of the executable zone as written.
func (r *Region) ExecutableEnd() int {
	return r.executableEnd
}

// DataStart returns the offset of the data zone and whether any data was written.
func (r *Region) DataStart() (int, bool) {
	return r.dataStart, r.hasData
}

// Published returns true once Publish succeeded.
func (r *Region) Published() bool {
	return r.published
}

// Writer returns the write handle. It can be obtained only once and never after Publish.
func (r *Region) Writer() (*Writer, error) {
	switch {
	case r.released:
		return nil, ErrReleased
	case r.published:
		return nil, ErrPublished
	case r.writerTaken:
		return nil, ErrWriterTaken
	}
	r.writerTaken = true
	return &Writer{r: r}, nil
}

// Publish flips the executable zone to read-execute and the rest of the region to read-only.
// It must be called exactly once.
func (r *Region) Publish() error {
	switch {
	case r.released:
		return ErrReleased
	case r.published:
		return ErrPublished
	}
	if len(r.mem) > 0 {
		execZone := RoundUp(r.executableEnd, r.pageSize)
		if execZone > len(r.mem) {
			execZone = len(r.mem)
		}
		if err := platform.MprotectRX(r.mem[:execZone]); err != nil {
			return errors.Wrap(err, "mprotect executable zone")
		}
		if err := platform.MprotectR(r.mem[execZone:]); err != nil {
			return errors.Wrap(err, "mprotect data zone")
		}
	}
	r.published = true
	return nil
}

// ExecutableAddress returns the address of offset within the executable zone.
func (r *Region) ExecutableAddress(offset int) (Address, error) {
	if err := r.readable(); err != nil {
		return Address{}, err
	}
	if offset < 0 || offset > r.executableEnd {
		return Address{}, errors.Errorf("offset %d outside executable zone [0, %d)", offset, r.executableEnd)
	}
	return Address{ptr: r.base() + uintptr(offset)}, nil
}

// DataAddress returns the address of offset within the region, which must lie in the data zone.
func (r *Region) DataAddress(offset int) (Address, error) {
	if err := r.readable(); err != nil {
		return Address{}, err
	}
	if !r.hasData || offset < r.dataStart || offset > r.size {
		return Address{}, errors.Errorf("offset %d outside data zone", offset)
	}
	return Address{ptr: r.base() + uintptr(offset)}, nil
}

// Bytes returns a read-only view of n bytes at offset of a published region.
func (r *Region) Bytes(offset, n int) ([]byte, error) {
	if err := r.readable(); err != nil {
		return nil, err
	}
	if offset < 0 || n < 0 || offset+n > r.size {
		return nil, errors.Errorf("range [%d, %d) outside region of %d bytes", offset, offset+n, r.size)
	}
	return r.mem[offset : offset+n : offset+n], nil
}

// Contains returns true if addr lies inside the region.
func (r *Region) Contains(addr uintptr) bool {
	if len(r.mem) == 0 || r.released {
		return false
	}
	base := r.base()
	return addr >= base && addr < base+uintptr(r.size)
}

// Base returns the start address of the region, or zero when it is empty or released.
func (r *Region) Base() uintptr {
	if r.released {
		return 0
	}
	return r.base()
}

// Release returns the memory to the pool. Addresses handed out by the region are invalid afterwards.
func (r *Region) Release() error {
	if r.released {
		return nil
	}
	r.released = true
	if len(r.mem) == 0 {
		return nil
	}
	mem := r.mem
	r.mem = nil
	return r.pool.release(mem)
}

func (r *Region) readable() error {
	switch {
	case r.released:
		return ErrReleased
	case !r.published:
		return ErrNotPublished
	}
	return nil
}

func (r *Region) base() uintptr {
	if len(r.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.mem[0]))
}
