package executable

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

var le = binary.LittleEndian

// encoder appends little-endian values to a buffer.
type encoder struct {
	buf []byte
}

func (e *encoder) u8(v byte) {
	e.buf = append(e.buf, v)
}

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) u32(v uint32) {
	e.buf = le.AppendUint32(e.buf, v)
}

func (e *encoder) u64(v uint64) {
	e.buf = le.AppendUint64(e.buf, v)
}

func (e *encoder) i64(v int64) {
	e.u64(uint64(v))
}

// bytes writes b prefixed with its u32 length.
func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) optU32(v *uint32) {
	e.bool(v != nil)
	if v != nil {
		e.u32(*v)
	}
}

// listEncoder builds a list: a u64 count, count+1 u64 offsets relative to the payload, then
// the payload. Items are sliced out of a view as payload[offsets[i]:offsets[i+1]].
type listEncoder struct {
	offsets []uint64
	payload encoder
}

func (l *listEncoder) item() *encoder {
	l.offsets = append(l.offsets, uint64(len(l.payload.buf)))
	return &l.payload
}

func (l *listEncoder) finish() []byte {
	var e encoder
	e.u64(uint64(len(l.offsets)))
	for _, o := range l.offsets {
		e.u64(o)
	}
	e.u64(uint64(len(l.payload.buf)))
	e.buf = append(e.buf, l.payload.buf...)
	return e.buf
}

// decoder reads little-endian values. The first failure sticks and zero values are returned
// from then on, so callers check err once.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = errors.Errorf(format, args...)
	}
}

func (d *decoder) take(n int, what string) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.b) {
		d.fail("%s: need %d bytes, have %d", what, n, len(d.b))
		return nil
	}
	ret := d.b[:n:n]
	d.b = d.b[n:]
	return ret
}

func (d *decoder) u8(what string) byte {
	if b := d.take(1, what); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) bool(what string) bool {
	switch v := d.u8(what); v {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail("%s: invalid bool %d", what, v)
		return false
	}
}

func (d *decoder) u32(what string) uint32 {
	if b := d.take(4, what); b != nil {
		return le.Uint32(b)
	}
	return 0
}

func (d *decoder) u64(what string) uint64 {
	if b := d.take(8, what); b != nil {
		return le.Uint64(b)
	}
	return 0
}

func (d *decoder) i64(what string) int64 {
	return int64(d.u64(what))
}

// bytes returns a sub-slice of the input without copying.
func (d *decoder) bytes(what string) []byte {
	n := d.u32(what + " length")
	return d.take(int(n), what)
}

func (d *decoder) str(what string) string {
	return string(d.bytes(what))
}

func (d *decoder) optU32(what string) *uint32 {
	if !d.bool(what) {
		return nil
	}
	v := d.u32(what)
	return &v
}

// count reads a u32 element count, rejecting counts that can't fit in the remaining input
// given the minimum size of an element.
func (d *decoder) count(what string, minSize int) int {
	n := d.u32(what + " count")
	if d.err == nil && minSize > 0 && uint64(n)*uint64(minSize) > uint64(len(d.b)) {
		d.fail("%s count %d exceeds remaining %d bytes", what, n, len(d.b))
		return 0
	}
	return int(n)
}

func (d *decoder) finish(what string) error {
	if d.err == nil && len(d.b) != 0 {
		d.fail("%s: %d trailing bytes", what, len(d.b))
	}
	return d.err
}

// list is a validated list of a serialized executable.
type list struct {
	offsets []byte
	payload []byte
	n       int
}

func parseList(b []byte) (list, error) {
	if len(b) < 16 {
		return list{}, errors.Errorf("list header: %d bytes", len(b))
	}
	n := le.Uint64(b)
	if n > math.MaxInt32 || (n+1)*8 > uint64(len(b)-8) {
		return list{}, errors.Errorf("list count %d exceeds %d bytes", n, len(b))
	}
	offsets := b[8 : 8+(n+1)*8]
	payload := b[8+(n+1)*8:]
	var prev uint64
	for i := uint64(0); i <= n; i++ {
		o := le.Uint64(offsets[i*8:])
		if o < prev || o > uint64(len(payload)) {
			return list{}, errors.Errorf("list item %d offset %d out of order or bounds", i, o)
		}
		prev = o
	}
	if prev != uint64(len(payload)) {
		return list{}, errors.Errorf("list payload is %d bytes, items end at %d", len(payload), prev)
	}
	return list{offsets: offsets, payload: payload, n: int(n)}, nil
}

func (l list) len() int {
	return l.n
}

func (l list) item(i int) []byte {
	start, end := le.Uint64(l.offsets[i*8:]), le.Uint64(l.offsets[(i+1)*8:])
	return l.payload[start:end:end]
}
