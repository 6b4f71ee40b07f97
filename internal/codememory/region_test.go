package codememory

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/wasmforge/universal/internal/platform"
)

func newTestRegion(t *testing.T, size int) *Region {
	pool := NewPool(size + platform.PageSize()*4)
	r, err := pool.Allocate(size)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Release())
		require.NoError(t, pool.Close())
	})
	return r
}

func TestWriter_write(t *testing.T) {
	requireCompilerSupported(t)

	page := platform.PageSize()
	r := newTestRegion(t, page+128)
	w, err := r.Writer()
	require.NoError(t, err)

	off, err := w.WriteExecutable(16, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 0, off)

	off, err = w.WriteExecutable(16, []byte{4})
	require.NoError(t, err)
	require.Equal(t, 16, off)
	require.Equal(t, 17, w.Offset())

	// Data can't share the page of executable bytes.
	_, err = w.WriteData(64, []byte{5})
	require.True(t, errors.Is(err, ErrPageShared))

	off, err = w.WriteData(page, []byte{5, 6})
	require.NoError(t, err)
	require.Equal(t, page, off)

	off, err = w.WriteData(64, []byte{7})
	require.NoError(t, err)
	require.Equal(t, page+64, off)

	_, err = w.WriteExecutable(16, []byte{8})
	require.True(t, errors.Is(err, ErrInterleaved))

	_, err = w.WriteData(64, make([]byte, 64))
	require.True(t, errors.Is(err, ErrOutOfBounds))

	_, err = w.WriteData(3, []byte{1})
	require.EqualError(t, err, "alignment 3 is not a power of two")

	patch, err := w.Patch(0, 4)
	require.NoError(t, err)
	// Alignment padding is zero filled.
	require.Equal(t, []byte{1, 2, 3, 0}, patch)
	patch[3] = 9

	require.NoError(t, r.Publish())
	require.Equal(t, 17, r.ExecutableEnd())
	start, ok := r.DataStart()
	require.True(t, ok)
	require.Equal(t, page, start)

	b, err := r.Bytes(0, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 9}, b)
	b, err = r.Bytes(page+64, 1)
	require.NoError(t, err)
	require.Equal(t, []byte{7}, b)
}

func TestRegion_publishOnce(t *testing.T) {
	requireCompilerSupported(t)

	r := newTestRegion(t, 64)
	w, err := r.Writer()
	require.NoError(t, err)

	_, err = r.Writer()
	require.Equal(t, ErrWriterTaken, err)

	_, err = r.ExecutableAddress(0)
	require.Equal(t, ErrNotPublished, err)

	_, err = w.WriteExecutable(16, []byte{0xc3})
	require.NoError(t, err)
	require.NoError(t, r.Publish())
	require.True(t, r.Published())

	require.Equal(t, ErrPublished, r.Publish())
	_, err = r.Writer()
	require.Equal(t, ErrPublished, err)
	_, err = w.WriteExecutable(16, []byte{0xc3})
	require.Equal(t, ErrPublished, err)
	_, err = w.WriteData(64, []byte{0})
	require.Equal(t, ErrPublished, err)
	_, err = w.Patch(0, 1)
	require.Equal(t, ErrPublished, err)

	addr, err := r.ExecutableAddress(0)
	require.NoError(t, err)
	require.Equal(t, r.Base(), addr.Uintptr())
	require.True(t, r.Contains(addr.Uintptr()))

	_, err = r.ExecutableAddress(1)
	require.Error(t, err)
	_, err = r.DataAddress(0)
	require.Error(t, err)
}

func TestRegion_released(t *testing.T) {
	requireCompilerSupported(t)

	pool := NewPool(platform.PageSize())
	defer pool.Close()
	r, err := pool.Allocate(8)
	require.NoError(t, err)
	require.NoError(t, r.Release())

	_, err = r.Writer()
	require.Equal(t, ErrReleased, err)
	require.Equal(t, ErrReleased, r.Publish())
	_, err = r.Bytes(0, 1)
	require.Equal(t, ErrReleased, err)
	require.False(t, r.Contains(0))
}
