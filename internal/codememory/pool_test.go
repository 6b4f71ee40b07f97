package codememory

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/wasmforge/universal/internal/platform"
)

func requireCompilerSupported(t *testing.T) {
	if !platform.CompilerSupported() {
		t.Skip()
	}
}

func TestRoundUp(t *testing.T) {
	for _, tc := range []struct {
		size, multiple, exp int
	}{
		{size: 0, multiple: 16, exp: 0},
		{size: 1, multiple: 16, exp: 16},
		{size: 16, multiple: 16, exp: 16},
		{size: 17, multiple: 16, exp: 32},
		{size: 4095, multiple: 4096, exp: 4096},
		{size: 4097, multiple: 4096, exp: 8192},
	} {
		require.Equal(t, tc.exp, RoundUp(tc.size, tc.multiple))
	}
}

func TestPool_Allocate(t *testing.T) {
	requireCompilerSupported(t)

	pool := NewPool(platform.PageSize() * 4)
	defer pool.Close()

	r, err := pool.Allocate(100)
	require.NoError(t, err)
	require.Equal(t, 100, r.Size())
	require.Equal(t, platform.PageSize()*3, pool.Available())

	require.NoError(t, r.Release())
	require.Equal(t, platform.PageSize()*4, pool.Available())

	// Released twice is a no-op.
	require.NoError(t, r.Release())
	require.Equal(t, platform.PageSize()*4, pool.Available())
}

func TestPool_Allocate_exhausted(t *testing.T) {
	requireCompilerSupported(t)

	budget := platform.PageSize() * 2
	pool := NewPool(budget)
	defer pool.Close()

	_, err := pool.Allocate(budget + 1)
	var re *ResourceError
	require.True(t, errors.As(err, &re))
	require.Equal(t, budget+1, re.Requested)
	require.Equal(t, budget+platform.PageSize(), re.Charged)
	require.Equal(t, budget, re.Available)
	require.Equal(t, budget, pool.Available())

	held, err := pool.Allocate(platform.PageSize())
	require.NoError(t, err)
	defer held.Release()

	_, err = pool.Allocate(platform.PageSize() + 1)
	require.True(t, errors.As(err, &re))
	require.Equal(t, platform.PageSize(), re.Available)
	require.Equal(t, platform.PageSize(), pool.Available())
}

func TestPool_Allocate_charged(t *testing.T) {
	page := platform.PageSize()
	tests := []struct {
		name            string
		budget, size    int
		expectedCharged int
		expectedErr     string
	}{
		{
			name:            "budget between pages",
			budget:          page + 100,
			size:            page + 1,
			expectedCharged: 2 * page,
			expectedErr:     fmt.Sprintf("requested %d bytes charged as %d, %d available", page+1, 2*page, page+100),
		},
		{
			name:            "one byte over",
			budget:          page,
			size:            page + 1,
			expectedCharged: 2 * page,
			expectedErr:     fmt.Sprintf("requested %d bytes charged as %d, %d available", page+1, 2*page, page),
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			pool := NewPool(tc.budget)
			defer pool.Close()

			_, err := pool.Allocate(tc.size)
			var re *ResourceError
			require.True(t, errors.As(err, &re), err)
			require.Equal(t, tc.size, re.Requested)
			require.Equal(t, tc.expectedCharged, re.Charged)
			require.Greater(t, re.Charged, re.Available)
			require.Contains(t, err.Error(), tc.expectedErr)
			require.Equal(t, tc.budget, pool.Available())
		})
	}
}

func TestPool_Allocate_empty(t *testing.T) {
	pool := NewPool(0)
	r, err := pool.Allocate(0)
	require.NoError(t, err)

	w, err := r.Writer()
	require.NoError(t, err)
	_, err = w.WriteExecutable(16, []byte{1})
	require.True(t, errors.Is(err, ErrOutOfBounds))

	require.NoError(t, r.Publish())
	require.Zero(t, r.Base())
	require.NoError(t, r.Release())
}

func TestPool_recycle(t *testing.T) {
	requireCompilerSupported(t)

	reg := prometheus.NewRegistry()
	pool := NewPool(platform.PageSize()*2, WithMetricsRegisterer(reg))
	defer pool.Close()

	r, err := pool.Allocate(10)
	require.NoError(t, err)
	w, err := r.Writer()
	require.NoError(t, err)
	_, err = w.WriteExecutable(16, []byte{0xc3})
	require.NoError(t, err)
	require.NoError(t, r.Publish())
	require.NoError(t, r.Release())

	r2, err := pool.Allocate(10)
	require.NoError(t, err)
	defer r2.Release()
	w2, err := r2.Writer()
	require.NoError(t, err)
	// The recycled mapping is writable and zeroed.
	patch, err := w2.Patch(0, 10)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 10), patch)

	require.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.recycled))
	require.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.regions))
	require.Equal(t, float64(platform.PageSize()), testutil.ToFloat64(pool.metrics.inUse))
}

func TestPool_metricsShared(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPool(0, WithMetricsRegisterer(reg))
	b := NewPool(0, WithMetricsRegisterer(reg))
	require.Same(t, a.metrics.rejected, b.metrics.rejected)

	_, err := a.Allocate(1)
	require.Error(t, err)
	_, err = b.Allocate(1)
	require.Error(t, err)
	require.Equal(t, 2.0, testutil.ToFloat64(a.metrics.rejected))
}
