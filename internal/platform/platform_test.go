package platform

import (
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

var testCode, _ = io.ReadAll(io.LimitReader(rand.Reader, 8*1024))

func requireCompilerSupported(t *testing.T) {
	if !CompilerSupported() {
		t.Skip()
	}
}

func TestMmapCodeSegment(t *testing.T) {
	requireCompilerSupported(t)

	seg, err := MmapCodeSegment(len(testCode))
	require.NoError(t, err)
	require.Equal(t, len(testCode), len(seg))
	copy(seg, testCode)
	require.Equal(t, testCode, seg)
	require.NoError(t, MunmapCodeSegment(seg))

	t.Run("panic on zero length", func(t *testing.T) {
		require.PanicsWithError(t, "BUG: MmapCodeSegment with zero length", func() {
			_, _ = MmapCodeSegment(0)
		})
	})
}

func TestMunmapCodeSegment(t *testing.T) {
	requireCompilerSupported(t)

	t.Run("panic on zero length", func(t *testing.T) {
		require.PanicsWithError(t, "BUG: MunmapCodeSegment with zero length", func() {
			_ = MunmapCodeSegment(nil)
		})
	})
}

func TestMprotect(t *testing.T) {
	requireCompilerSupported(t)

	seg, err := MmapCodeSegment(PageSize() * 2)
	require.NoError(t, err)
	defer func() { require.NoError(t, MunmapCodeSegment(seg)) }()

	copy(seg, testCode[:16])
	require.NoError(t, MprotectRX(seg[:PageSize()]))
	require.NoError(t, MprotectR(seg[PageSize():]))
	// Still readable.
	require.Equal(t, testCode[:16], seg[:16])

	require.NoError(t, MprotectRW(seg))
	seg[0] = 0xcc
	require.Equal(t, byte(0xcc), seg[0])

	// Empty slices are a no-op.
	require.NoError(t, MprotectRX(nil))
	require.NoError(t, MprotectR(nil))
}

func TestPageSize(t *testing.T) {
	size := PageSize()
	require.True(t, size > 0)
	require.Zero(t, size&(size-1), "page size must be a power of two")
}

func TestCpuFeature(t *testing.T) {
	f := CpuFeatureAmd64SSE3 | CpuFeatureAmd64SSE41
	require.True(t, f.Has(CpuFeatureAmd64SSE3))
	require.False(t, f.Has(CpuFeatureAmd64AVX))
	require.Equal(t, CpuFeatureAmd64AVX, f.Missing(CpuFeatureAmd64AVX|CpuFeatureAmd64SSE3))
	require.Equal(t, "sse3|sse4.1", f.String())
	require.Equal(t, "none", CpuFeature(0).String())

	parsed, ok := ParseCpuFeature("avx2")
	require.True(t, ok)
	require.Equal(t, CpuFeatureAmd64AVX2, parsed)
	_, ok = ParseCpuFeature("nope")
	require.False(t, ok)
}
