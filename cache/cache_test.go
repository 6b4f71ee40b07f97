package cache

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"

	digest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/internal/platform"
	"github.com/wasmforge/universal/internal/testing/fixture"
	"github.com/wasmforge/universal/vm"
	"github.com/wasmforge/universal/wasm"
)

func TestKey(t *testing.T) {
	amd64 := compiler.Target{Architecture: compiler.ArchitectureAmd64}
	tunables := vm.NewBaseTunables(8)
	bin := fixture.CallsWasm()
	base := Key("singlepass", amd64, wasm.Features20191205, tunables, bin)
	require.NoError(t, base.Validate())
	require.Equal(t, digest.SHA256, base.Algorithm())
	require.Equal(t, base, Key("singlepass", amd64, wasm.Features20191205, vm.NewBaseTunables(8), bytes.Clone(bin)))

	tests := []struct {
		name string
		key  digest.Digest
	}{
		{name: "compiler", key: Key("other", amd64, wasm.Features20191205, tunables, bin)},
		{name: "architecture", key: Key("singlepass", compiler.Target{Architecture: compiler.ArchitectureArm64}, wasm.Features20191205, tunables, bin)},
		{name: "cpu features", key: Key("singlepass", compiler.Target{Architecture: compiler.ArchitectureAmd64, CpuFeatures: platform.CpuFeatureAmd64AVX}, wasm.Features20191205, tunables, bin)},
		{name: "features", key: Key("singlepass", amd64, wasm.Features20220419, tunables, bin)},
		{name: "memory style", key: Key("singlepass", amd64, wasm.Features20191205, vm.NewBaseTunables(4), bin)},
		{name: "memory guard", key: Key("singlepass", amd64, wasm.Features20191205, &vm.BaseTunables{
			StaticMemoryBound:            tunables.StaticMemoryBound,
			StaticMemoryOffsetGuardSize:  tunables.StaticMemoryOffsetGuardSize / 2,
			DynamicMemoryOffsetGuardSize: tunables.DynamicMemoryOffsetGuardSize,
		}, bin)},
		{name: "binary", key: Key("singlepass", amd64, wasm.Features20191205, tunables, append(bytes.Clone(bin), 0))},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.NotEqual(t, base, tc.key)
		})
	}

	// Styles only matter for the memories and tables a module has.
	empty := []byte{0, 'a', 's', 'm', 1, 0, 0, 0}
	require.Equal(t,
		Key("singlepass", amd64, wasm.Features20191205, vm.NewBaseTunables(8), empty),
		Key("singlepass", amd64, wasm.Features20191205, vm.NewBaseTunables(4), empty))
}

// caches returns every Cache implementation backed by a fresh temp dir.
func caches(t *testing.T) map[string]Cache {
	fc, err := NewFileCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	bc, err := OpenBoltCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, bc.Close()) })
	return map[string]Cache{"file": fc, "bolt": bc}
}

func readEntry(t *testing.T, c Cache, key digest.Digest) ([]byte, bool) {
	content, ok, err := c.Get(key)
	require.NoError(t, err)
	if !ok {
		return nil, false
	}
	defer func() {
		require.NoError(t, content.Close())
	}()
	b, err := io.ReadAll(content)
	require.NoError(t, err)
	return b, true
}

func TestCache(t *testing.T) {
	key := digest.FromString("module")
	other := digest.FromString("other")
	for n, c := range caches(t) {
		name, c := n, c
		t.Run(name, func(t *testing.T) {
			_, ok := readEntry(t, c, key)
			require.False(t, ok)

			require.NoError(t, c.Add(key, bytes.NewReader([]byte{1, 2, 3})))
			b, ok := readEntry(t, c, key)
			require.True(t, ok)
			require.Equal(t, []byte{1, 2, 3}, b)

			// Adding again replaces the entry.
			require.NoError(t, c.Add(key, bytes.NewReader([]byte{4, 5})))
			b, ok = readEntry(t, c, key)
			require.True(t, ok)
			require.Equal(t, []byte{4, 5}, b)

			_, ok = readEntry(t, c, other)
			require.False(t, ok)

			require.NoError(t, c.Delete(key))
			_, ok = readEntry(t, c, key)
			require.False(t, ok)
			// Deleting a missing entry is fine.
			require.NoError(t, c.Delete(key))

			require.Error(t, c.Add(digest.Digest("sha256:nothex"), bytes.NewReader(nil)))
		})
	}
}

func TestFileCache_path(t *testing.T) {
	fc := &FileCache{dir: "/tmp/.universal"}
	key := digest.FromString("module")
	p, err := fc.path(key)
	require.NoError(t, err)
	require.Equal(t, "/tmp/.universal/sha256-"+key.Encoded(), p)

	_, err = fc.path(digest.Digest("../../etc/passwd"))
	require.Error(t, err)
}

func TestFileCache_Add_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	fc, err := NewFileCache(dir)
	require.NoError(t, err)

	require.NoError(t, fc.Add(digest.FromString("a"), bytes.NewReader([]byte{1})))
	require.Error(t, fc.Add(digest.FromString("b"), iotest.ErrReader(io.ErrUnexpectedEOF)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Equal(t, 1, len(entries))
	require.Equal(t, "sha256-"+digest.FromString("a").Encoded(), entries[0].Name())
}

func TestOpenBoltCache_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	key := digest.FromString("module")

	bc, err := OpenBoltCache(path)
	require.NoError(t, err)
	require.NoError(t, bc.Add(key, bytes.NewReader([]byte("persisted"))))
	require.NoError(t, bc.Close())

	bc, err = OpenBoltCache(path)
	require.NoError(t, err)
	defer bc.Close()
	b, ok := readEntry(t, bc, key)
	require.True(t, ok)
	require.Equal(t, []byte("persisted"), b)
}
