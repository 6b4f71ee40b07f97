// Package cache stores serialized executables keyed by the engine configuration and the module
// binary, and loads modules through it.
package cache

import (
	"encoding/binary"
	"io"

	digest "github.com/opencontainers/go-digest"

	"github.com/wasmforge/universal/compiler"
	"github.com/wasmforge/universal/executable"
	"github.com/wasmforge/universal/vm"
	"github.com/wasmforge/universal/wasm"
	wasmbinary "github.com/wasmforge/universal/wasm/binary"
)

// Cache stores serialized executables. Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the content added under key. A missing entry returns ok=false and no error.
	// The caller closes content.
	Get(key digest.Digest) (content io.ReadCloser, ok bool, err error)
	// Add stores content under key, replacing any previous entry.
	Add(key digest.Digest, content io.Reader) error
	// Delete removes the entry of key. Deleting a missing entry is not an error.
	Delete(key digest.Digest) error
}

// Key returns the cache key of compiling bin with the named compiler for target with
// features, with memory and table styles chosen by tunables. It changes with the serialized
// executable format.
func Key(compilerName string, target compiler.Target, features wasm.Features, tunables vm.Tunables, bin []byte) digest.Digest {
	d := digest.Canonical.Digester()
	h := d.Hash()
	var b [8]byte
	binary.LittleEndian.PutUint32(b[:], executable.Version)
	h.Write(b[:4])
	h.Write([]byte(compilerName))
	h.Write([]byte{0, byte(target.Architecture)})
	binary.LittleEndian.PutUint64(b[:], uint64(target.CpuFeatures))
	h.Write(b[:])
	binary.LittleEndian.PutUint64(b[:], uint64(features))
	h.Write(b[:])
	writeStyles(h, tunables, features, bin)
	h.Write(bin)
	return d.Digest()
}

// writeStyles hashes the style tunables chooses for every memory and table of bin. A binary
// that doesn't decode hashes no styles, since it never compiles into a cache entry.
func writeStyles(w io.Writer, tunables vm.Tunables, features wasm.Features, bin []byte) {
	m, err := wasmbinary.DecodeModule(bin, features)
	if err != nil {
		return
	}
	info, _, err := wasm.NewModuleInfo(m)
	if err != nil {
		return
	}
	var b [13]byte
	for i := range info.Memories {
		s := tunables.MemoryStyle(&info.Memories[i])
		b[0] = byte(s.Kind)
		binary.LittleEndian.PutUint32(b[1:], s.Bound)
		binary.LittleEndian.PutUint64(b[5:], s.OffsetGuardSize)
		_, _ = w.Write(b[:])
	}
	for i := range info.Tables {
		_, _ = w.Write([]byte{byte(tunables.TableStyle(&info.Tables[i]))})
	}
}
