package cache

import (
	"bytes"
	"context"
	"io"

	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wasmforge/universal"
	"github.com/wasmforge/universal/executable"
	"github.com/wasmforge/universal/vm"
)

// Loader loads modules through a Cache, compiling only on a miss.
type Loader struct {
	engine   *universal.Engine
	cache    Cache
	tunables vm.Tunables
	logger   *zap.Logger

	group singleflight.Group
}

// NewLoader returns a Loader compiling with engine. A nil tunables means the engine default,
// and a nil logger logs nothing.
func NewLoader(engine *universal.Engine, cache Cache, tunables vm.Tunables, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{engine: engine, cache: cache, tunables: tunables, logger: logger}
}

// Key returns the cache key of bin for the loader engine and tunables.
func (l *Loader) Key(bin []byte) digest.Digest {
	tunables := l.tunables
	if tunables == nil {
		tunables = l.engine.Tunables()
	}
	return Key(l.engine.CompilerName(), l.engine.Target(), l.engine.Features(), tunables, bin)
}

// Load returns bin loaded by the engine. Concurrent loads of the same module share one cache
// lookup and compilation, but each caller gets its own Artifact.
func (l *Loader) Load(ctx context.Context, bin []byte) (*universal.Artifact, error) {
	key := l.Key(bin)
	ch := l.group.DoChan(key.String(), func() (interface{}, error) {
		return l.serialized(key, bin)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return l.engine.LoadSerialized(res.Val.([]byte))
	}
}

// serialized returns the serialized executable of bin from the cache, or compiles and caches it.
func (l *Loader) serialized(key digest.Digest, bin []byte) ([]byte, error) {
	logger := l.logger.With(zap.Stringer("key", key))
	b, ok, err := l.get(key)
	switch {
	case err != nil:
		logger.Warn("cache lookup failed", zap.Error(err))
	case ok:
		if _, err = executable.NewView(b); err == nil {
			logger.Debug("cache hit")
			return b, nil
		}
		logger.Warn("deleting corrupt cache entry", zap.Error(err))
		if err = l.cache.Delete(key); err != nil {
			logger.Warn("cache delete failed", zap.Error(err))
		}
	}

	exe, err := l.engine.Compile(bin, l.tunables)
	if err != nil {
		return nil, err
	}
	b = exe.Bytes()
	if err = l.cache.Add(key, bytes.NewReader(b)); err != nil {
		logger.Warn("cache add failed", zap.Error(err))
	} else {
		logger.Debug("cache entry added", zap.Int("size", len(b)))
	}
	return b, nil
}

func (l *Loader) get(key digest.Digest) ([]byte, bool, error) {
	content, ok, err := l.cache.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	defer content.Close()
	b, err := io.ReadAll(content)
	if err != nil {
		return nil, false, errors.Wrap(err, "read cache entry")
	}
	return b, true, nil
}
