package cache

import (
	"io"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// FileCache is a Cache keeping one file per entry in a directory.
type FileCache struct {
	dir string
}

// NewFileCache returns a FileCache in dir, creating it if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create cache directory")
	}
	return &FileCache{dir: dir}, nil
}

func (f *FileCache) path(key digest.Digest) (string, error) {
	if err := key.Validate(); err != nil {
		return "", errors.Wrapf(err, "cache key %q", key)
	}
	return filepath.Join(f.dir, key.Algorithm().String()+"-"+key.Encoded()), nil
}

// Get implements Cache.Get.
func (f *FileCache) Get(key digest.Digest) (io.ReadCloser, bool, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, false, err
	}
	content, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return content, true, nil
}

// Add implements Cache.Add. The entry appears atomically: readers see either the previous
// content or the new one.
func (f *FileCache) Add(key digest.Digest, content io.Reader) (err error) {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create cache entry")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, content); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write cache entry")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "write cache entry")
	}
	return errors.Wrap(os.Rename(tmp.Name(), p), "commit cache entry")
}

// Delete implements Cache.Delete.
func (f *FileCache) Delete(key digest.Digest) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
