package cache

import (
	"bytes"
	"io"
	"time"

	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var executablesBucket = []byte("executables")

// BoltCache is a Cache stored in a single bbolt database file.
type BoltCache struct {
	db *bolt.DB
}

// OpenBoltCache opens or creates the database at path. It waits at most a second for another
// process holding the file lock.
func OpenBoltCache(path string) (*BoltCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open cache database %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(executablesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create cache bucket")
	}
	return &BoltCache{db: db}, nil
}

// Get implements Cache.Get. The content is copied out of the database.
func (c *BoltCache) Get(key digest.Digest) (io.ReadCloser, bool, error) {
	var content []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(executablesBucket).Get([]byte(key)); v != nil {
			content = bytes.Clone(v)
		}
		return nil
	})
	if err != nil || content == nil {
		return nil, false, err
	}
	return io.NopCloser(bytes.NewReader(content)), true, nil
}

// Add implements Cache.Add.
func (c *BoltCache) Add(key digest.Digest, content io.Reader) error {
	if err := key.Validate(); err != nil {
		return errors.Wrapf(err, "cache key %q", key)
	}
	b, err := io.ReadAll(content)
	if err != nil {
		return errors.Wrap(err, "read cache entry")
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(executablesBucket).Put([]byte(key), b)
	})
}

// Delete implements Cache.Delete.
func (c *BoltCache) Delete(key digest.Digest) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(executablesBucket).Delete([]byte(key))
	})
}

// Close closes the database.
func (c *BoltCache) Close() error {
	return c.db.Close()
}
