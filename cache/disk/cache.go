// Package disk provides a disk-backed byte cache.
package disk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/imgfetch/cache"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	tempPattern           = "cache-*"
)

// Cache implements cache.Cache using the local filesystem.
//
// Entries are stored under the hex SHA-256 digest of their key, sharded into
// subdirectories by digest prefix. Writes go to a temporary file that is
// renamed into place, so readers never observe partial content and the last
// writer for a key wins. The cache is safe for concurrent use.
type Cache struct {
	dir            string       // root directory for cached files
	shardPrefixLen int          // number of hex chars for subdirectory sharding
	dirPerm        os.FileMode  // permissions for created directories
	maxBytes       int64        // maximum cache size (0 = unlimited)
	compress       bool         // store entries as zstd frames
	bytes          atomic.Int64 // current total size of cached files
	mu             sync.Mutex   // serializes renames, deletes and prunes
}

// Interface compliance.
var (
	_ cache.Cache   = (*Cache)(nil)
	_ cache.Deleter = (*Cache)(nil)
)

// Option configures a disk cache.
type Option func(*Cache)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithMaxBytes sets the maximum cache size in bytes.
// Values < 0 are invalid. Use 0 to disable the limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// WithCompression stores new entries as zstd frames. Existing plain entries
// stay readable.
func WithCompression() Option {
	return func(c *Cache) {
		c.compress = true
	}
}

// New creates a disk-backed cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}
	if c.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}
	c.bytes.Store(size)
	return c, nil
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Get returns the content stored for key.
// Returns nil, false, nil if the key is not cached.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	path, err := c.path(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a digest, not user input
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	// Refresh mtime so pruning removes the least recently read entries first.
	now := time.Now()
	_ = os.Chtimes(path, now, now)

	if isCompressed(data) {
		data, err = decompress(data)
		if err != nil {
			return nil, false, err
		}
	}
	return data, true, nil
}

// Put stores content for key, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, key string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := c.path(key)
	if err != nil {
		return err
	}

	data := content
	if c.compress {
		data = compress(content)
	}
	size := int64(len(data))

	if ok, capErr := c.ensureCapacity(size); capErr != nil {
		return capErr
	} else if !ok {
		// Larger than the whole cache; skip caching.
		return nil
	}

	dir := filepath.Dir(path)
	if mkdirErr := os.MkdirAll(dir, c.dirPerm); mkdirErr != nil {
		return mkdirErr
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var previous int64
	if info, statErr := os.Stat(path); statErr == nil {
		previous = info.Size()
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	c.bytes.Add(size - previous)
	return nil
}

// Delete removes the entry for key.
func (c *Cache) Delete(_ context.Context, key string) error {
	path, err := c.path(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	info, statErr := os.Stat(path)
	if statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return nil
		}
		return statErr
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	c.bytes.Add(-info.Size())
	return nil
}

// MaxBytes returns the configured cache size limit (0 = unlimited).
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the current cache size in bytes.
func (c *Cache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Prune removes the least recently used entries until the cache is at or
// below targetBytes. Returns the number of bytes freed.
func (c *Cache) Prune(targetBytes int64) (int64, error) {
	if targetBytes < 0 {
		targetBytes = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	freed, remaining, err := pruneDir(c.dir, targetBytes)
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	return freed, nil
}

func (c *Cache) path(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("key is empty")
	}
	hexHash := digest.FromString(key).Encoded()
	if c.shardPrefixLen <= 0 {
		return filepath.Join(c.dir, hexHash), nil
	}
	prefixLen := min(c.shardPrefixLen, len(hexHash))
	return filepath.Join(c.dir, hexHash[:prefixLen], hexHash), nil
}

func (c *Cache) ensureCapacity(need int64) (bool, error) {
	if c.maxBytes <= 0 {
		return true, nil
	}
	if need > c.maxBytes {
		return false, nil
	}
	if c.SizeBytes()+need <= c.maxBytes {
		return true, nil
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		return false, err
	}
	return c.SizeBytes()+need <= c.maxBytes, nil
}
