// Package memory provides an in-process byte cache.
package memory

import (
	"context"
	"errors"
	"math"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"

	"github.com/meigma/imgfetch/cache"
)

// Cache is an in-memory cache.Cache backed by otter, bounded by the total
// size of the stored content.
type Cache struct {
	cache   *otter.Cache[string, []byte]
	counter *stats.Counter
}

// Interface compliance.
var (
	_ cache.Cache   = (*Cache)(nil)
	_ cache.Deleter = (*Cache)(nil)
)

// New creates an in-memory cache holding at most maxBytes of content.
func New(maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		return nil, errors.New("max bytes must be > 0")
	}
	counter := stats.NewCounter()
	c, err := otter.New(&otter.Options[string, []byte]{
		MaximumWeight: uint64(maxBytes),
		Weigher:       weigh,
		StatsRecorder: counter,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{cache: c, counter: counter}, nil
}

func weigh(key string, content []byte) uint32 {
	w := len(key) + len(content)
	if w > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(w) //nolint:gosec // bounded above
}

// Get retrieves content for key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	content, ok := c.cache.GetIfPresent(key)
	if !ok {
		return nil, false, nil
	}
	return content, true, nil
}

// Put stores content for key, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, key string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.cache.Set(key, content)
	return nil
}

// Delete removes the entry for key.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.cache.Invalidate(key)
	return nil
}

// Stats returns a snapshot of hit and miss counters.
func (c *Cache) Stats() stats.Stats {
	return c.counter.Snapshot()
}
