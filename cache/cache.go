// Package cache defines the byte cache used by the image fetcher.
//
// A cache maps an image key to the raw encoded bytes of the image. Content
// for a key is assumed immutable, so concurrent writers for the same key are
// tolerated and the last write wins.
//
// Implementations live in subpackages: [github.com/meigma/imgfetch/cache/disk]
// persists entries on the local filesystem and
// [github.com/meigma/imgfetch/cache/memory] keeps them in process memory.
package cache

import "context"

// Cache stores raw image bytes by key.
//
// Implementations must be safe for concurrent use and must always return;
// a lookup that cannot be served reports a miss or an error, never blocks
// past ctx.
type Cache interface {
	// Get retrieves content for key.
	// Returns nil, false, nil if the key is not cached.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores content for key, replacing any previous entry.
	Put(ctx context.Context, key string, content []byte) error
}

// Deleter is implemented by caches that can remove a single entry.
//
// The fetcher uses it to drop entries whose bytes no longer decode.
type Deleter interface {
	// Delete removes the entry for key. Missing entries are a no-op.
	Delete(ctx context.Context, key string) error
}
