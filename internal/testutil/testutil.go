// Package testutil provides in-memory collaborators for fetcher tests.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"maps"
	"sync"
	"testing"

	"github.com/meigma/imgfetch/source"
)

// ErrInjected is returned by mocks configured to fail.
var ErrInjected = errors.New("testutil: injected failure")

// PNG encodes a w x h image filled with c.
func PNG(tb testing.TB, w, h int, c color.Color) []byte {
	tb.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// MockCache implements a concurrency-safe in-memory byte cache that counts
// calls and can be told to fail.
type MockCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	gets    int
	puts    int
	deletes int

	// GetErr and PutErr, when set, are returned by Get and Put.
	GetErr error
	PutErr error
}

// NewMockCache constructs an empty cache.
func NewMockCache() *MockCache {
	return &MockCache{data: make(map[string][]byte)}
}

// Get retrieves content for key.
func (c *MockCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if c.GetErr != nil {
		return nil, false, c.GetErr
	}
	data, ok := c.data[key]
	return data, ok, nil
}

// Put stores content for key.
func (c *MockCache) Put(_ context.Context, key string, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if c.PutErr != nil {
		return c.PutErr
	}
	c.data[key] = bytes.Clone(content)
	return nil
}

// Delete removes key.
func (c *MockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.data, key)
	return nil
}

// Seed stores content without counting a Put.
func (c *MockCache) Seed(key string, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = content
}

// Entry returns the stored content for key.
func (c *MockCache) Entry(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.data[key]
	return data, ok
}

// Gets returns the number of Get calls.
func (c *MockCache) Gets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

// Puts returns the number of Put calls.
func (c *MockCache) Puts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}

// Deletes returns the number of Delete calls.
func (c *MockCache) Deletes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deletes
}

// MockSource serves bytes by key and records every fetch.
//
// A key can be gated: its fetch blocks until Release is called or the
// context ends, which lets tests order completions.
type MockSource struct {
	mu     sync.Mutex
	data   map[source.Key][]byte
	errs   map[source.Key]error
	gates  map[source.Key]chan struct{}
	calls  map[source.Key]int
	steps  int
	starts chan source.Key

	ignoreCancel bool
}

// NewMockSource constructs a source with no content.
func NewMockSource() *MockSource {
	return &MockSource{
		data:   make(map[source.Key][]byte),
		errs:   make(map[source.Key]error),
		gates:  make(map[source.Key]chan struct{}),
		calls:  make(map[source.Key]int),
		starts: make(chan source.Key, 64),
	}
}

// Set serves data for d.
func (s *MockSource) Set(d source.Descriptor, data []byte) *MockSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[source.DeriveKey(d)] = data
	return s
}

// Fail makes fetches of d return err.
func (s *MockSource) Fail(d source.Descriptor, err error) *MockSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[source.DeriveKey(d)] = err
	return s
}

// Gate makes fetches of d block until Release(d).
func (s *MockSource) Gate(d source.Descriptor) *MockSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates[source.DeriveKey(d)] = make(chan struct{})
	return s
}

// Release unblocks gated fetches of d.
func (s *MockSource) Release(d source.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := source.DeriveKey(d)
	if gate, ok := s.gates[key]; ok {
		close(gate)
		delete(s.gates, key)
	}
}

// WithProgress reports n evenly spaced progress steps per fetch.
func (s *MockSource) WithProgress(n int) *MockSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = n
	return s
}

// IgnoreCancel makes gated fetches wait for Release even after their
// context ends, like a transport that cannot be interrupted.
func (s *MockSource) IgnoreCancel() *MockSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreCancel = true
	return s
}

// Started delivers the key of every fetch as it begins.
func (s *MockSource) Started() <-chan source.Key {
	return s.starts
}

// Fetch implements source.ByteSource.
func (s *MockSource) Fetch(ctx context.Context, d source.Descriptor, progress source.ProgressFunc) ([]byte, error) {
	key := source.DeriveKey(d)

	s.mu.Lock()
	s.calls[key]++
	gate := s.gates[key]
	data, ok := s.data[key]
	err := s.errs[key]
	steps := s.steps
	ignoreCancel := s.ignoreCancel
	s.mu.Unlock()

	select {
	case s.starts <- key:
	default:
	}

	if gate != nil {
		done := ctx.Done()
		if ignoreCancel {
			done = nil
		}
		select {
		case <-gate:
		case <-done:
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, source.ErrUnavailable
	}

	total := uint64(len(data))
	for i := 1; i <= steps; i++ {
		progress.Report(total*uint64(i)/uint64(steps), total)
	}
	return data, nil
}

// Calls returns the number of fetches of d.
func (s *MockSource) Calls(d source.Descriptor) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[source.DeriveKey(d)]
}

// TotalCalls returns the number of fetches across all keys.
func (s *MockSource) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for v := range maps.Values(s.calls) {
		n += v
	}
	return n
}
