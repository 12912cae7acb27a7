package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPutGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c, err := New(1 << 20)
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "bucket/a.png", []byte("hello")))

	got, ok, err := c.Get(ctx, "bucket/a.png")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), got)

	_, ok, err = c.Get(ctx, "bucket/b.png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryOverwrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c, err := New(1 << 20)
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "k", []byte("first")))
	require.NoError(t, c.Put(ctx, "k", []byte("second")))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", string(got))
}

func TestMemoryDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c, err := New(1 << 20)
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "k", []byte("v")))
	require.NoError(t, c.Delete(ctx, "k"))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing key is a no-op.
	assert.NoError(t, c.Delete(ctx, "k"))
}

func TestMemoryCanceledContext(t *testing.T) {
	t.Parallel()

	c, err := New(1 << 20)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.Put(ctx, "k", []byte("v")), context.Canceled)
}

func TestMemoryStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c, err := New(1 << 20)
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "k", []byte("v")))
	_, _, _ = c.Get(ctx, "k")
	_, _, _ = c.Get(ctx, "missing")

	s := c.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
}

func TestNewInvalidSize(t *testing.T) {
	t.Parallel()

	_, err := New(0)
	assert.Error(t, err)
	_, err = New(-1)
	assert.Error(t, err)
}
