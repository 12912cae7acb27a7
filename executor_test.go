package imgfetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineRunsImmediately(t *testing.T) {
	t.Parallel()

	ran := false
	Inline.Execute(func() { ran = true })
	assert.True(t, ran)
}

func TestQueueRunsInOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	var order []int
	for i := range 5 {
		q.Execute(func() { order = append(order, i) })
	}
	assert.Equal(t, 5, q.Len())
	assert.Empty(t, order, "Execute should not run tasks")

	assert.Equal(t, 5, q.Drain())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Drain())
}

func TestQueueDrainRunsNestedTasks(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	var order []string
	q.Execute(func() {
		order = append(order, "outer")
		q.Execute(func() { order = append(order, "inner") })
	})

	assert.Equal(t, 2, q.Drain())
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestQueueRun(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- q.Run(ctx) }()

	done := make(chan struct{})
	go q.Execute(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task posted from another goroutine did not run")
	}

	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestQueueWait(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)

	q.Execute(func() {})
	require.NoError(t, q.Wait(context.Background()))
}
