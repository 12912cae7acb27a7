package imgfetch

import (
	"context"
	"sync"
)

// Executor runs consumer callbacks on the consumer's execution context.
//
// Progress and completion callbacks of one request are posted to the same
// executor in order, so an executor that runs tasks in FIFO order delivers
// progress strictly before the result.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

// Execute calls f.
func (f ExecutorFunc) Execute(fn func()) {
	f(fn)
}

// Inline runs callbacks on the goroutine that completes the work.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// Queue is a FIFO mailbox executor. Tasks posted from any goroutine run one
// at a time on the goroutine that calls Run or Drain, which makes it a
// stand-in for a UI thread.
type Queue struct {
	mu    sync.Mutex
	tasks []func()
	ready chan struct{}
}

// Interface compliance.
var _ Executor = (*Queue)(nil)

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Execute enqueues fn. It never blocks.
func (q *Queue) Execute(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Drain runs pending tasks until the queue is empty, including tasks posted
// while draining. It returns the number of tasks run.
func (q *Queue) Drain() int {
	n := 0
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return n
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		fn()
		n++
	}
}

// Run drains the queue as tasks arrive until ctx ends.
func (q *Queue) Run(ctx context.Context) error {
	for {
		q.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.ready:
		}
	}
}

// Wait blocks until at least one task is pending or ctx ends.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		if q.Len() > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.ready:
		}
	}
}
