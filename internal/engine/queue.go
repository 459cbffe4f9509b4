package engine

import (
	"sync"

	"github.com/roach88/cartsync/internal/cart"
)

// resolution is a backend response waiting for the Run loop.
type resolution struct {
	task    *Task
	outcome cart.Outcome
}

// resolutionQueue is a thread-safe FIFO of backend responses.
//
// Send goroutines enqueue; the Engine's Run loop dequeues. The queue is
// unbounded so a slow Run loop never blocks a response goroutine.
//
// A buffered signal channel lets the Run loop wait with select and still
// observe context cancellation.
type resolutionQueue struct {
	mu     sync.Mutex
	items  []resolution
	closed bool
	signal chan struct{} // buffered, size 1
}

func newResolutionQueue() *resolutionQueue {
	return &resolutionQueue{
		items:  make([]resolution, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends r. Returns false if the queue is closed.
func (q *resolutionQueue) Enqueue(r resolution) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, r)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front item without blocking.
func (q *resolutionQueue) TryDequeue() (resolution, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return resolution{}, false
	}
	r := q.items[0]

	// Clear the slot so the backing array does not retain the task.
	q.items[0] = resolution{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return r, true
}

// Wait returns a channel that fires when items may be available.
// It is closed once the queue is closed.
func (q *resolutionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued items.
func (q *resolutionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drained reports whether the queue is closed and empty.
func (q *resolutionQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

// Close stops further enqueues and wakes waiters.
func (q *resolutionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
