package engine

import (
	"context"
	"sync"

	"github.com/roach88/cartsync/internal/cart"
)

// Task is the handle for one in-flight mutation. It moves from Submitting to
// Succeeded or Failed exactly once, after the Store has processed the
// outcome, so a closed Done channel means View already reflects it.
type Task struct {
	handle Handle
	kind   cart.Kind

	mu      sync.Mutex
	status  Status
	outcome cart.Outcome
	stale   bool

	done chan struct{}
	once sync.Once
}

func newTask(h Handle, kind cart.Kind) *Task {
	return &Task{
		handle: h,
		kind:   kind,
		status: StatusSubmitting,
		done:   make(chan struct{}),
	}
}

// ID returns the mutation id.
func (t *Task) ID() string { return t.handle.ID }

// Seq returns the submission sequence number.
func (t *Task) Seq() int64 { return t.handle.Seq }

// Handle returns the store handle.
func (t *Task) Handle() Handle { return t.handle }

// Kind returns the mutation kind.
func (t *Task) Kind() cart.Kind { return t.kind }

// Done is closed once the task has resolved.
func (t *Task) Done() <-chan struct{} { return t.done }

// Status returns the current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Outcome returns the backend outcome. ok is false while submitting.
func (t *Task) Outcome() (cart.Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome, t.status != StatusSubmitting
}

// Stale reports whether a successful response arrived after a newer one.
func (t *Task) Stale() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stale
}

// Wait blocks until the task resolves or ctx is done. Cancelling ctx stops
// the wait only; the mutation stays in flight.
func (t *Task) Wait(ctx context.Context) (cart.Outcome, error) {
	select {
	case <-t.done:
		o, _ := t.Outcome()
		return o, nil
	case <-ctx.Done():
		return cart.Outcome{}, ctx.Err()
	}
}

// finish records the resolution. Only the first call has effect.
func (t *Task) finish(res Resolution) {
	t.once.Do(func() {
		t.mu.Lock()
		t.status = res.Status
		t.outcome = res.Outcome
		t.stale = res.Stale
		t.mu.Unlock()
		close(t.done)
	})
}
