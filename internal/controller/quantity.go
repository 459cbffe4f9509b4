package controller

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/engine"
)

// DefaultGracePeriod is how long a line stays busy after its last mutation
// resolves. It only smooths near-instant responses.
const DefaultGracePeriod = 200 * time.Millisecond

// LineQuantity builds LinesUpdate and LinesRemove mutations for cart lines
// and tracks which lines are busy.
//
// Thread-safety: safe for concurrent use.
type LineQuantity struct {
	sub   Submitter
	grace time.Duration

	mu     sync.Mutex
	lines  map[string]*lineState
	onBusy func(lineID string, busy bool)
	closed bool
}

type lineState struct {
	pending int
	busy    bool
	timer   *time.Timer
}

// LineQuantityOption configures a LineQuantity.
type LineQuantityOption func(*LineQuantity)

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) LineQuantityOption {
	return func(c *LineQuantity) {
		c.grace = d
	}
}

// NewLineQuantity creates a controller submitting through sub.
func NewLineQuantity(sub Submitter, opts ...LineQuantityOption) *LineQuantity {
	c := &LineQuantity{
		sub:   sub,
		grace: DefaultGracePeriod,
		lines: make(map[string]*lineState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnBusyChange registers a callback for busy transitions. It runs without
// the controller lock held.
func (c *LineQuantity) OnBusyChange(fn func(lineID string, busy bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBusy = fn
}

// CanDecrement reports whether Decrement is allowed.
func (c *LineQuantity) CanDecrement(line cart.Line) bool {
	return line.Quantity > 1 && !engine.IsPlaceholderLineID(line.ID)
}

// CanRemove reports whether Remove is allowed.
func (c *LineQuantity) CanRemove(line cart.Line) bool {
	return !line.IsOptimistic && !engine.IsPlaceholderLineID(line.ID)
}

// Increment submits the line's quantity plus one.
func (c *LineQuantity) Increment(ctx context.Context, line cart.Line) (*engine.Task, error) {
	if engine.IsPlaceholderLineID(line.ID) {
		return nil, ErrPlaceholderLine
	}
	return c.update(ctx, line.ID, line.Quantity+1)
}

// Decrement submits the line's quantity minus one. A line at quantity 1
// cannot be decremented; use Remove.
func (c *LineQuantity) Decrement(ctx context.Context, line cart.Line) (*engine.Task, error) {
	if engine.IsPlaceholderLineID(line.ID) {
		return nil, ErrPlaceholderLine
	}
	if line.Quantity <= 1 {
		return nil, ErrBelowMinimum
	}
	return c.update(ctx, line.ID, line.Quantity-1)
}

// Remove submits a LinesRemove for the line.
func (c *LineQuantity) Remove(ctx context.Context, line cart.Line) (*engine.Task, error) {
	if engine.IsPlaceholderLineID(line.ID) {
		return nil, ErrPlaceholderLine
	}
	if line.IsOptimistic {
		return nil, ErrLineBusy
	}
	task, err := c.sub.Submit(ctx, cart.LinesRemove{LineIDs: []string{line.ID}})
	if err != nil {
		return nil, err
	}
	c.track(line.ID, task)
	return task, nil
}

func (c *LineQuantity) update(ctx context.Context, lineID string, quantity int) (*engine.Task, error) {
	task, err := c.sub.Submit(ctx, cart.LinesUpdate{Lines: []cart.LineQuantity{{ID: lineID, Quantity: quantity}}})
	if err != nil {
		return nil, err
	}
	c.track(lineID, task)
	return task, nil
}

// Busy reports whether the line has a pending mutation from this
// controller or is inside its grace period.
func (c *LineQuantity) Busy(lineID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.lines[lineID]
	return ok && st.busy
}

func (c *LineQuantity) track(lineID string, task *engine.Task) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	st, ok := c.lines[lineID]
	if !ok {
		st = &lineState{}
		c.lines[lineID] = st
	}
	st.pending++
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	changed := !st.busy
	st.busy = true
	fn := c.onBusy
	c.mu.Unlock()

	if changed && fn != nil {
		fn(lineID, true)
	}

	go func() {
		<-task.Done()
		c.settle(lineID)
	}()
}

// settle starts the grace timer once the last pending mutation resolves.
func (c *LineQuantity) settle(lineID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.lines[lineID]
	if c.closed || !ok {
		return
	}
	st.pending--
	if st.pending > 0 {
		return
	}
	st.timer = time.AfterFunc(c.grace, func() { c.clear(lineID, st) })
}

func (c *LineQuantity) clear(lineID string, st *lineState) {
	c.mu.Lock()
	if c.closed || c.lines[lineID] != st || st.pending > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.lines, lineID)
	fn := c.onBusy
	c.mu.Unlock()

	if fn != nil {
		fn(lineID, false)
	}
}

// Close stops all grace timers. Busy callbacks stop firing.
func (c *LineQuantity) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for _, st := range c.lines {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	c.lines = make(map[string]*lineState)
}
