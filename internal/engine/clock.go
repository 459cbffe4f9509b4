package engine

import "sync/atomic"

// Sequencer issues strictly increasing sequence numbers starting at 1.
// Clock is the production implementation.
type Sequencer interface {
	Next() int64
	Current() int64

	// Advance moves the clock forward so the next seq is greater than n.
	// It never moves the clock back.
	Advance(n int64)
}

// Clock hands out submission sequence numbers.
//
// Every mutation is stamped with a strictly increasing seq from this clock
// when it is submitted. Seq is the only ordering the Store uses when it
// replays pending mutations, so network arrival order never matters.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0. The first seq is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock positioned at start.
// Used by journal replay to resume numbering after the recorded session.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Advance raises the clock to at least n.
func (c *Clock) Advance(n int64) {
	for {
		cur := c.seq.Load()
		if cur >= n || c.seq.CompareAndSwap(cur, n) {
			return
		}
	}
}
