package testutil

import "sync"

// DeterministicClock is a resettable sequence source for tests.
//
// It satisfies engine.Sequencer, so a Store built with it numbers mutations
// 1, 2, 3... and starts over after Reset. Scenario runs that reuse one clock
// therefore produce identical seq values.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock whose first Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last issued sequence number.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Advance raises the clock to at least n.
func (c *DeterministicClock) Advance(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.seq {
		c.seq = n
	}
}

// Reset rewinds the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
