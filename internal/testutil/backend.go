package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/cartsync/internal/cart"
)

// ManualBackend is a backend whose responses the test releases by hand,
// in any order. Apply blocks until Respond or Fail is called for the
// request's sequence number.
//
// Thread-safety: safe for concurrent use.
type ManualBackend struct {
	mu       sync.Mutex
	requests []cart.Request
	waiting  map[int64]chan manualReply
	arrived  chan struct{}
}

type manualReply struct {
	outcome cart.Outcome
	err     error
}

// NewManualBackend creates a backend with no requests.
func NewManualBackend() *ManualBackend {
	return &ManualBackend{
		waiting: make(map[int64]chan manualReply),
		arrived: make(chan struct{}, 1),
	}
}

// Apply records the request and waits for the test to answer it.
func (b *ManualBackend) Apply(ctx context.Context, req cart.Request) (cart.Outcome, error) {
	ch := make(chan manualReply, 1)

	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.waiting[req.Sequence] = ch
	b.mu.Unlock()

	select {
	case b.arrived <- struct{}{}:
	default:
	}

	select {
	case r := <-ch:
		return r.outcome, r.err
	case <-ctx.Done():
		return cart.Outcome{}, ctx.Err()
	}
}

// Respond answers the request with the given seq.
func (b *ManualBackend) Respond(seq int64, outcome cart.Outcome) error {
	return b.reply(seq, manualReply{outcome: outcome})
}

// Fail answers the request with the given seq with a transport error.
func (b *ManualBackend) Fail(seq int64, err error) error {
	return b.reply(seq, manualReply{err: err})
}

func (b *ManualBackend) reply(seq int64, r manualReply) error {
	b.mu.Lock()
	ch, ok := b.waiting[seq]
	delete(b.waiting, seq)
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("no request waiting for seq %d", seq)
	}
	ch <- r
	return nil
}

// Requests returns the requests received so far, in arrival order.
func (b *ManualBackend) Requests() []cart.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]cart.Request, len(b.requests))
	copy(out, b.requests)
	return out
}

// WaitForRequests blocks until at least n requests have arrived.
func (b *ManualBackend) WaitForRequests(n int, timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		b.mu.Lock()
		got := len(b.requests)
		b.mu.Unlock()
		if got >= n {
			return nil
		}
		select {
		case <-b.arrived:
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			return fmt.Errorf("timed out waiting for %d requests, got %d", n, got)
		}
	}
}
