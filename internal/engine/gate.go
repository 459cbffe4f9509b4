package engine

import (
	"context"
	"sync"
)

// cartGate serializes cart creation. Until a cart id is known, exactly one
// send goes out without an id (the creator); the rest wait. When the
// creator fails, the first waiter to wake takes over the role.
type cartGate struct {
	mu       sync.Mutex
	cartID   string
	creating bool
	changed  chan struct{}
}

func newCartGate(cartID string) *cartGate {
	return &cartGate{cartID: cartID, changed: make(chan struct{})}
}

// acquire blocks until the caller may send. It returns the cart id to send
// with, or creator=true and an empty id when the caller must create the cart.
func (g *cartGate) acquire(ctx context.Context) (cartID string, creator bool, err error) {
	for {
		g.mu.Lock()
		if g.cartID != "" {
			id := g.cartID
			g.mu.Unlock()
			return id, false, nil
		}
		if !g.creating {
			g.creating = true
			g.mu.Unlock()
			return "", true, nil
		}
		ch := g.changed
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-ch:
		}
	}
}

// release ends a creator's turn. An empty cartID means creation failed.
func (g *cartGate) release(cartID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.creating = false
	if cartID != "" {
		g.cartID = cartID
	}
	close(g.changed)
	g.changed = make(chan struct{})
}

// set records a cart id learned elsewhere, e.g. from hydration.
func (g *cartGate) set(cartID string) {
	if cartID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cartID = cartID
	close(g.changed)
	g.changed = make(chan struct{})
}

func (g *cartGate) current() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cartID
}
