package controller

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/engine"
)

// DefaultAddedHold is how long Added stays true after a successful add.
const DefaultAddedHold = 2 * time.Second

// AddToCart submits LinesAdd mutations and tracks the button state.
type AddToCart struct {
	sub      Submitter
	hold     time.Duration
	afterAdd func()

	mu      sync.Mutex
	loading int
	added   bool
	timer   *time.Timer
	closed  bool
}

// AddToCartOption configures an AddToCart.
type AddToCartOption func(*AddToCart)

// WithAddedHold overrides DefaultAddedHold.
func WithAddedHold(d time.Duration) AddToCartOption {
	return func(a *AddToCart) {
		a.hold = d
	}
}

// WithAfterAdd runs fn after each successful add, e.g. to open the cart panel.
func WithAfterAdd(fn func()) AddToCartOption {
	return func(a *AddToCart) {
		a.afterAdd = fn
	}
}

// NewAddToCart creates an add-to-cart controller.
func NewAddToCart(sub Submitter, opts ...AddToCartOption) *AddToCart {
	a := &AddToCart{sub: sub, hold: DefaultAddedHold}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add submits the lines. Loading is true until the task resolves.
func (a *AddToCart) Add(ctx context.Context, lines ...cart.MerchandiseLine) (*engine.Task, error) {
	task, err := a.sub.Submit(ctx, cart.LinesAdd{Lines: lines})
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.loading++
	a.mu.Unlock()

	go func() {
		<-task.Done()
		a.finish(task)
	}()
	return task, nil
}

func (a *AddToCart) finish(task *engine.Task) {
	a.mu.Lock()
	a.loading--
	ok := task.Status() == engine.StatusSucceeded
	if !ok || a.closed {
		a.mu.Unlock()
		return
	}
	a.added = true
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.hold, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.added = false
	})
	fn := a.afterAdd
	a.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Loading reports whether an add is in flight.
func (a *AddToCart) Loading() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loading > 0
}

// Added reports whether an add succeeded within the hold period.
func (a *AddToCart) Added() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.added
}

// Close stops the hold timer.
func (a *AddToCart) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.added = false
	if a.timer != nil {
		a.timer.Stop()
	}
}
