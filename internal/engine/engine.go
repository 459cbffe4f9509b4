package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/cartsync/internal/cart"
)

// Backend is the authoritative cart service. Apply returns the complete
// updated cart or a rejection; a non-nil error is a transport failure.
type Backend interface {
	Apply(ctx context.Context, req cart.Request) (cart.Outcome, error)
}

// Fetcher loads a cart snapshot by id.
type Fetcher interface {
	Fetch(ctx context.Context, cartID string) (*cart.Cart, error)
}

// Journal records submissions and resolutions for later trace and replay.
type Journal interface {
	RecordSubmission(ctx context.Context, p PendingMutation) error
	RecordResolution(ctx context.Context, r Resolution) error
}

// Engine is the mutation submitter. It sends each submitted mutation to the
// backend on its own goroutine and funnels the responses through a FIFO
// queue into the single-writer Run loop, which resolves them on the Store.
//
// Thread-safety model:
//   - Submit(), Hydrate(), View(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//
// Sends are not serialized except for cart creation: while no cart id is
// known, one send creates the cart and the others wait for its id.
// Ordering correctness is the Store's job, via seq.
type Engine struct {
	store   *Store
	backend Backend
	fetcher Fetcher
	journal Journal
	queue   *resolutionQueue
	gate    *cartGate

	inflight sync.WaitGroup
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithJournal records every submission and resolution.
func WithJournal(j Journal) EngineOption {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithFetcher sets the snapshot source used by Hydrate. When unset and the
// backend implements Fetcher, the backend is used.
func WithFetcher(f Fetcher) EngineOption {
	return func(e *Engine) {
		e.fetcher = f
	}
}

// New creates an Engine over the store and backend.
func New(s *Store, b Backend, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   s,
		backend: b,
		queue:   newResolutionQueue(),
		gate:    newCartGate(s.CartID()),
	}
	if f, ok := b.(Fetcher); ok {
		e.fetcher = f
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's cart state store.
func (e *Engine) Store() *Store {
	return e.store
}

// View returns the store's merged view.
func (e *Engine) View() cart.View {
	return e.store.View()
}

// Submit records the mutation on the Store and sends it to the backend
// without waiting for the response. The view reflects the mutation
// optimistically as soon as Submit returns.
//
// ctx values are carried to the backend call but its cancellation is not:
// in-flight mutations are never cancelled.
func (e *Engine) Submit(ctx context.Context, m cart.Mutation) (*Task, error) {
	h, err := e.store.Submit(m)
	if err != nil {
		return nil, err
	}
	m = derefMutation(m)
	task := newTask(h, m.Kind())

	if e.journal != nil {
		p := PendingMutation{ID: h.ID, Seq: h.Seq, Kind: m.Kind(), Mutation: m, Status: StatusSubmitting}
		if err := e.journal.RecordSubmission(ctx, p); err != nil {
			slog.Error("journal submission failed", "error", err, "id", h.ID, "seq", h.Seq)
		}
	}

	e.inflight.Add(1)
	go e.send(context.WithoutCancel(ctx), task, m)
	return task, nil
}

// send performs one backend round trip and hands the outcome to Run.
func (e *Engine) send(ctx context.Context, task *Task, m cart.Mutation) {
	defer e.inflight.Done()

	cartID, creator, err := e.gate.acquire(ctx)
	var outcome cart.Outcome
	if err != nil {
		outcome = cart.TransportFailure(err)
	} else {
		outcome = e.apply(ctx, cartID, task, m)
	}

	if creator {
		id := ""
		if outcome.OK() {
			id = outcome.Cart.ID
		}
		e.gate.release(id)
	}

	r := resolution{task: task, outcome: outcome}
	if !e.queue.Enqueue(r) {
		// Run has stopped; resolve here so the task still completes.
		e.process(ctx, r)
	}
}

func (e *Engine) apply(ctx context.Context, cartID string, task *Task, m cart.Mutation) cart.Outcome {
	req, err := cart.NewRequest(cartID, task.Seq(), m)
	if err != nil {
		return cart.Failure(cart.FieldError{Message: err.Error(), Code: cart.CodeInvalid})
	}

	slog.Debug("sending mutation",
		"id", task.ID(),
		"seq", task.Seq(),
		"action", req.Action,
		"cart_id", cartID,
	)

	outcome, err := e.backend.Apply(ctx, req)
	if err != nil {
		slog.Warn("mutation transport failed",
			"error", err,
			"id", task.ID(),
			"seq", task.Seq(),
		)
		return cart.TransportFailure(err)
	}
	return outcome
}

// Run starts the single-writer resolution loop.
// Blocks until ctx is cancelled or Stop() is called.
//
// ERROR HANDLING: a resolution that fails (unknown handle, refused
// snapshot, journal write) is logged and processing continues. Failed
// mutations are never retried.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	for {
		if r, ok := e.queue.TryDequeue(); ok {
			e.process(ctx, r)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.drain(ctx)
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed with the queue, so this case
			// fires repeatedly once closed; stop after draining.
			if e.queue.Drained() {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// drain resolves anything enqueued before the queue closed.
func (e *Engine) drain(ctx context.Context) {
	for {
		r, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		e.process(ctx, r)
	}
}

// Stop closes the resolution queue, which makes Run return once drained.
// Responses arriving later are resolved on their send goroutine.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Wait blocks until every send goroutine has handed off its outcome.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// process resolves one response on the Store and completes its task.
func (e *Engine) process(ctx context.Context, r resolution) {
	res, err := e.store.Resolve(r.task.Handle(), r.outcome)
	if err != nil {
		slog.Error("resolution failed",
			"error", err,
			"id", r.task.ID(),
			"seq", r.task.Seq(),
		)
		if IsUnknownHandle(err) {
			res = Resolution{Handle: r.task.Handle(), Kind: r.task.Kind(), Status: StatusFailed, Outcome: r.outcome}
		}
	}

	if e.journal != nil {
		if err := e.journal.RecordResolution(ctx, res); err != nil {
			slog.Error("journal resolution failed", "error", err, "id", r.task.ID(), "seq", r.task.Seq())
		}
	}

	r.task.finish(res)

	slog.Info("mutation resolved",
		"id", r.task.ID(),
		"seq", r.task.Seq(),
		"kind", r.task.Kind(),
		"status", res.Status,
		"stale", res.Stale,
	)
}

// Hydrate fetches the cart from the backend and installs it as the
// confirmed snapshot. Later sends use its id.
func (e *Engine) Hydrate(ctx context.Context, cartID string) error {
	if e.fetcher == nil {
		return &RuntimeError{Code: ErrCodeNoFetcher, Message: "no fetcher configured"}
	}
	c, err := e.fetcher.Fetch(ctx, cartID)
	if err != nil {
		return fmt.Errorf("hydrate cart %s: %w", cartID, err)
	}
	if err := e.store.Hydrate(c); err != nil {
		return err
	}
	e.gate.set(c.ID)
	slog.Info("cart hydrated", "cart_id", c.ID, "lines", len(c.Lines))
	return nil
}

// CartID returns the cart id sends currently use, "" before creation.
func (e *Engine) CartID() string {
	return e.gate.current()
}
