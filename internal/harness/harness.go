package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/roach88/cartsync/internal/backend"
	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/engine"
	"github.com/roach88/cartsync/internal/testutil"
)

// errScriptedTransport is the transport error used by fail steps.
var errScriptedTransport = errors.New("scripted transport failure")

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	catalog *backend.Catalog
	journal engine.Journal
	logger  *slog.Logger
}

// WithCatalog prices the run against c instead of the scenario's catalog.
func WithCatalog(c *backend.Catalog) Option {
	return func(rc *runConfig) {
		rc.catalog = c
	}
}

// WithJournal records the run's submissions and resolutions.
func WithJournal(j engine.Journal) Option {
	return func(rc *runConfig) {
		rc.journal = j
	}
}

// WithLogger sets the run logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(rc *runConfig) {
		rc.logger = l
	}
}

// Harness is the scenario execution state for one run.
type Harness struct {
	store   *engine.Store
	backend *backend.Memory
	clock   *testutil.DeterministicClock
	journal engine.Journal
	logger  *slog.Logger

	handles   map[string]engine.Handle
	kinds     map[string]cart.Kind
	queue     []queued // not yet seen by the backend, seq order
	responses map[string]response
	lost      map[string]bool
	cartID    string // backend-side cart id, "" until created

	result *Result
}

type queued struct {
	name     string
	seq      int64
	mutation cart.Mutation
}

type response struct {
	outcome cart.Outcome
	err     error
}

// Run executes a scenario and returns the result. An error means the run
// could not be carried out (bad catalog, failed setup); expectation and
// invariant failures are reported in the Result instead.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	rc := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&rc)
	}

	catalog := rc.catalog
	if catalog == nil {
		if s.Catalog != "" {
			c, err := backend.LoadCatalog(s.Catalog)
			if err != nil {
				return nil, fmt.Errorf("load catalog: %w", err)
			}
			catalog = c
		} else {
			catalog = backend.DefaultCatalog()
		}
	}

	var names []string
	for _, step := range s.Steps {
		if step.Submit != nil {
			names = append(names, step.Submit.As)
		}
	}

	clock := testutil.NewDeterministicClock()
	h := &Harness{
		store: engine.NewStore(
			engine.WithClock(clock),
			engine.WithIDGenerator(engine.NewFixedGenerator(names...)),
		),
		backend: backend.NewMemory(catalog,
			backend.WithCartIDs(testutil.NewSequentialIDs("cart")),
			backend.WithLineIDs(testutil.NewSequentialIDs("line")),
			backend.WithSequenceHold(0),
		),
		clock:     clock,
		journal:   rc.journal,
		logger:    rc.logger,
		handles:   make(map[string]engine.Handle),
		kinds:     make(map[string]cart.Kind),
		responses: make(map[string]response),
		lost:      make(map[string]bool),
		result:    NewResult(),
	}

	if err := h.executeSetup(ctx, s.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeSteps(ctx, s.Steps); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	if s.Final != nil {
		for _, msg := range h.checkExpect(ctx, "final", s.Final) {
			h.result.AddError(msg)
		}
	}

	if c := h.store.Confirmed(); c != nil {
		hash, err := cart.SnapshotHash(c)
		if err != nil {
			return nil, fmt.Errorf("hash final snapshot: %w", err)
		}
		h.result.SnapshotHash = hash
	}
	return h.result, nil
}

// executeSetup applies setup mutations to the backend and hydrates the
// Store with the result.
func (h *Harness) executeSetup(ctx context.Context, setup []MutationSpec) error {
	var last *cart.Cart
	for i, spec := range setup {
		m, err := spec.Mutation()
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		req, err := cart.NewRequest(h.cartID, 0, m)
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		out, err := h.backend.Apply(ctx, req)
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if !out.OK() {
			return fmt.Errorf("setup[%d]: rejected: %v", i, out.Errors)
		}
		h.cartID = out.Cart.ID
		last = out.Cart
	}
	if last == nil {
		return nil
	}
	if err := h.store.Hydrate(last); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	h.logger.Info("setup applied", "cart_id", h.cartID, "lines", len(last.Lines))
	return nil
}

func (h *Harness) executeSteps(ctx context.Context, steps []Step) error {
	for i, step := range steps {
		label := "steps[" + strconv.Itoa(i) + "]"

		switch {
		case step.Submit != nil:
			if err := h.submit(ctx, i, step.Submit); err != nil {
				return fmt.Errorf("%s: %w", label, err)
			}
		case step.Arrive != "":
			if err := h.arrive(ctx, i, step.Arrive); err != nil {
				return fmt.Errorf("%s: %w", label, err)
			}
		case step.Deliver != "":
			if err := h.deliver(ctx, i, step.Deliver); err != nil {
				return fmt.Errorf("%s: %w", label, err)
			}
		case step.Fail != "":
			if err := h.fail(ctx, i, step.Fail); err != nil {
				return fmt.Errorf("%s: %w", label, err)
			}
		case step.Expect != nil:
			for _, msg := range h.checkExpect(ctx, label, step.Expect) {
				h.result.AddError(msg)
			}
		}

		for _, msg := range checkInvariants(h.store.View()) {
			h.result.AddError(label + ": " + msg)
		}
	}
	return nil
}

func (h *Harness) submit(ctx context.Context, step int, s *SubmitStep) error {
	m, err := s.Mutation()
	if err != nil {
		return err
	}
	handle, err := h.store.Submit(m)
	if err != nil {
		return err
	}
	h.handles[s.As] = handle
	h.kinds[s.As] = m.Kind()
	h.queue = append(h.queue, queued{name: s.As, seq: handle.Seq, mutation: m})

	if h.journal != nil {
		p := engine.PendingMutation{ID: handle.ID, Seq: handle.Seq, Kind: m.Kind(), Mutation: m, Status: engine.StatusSubmitting}
		if err := h.journal.RecordSubmission(ctx, p); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}

	h.logger.Debug("submitted", "as", s.As, "seq", handle.Seq, "action", m.Kind())
	h.trace(step, EventSubmit, s.As, handle.Seq, func(ev *TraceEvent) {
		ev.Action = string(m.Kind())
	})
	return nil
}

// arrive hands one queued request to the backend ahead of its turn.
func (h *Harness) arrive(ctx context.Context, step int, name string) error {
	for i, q := range h.queue {
		if q.name != name {
			continue
		}
		h.queue = append(h.queue[:i], h.queue[i+1:]...)
		if err := h.apply(ctx, q); err != nil {
			return err
		}
		h.trace(step, EventArrive, name, q.seq, func(*TraceEvent) {})
		return nil
	}
	return fmt.Errorf("%q is not waiting for the backend", name)
}

func (h *Harness) deliver(ctx context.Context, step int, name string) error {
	handle := h.handles[name]
	if err := h.process(ctx, handle.Seq); err != nil {
		return err
	}

	resp, ok := h.responses[name]
	if !ok {
		return fmt.Errorf("%q never reached the backend", name)
	}
	outcome := resp.outcome
	if resp.err != nil {
		outcome = cart.TransportFailure(resp.err)
	}
	return h.resolve(ctx, step, EventDeliver, name, outcome)
}

func (h *Harness) fail(ctx context.Context, step int, name string) error {
	if _, seen := h.responses[name]; !seen {
		h.lost[name] = true
	}
	return h.resolve(ctx, step, EventFail, name, cart.TransportFailure(errScriptedTransport))
}

// process runs the backend over queued requests up to and including seq.
// Lost requests are skipped.
func (h *Harness) process(ctx context.Context, seq int64) error {
	for len(h.queue) > 0 && h.queue[0].seq <= seq {
		q := h.queue[0]
		h.queue = h.queue[1:]
		if h.lost[q.name] {
			continue
		}
		if err := h.apply(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// apply sends one request to the backend and keeps its response for
// delivery. The first successful request creates the cart and later ones
// carry its id.
func (h *Harness) apply(ctx context.Context, q queued) error {
	req, err := cart.NewRequest(h.cartID, q.seq, q.mutation)
	if err != nil {
		return err
	}
	out, err := h.backend.Apply(ctx, req)
	if err == nil && out.OK() && h.cartID == "" {
		h.cartID = out.Cart.ID
	}
	h.responses[q.name] = response{outcome: out, err: err}
	h.logger.Debug("backend processed", "as", q.name, "seq", q.seq, "ok", err == nil && out.OK())
	return nil
}

func (h *Harness) resolve(ctx context.Context, step int, typ, name string, outcome cart.Outcome) error {
	handle := h.handles[name]
	res, err := h.store.Resolve(handle, outcome)
	if err != nil {
		if !engine.IsInvalidSnapshot(err) {
			return err
		}
		h.result.AddError(fmt.Sprintf("steps[%d]: %v", step, err))
	}

	if h.journal != nil {
		if err := h.journal.RecordResolution(ctx, res); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}

	h.trace(step, typ, name, handle.Seq, func(ev *TraceEvent) {
		ev.Status = res.Status.String()
		ev.Stale = res.Stale
	})
	return nil
}

func (h *Harness) trace(step int, typ, name string, seq int64, fill func(*TraceEvent)) {
	v := h.store.View()
	ev := TraceEvent{
		Step:          step,
		Type:          typ,
		Mutation:      name,
		Seq:           seq,
		Lines:         renderLines(v),
		TotalQuantity: v.TotalQuantity(),
		Pending:       v.PendingCount,
	}
	fill(&ev)
	h.result.AddTrace(ev)
}

func renderLines(v cart.View) []string {
	out := make([]string, 0, v.LineCount())
	if v.Cart == nil {
		return out
	}
	for _, l := range v.Cart.Lines {
		s := l.MerchandiseID + "=" + strconv.Itoa(l.Quantity)
		if l.IsOptimistic {
			s += "*"
		}
		out = append(out, s)
	}
	return out
}
