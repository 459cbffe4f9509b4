package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/cartsync/internal/cart"
)

// Store holds the confirmed cart snapshot and the pending mutations, and
// computes the merged view on demand.
//
// Thread-safety: every method takes the store mutex, so Submit, View and
// Resolve are atomic with respect to each other and no reader sees a
// partially merged cart. Subscribers are called after the mutex is released.
//
// INVARIANTS:
//   - pending is in ascending seq order (seq is assigned under the mutex)
//   - confirmed is only replaced by Resolve or Hydrate, i.e. by backend data
//   - the merged view replays only pending mutations with seq > confirmedSeq
//
// The guard relies on a backend that applies each cart's requests in seq
// order and rejects one that arrives after a higher seq was processed (see
// backend.Memory). Under that contract a pending mutation at or below
// confirmedSeq is either in the confirmed snapshot already or will fail.
type Store struct {
	mu           sync.Mutex
	clock        Sequencer
	ids          IDGenerator
	confirmed    *cart.Cart
	confirmedSeq int64
	pending      []*PendingMutation

	subs    map[int]func(cart.View)
	nextSub int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the sequence source. Default: NewClock().
func WithClock(c Sequencer) StoreOption {
	return func(s *Store) {
		s.clock = c
	}
}

// WithIDGenerator sets the mutation id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) StoreOption {
	return func(s *Store) {
		s.ids = g
	}
}

// WithSnapshot starts the store from a known confirmed snapshot. Its
// Sequence stamp is the starting confirmedSeq, as with Hydrate.
func WithSnapshot(c *cart.Cart) StoreOption {
	return func(s *Store) {
		s.confirmed = cart.ConfirmedCopy(c)
	}
}

// NewStore creates an empty store. Before the first confirmation the view
// is an empty cart with no id.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		clock: NewClock(),
		ids:   UUIDv7Generator{},
		subs:  make(map[int]func(cart.View)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.confirmed != nil {
		s.confirmedSeq = s.confirmed.Sequence
		s.clock.Advance(s.confirmedSeq)
	}
	return s
}

// Submit validates the mutation's shape, assigns it an id and the next seq,
// and adds it to the pending set.
func (s *Store) Submit(m cart.Mutation) (Handle, error) {
	m = derefMutation(m)
	if m == nil {
		return Handle{}, NewInvalidMutationError("nil", fmt.Errorf("mutation is nil"))
	}
	if err := m.Validate(); err != nil {
		return Handle{}, NewInvalidMutationError(string(m.Kind()), err)
	}

	s.mu.Lock()
	p := &PendingMutation{
		ID:       s.ids.Generate(),
		Seq:      s.clock.Next(),
		Kind:     m.Kind(),
		Mutation: m,
		Status:   StatusSubmitting,
	}
	s.pending = append(s.pending, p)
	v := s.viewLocked()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	slog.Debug("mutation submitted",
		"id", p.ID,
		"seq", p.Seq,
		"kind", p.Kind,
	)
	notify(subs, v)
	return p.Handle(), nil
}

// View returns the merged cart: the confirmed snapshot with pending
// mutations replayed in seq order. It has no side effects.
func (s *Store) View() cart.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Store) viewLocked() cart.View {
	return cart.View{
		Cart:         project(s.confirmed, s.pending, s.confirmedSeq),
		PendingCount: len(s.pending),
		ConfirmedSeq: s.confirmedSeq,
	}
}

// Resolve processes a mutation's outcome and removes it from the pending set.
//
// On success the outcome's cart becomes the confirmed snapshot, unless a
// newer seq has already been confirmed; then the response is stale and only
// the pending entry is dropped. On failure the snapshot is untouched.
//
// A snapshot that violates cart invariants (duplicate line ids) is refused:
// the mutation is dropped as failed and an INVALID_SNAPSHOT error returned
// alongside the resolution.
func (s *Store) Resolve(h Handle, outcome cart.Outcome) (Resolution, error) {
	s.mu.Lock()

	idx := s.indexLocked(h.ID)
	if idx < 0 {
		s.mu.Unlock()
		return Resolution{}, NewUnknownHandleError(h)
	}
	p := s.pending[idx]
	s.pending = append(s.pending[:idx], s.pending[idx+1:]...)

	res := Resolution{Handle: p.Handle(), Kind: p.Kind, Outcome: outcome}
	var resErr error

	if err := outcome.Validate(); err != nil {
		outcome = cart.Failure(cart.FieldError{Message: err.Error(), Code: cart.CodeInvalid})
		res.Outcome = outcome
	}

	if outcome.OK() {
		snapshot := cart.ConfirmedCopy(outcome.Cart)
		if err := snapshot.Validate(); err != nil {
			res.Status = StatusFailed
			resErr = NewInvalidSnapshotError(p.Handle(), err)
		} else {
			res.Status = StatusSucceeded
			if p.Seq > s.confirmedSeq {
				s.confirmed = snapshot
				s.confirmedSeq = p.Seq
			} else {
				res.Stale = true
			}
		}
	} else {
		res.Status = StatusFailed
	}

	res.ConfirmedSeq = s.confirmedSeq
	v := s.viewLocked()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	slog.Debug("mutation resolved",
		"id", p.ID,
		"seq", p.Seq,
		"kind", p.Kind,
		"status", res.Status,
		"stale", res.Stale,
	)
	notify(subs, v)
	return res, resErr
}

// Hydrate installs a backend-fetched snapshot, e.g. at session start.
//
// The snapshot's Sequence stamp becomes confirmedSeq: every request the
// backend processed up to it is already reflected, so later responses at or
// below it are stale. A snapshot stamped below confirmedSeq is older than
// the one held and is ignored. The clock is advanced past the stamp so new
// mutations sort after everything the backend has seen. Pending mutations
// above the stamp keep replaying on top.
func (s *Store) Hydrate(c *cart.Cart) error {
	snapshot := cart.ConfirmedCopy(c)
	if snapshot == nil {
		return fmt.Errorf("hydrate: nil cart")
	}
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}

	s.mu.Lock()
	if snapshot.Sequence < s.confirmedSeq {
		held := s.confirmedSeq
		s.mu.Unlock()
		slog.Debug("hydrate ignored older snapshot", "sequence", snapshot.Sequence, "confirmed_seq", held)
		return nil
	}
	s.confirmed = snapshot
	s.confirmedSeq = snapshot.Sequence
	s.clock.Advance(snapshot.Sequence)
	v := s.viewLocked()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	notify(subs, v)
	return nil
}

// Confirmed returns a copy of the confirmed snapshot, or nil before the
// first confirmation.
func (s *Store) Confirmed() *cart.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed.Clone()
}

// ConfirmedSeq returns the seq whose response produced the confirmed snapshot.
func (s *Store) ConfirmedSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmedSeq
}

// CartID returns the confirmed cart id, or "" before the cart exists.
func (s *Store) CartID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.confirmed == nil {
		return ""
	}
	return s.confirmed.ID
}

// Pending returns the pending mutations in seq order.
func (s *Store) Pending() []PendingMutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingMutation, len(s.pending))
	for i, p := range s.pending {
		out[i] = *p
	}
	return out
}

// Subscribe registers fn to receive the merged view after every change.
// The returned function unregisters it.
func (s *Store) Subscribe(fn func(cart.View)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) indexLocked(id string) int {
	for i, p := range s.pending {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) subscribersLocked() []func(cart.View) {
	if len(s.subs) == 0 {
		return nil
	}
	out := make([]func(cart.View), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(subs []func(cart.View), v cart.View) {
	for _, fn := range subs {
		fn(v)
	}
}

// derefMutation accepts pointer payloads as well as values.
func derefMutation(m cart.Mutation) cart.Mutation {
	switch v := m.(type) {
	case *cart.LinesAdd:
		if v != nil {
			return *v
		}
		return nil
	case *cart.LinesUpdate:
		if v != nil {
			return *v
		}
		return nil
	case *cart.LinesRemove:
		if v != nil {
			return *v
		}
		return nil
	case *cart.DiscountCodesUpdate:
		if v != nil {
			return *v
		}
		return nil
	case *cart.GiftCardCodesUpdate:
		if v != nil {
			return *v
		}
		return nil
	}
	return m
}
