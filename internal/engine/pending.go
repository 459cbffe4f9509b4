package engine

import "github.com/roach88/cartsync/internal/cart"

// Status is the lifecycle state of a mutation.
type Status int

const (
	StatusSubmitting Status = iota + 1
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSubmitting:
		return "submitting"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Handle identifies a submitted mutation.
type Handle struct {
	ID  string
	Seq int64
}

// PendingMutation is a submitted mutation awaiting resolution.
type PendingMutation struct {
	ID       string
	Seq      int64
	Kind     cart.Kind
	Mutation cart.Mutation
	Status   Status
}

// Handle returns the mutation's handle.
func (p PendingMutation) Handle() Handle {
	return Handle{ID: p.ID, Seq: p.Seq}
}

// Resolution describes what the Store did with an outcome.
type Resolution struct {
	Handle  Handle
	Kind    cart.Kind
	Status  Status
	Outcome cart.Outcome

	// Stale is set when a success arrived after a newer success had already
	// replaced the snapshot. The snapshot was left alone.
	Stale bool

	// ConfirmedSeq is the store's confirmed seq after the resolution.
	ConfirmedSeq int64
}
