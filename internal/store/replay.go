package store

import (
	"context"
	"fmt"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/engine"
)

// ReplayResult reports whether a recorded session folds to the same state.
type ReplayResult struct {
	Session     string
	Submissions int
	Resolutions int
	Unresolved  int

	// ExpectedHash is the hash of the last snapshot the journal recorded as
	// installed; ActualHash is the replayed store's confirmed snapshot hash.
	// Both are empty when no snapshot was ever confirmed.
	ExpectedHash string
	ActualHash   string

	Mismatches []Mismatch
}

// Match reports whether replay reproduced every recorded resolution and the
// final snapshot.
func (r *ReplayResult) Match() bool {
	return len(r.Mismatches) == 0 && r.ExpectedHash == r.ActualHash
}

// Mismatch is one resolution whose replayed result differs from the record.
type Mismatch struct {
	SubmissionID string
	Field        string
	Recorded     string
	Replayed     string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: %s recorded %s, replayed %s", m.SubmissionID, m.Field, m.Recorded, m.Replayed)
}

// ReplaySession re-folds a session through a fresh engine.Store.
//
// Submissions are re-submitted in seq order with their recorded ids, then
// the recorded outcomes are resolved in ordinal order. Per-resolution
// status and staleness are compared with the record, as is the final
// confirmed snapshot hash.
func (s *Store) ReplaySession(ctx context.Context, session string) (*ReplayResult, error) {
	subs, err := s.ReadSubmissions(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", session, err)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("replay %s: session has no submissions", session)
	}
	recorded, err := s.ReadResolutions(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", session, err)
	}

	ids := make([]string, len(subs))
	for i, sub := range subs {
		ids[i] = sub.ID
	}
	st := engine.NewStore(
		engine.WithClock(engine.NewClockAt(subs[0].Seq-1)),
		engine.WithIDGenerator(engine.NewFixedGenerator(ids...)),
	)

	handles := make(map[string]engine.Handle, len(subs))
	for _, sub := range subs {
		m, err := sub.Mutation()
		if err != nil {
			return nil, fmt.Errorf("replay %s: submission %s: %w", session, sub.ID, err)
		}
		h, err := st.Submit(m)
		if err != nil {
			return nil, fmt.Errorf("replay %s: submission %s: %w", session, sub.ID, err)
		}
		if h.Seq != sub.Seq {
			return nil, fmt.Errorf("replay %s: submission %s: seq gap (recorded %d, replayed %d)",
				session, sub.ID, sub.Seq, h.Seq)
		}
		handles[sub.ID] = h
	}

	result := &ReplayResult{
		Session:     session,
		Submissions: len(subs),
		Resolutions: len(recorded),
	}

	for _, rec := range recorded {
		h, ok := handles[rec.SubmissionID]
		if !ok {
			return nil, fmt.Errorf("replay %s: resolution for unknown submission %s", session, rec.SubmissionID)
		}
		res, err := st.Resolve(h, rec.Outcome())
		if err != nil && !engine.IsInvalidSnapshot(err) {
			return nil, fmt.Errorf("replay %s: %w", session, err)
		}

		if got := res.Status.String(); got != rec.Status {
			result.Mismatches = append(result.Mismatches, Mismatch{
				SubmissionID: rec.SubmissionID, Field: "status", Recorded: rec.Status, Replayed: got,
			})
		}
		if res.Stale != rec.Stale {
			result.Mismatches = append(result.Mismatches, Mismatch{
				SubmissionID: rec.SubmissionID, Field: "stale",
				Recorded: fmt.Sprint(rec.Stale), Replayed: fmt.Sprint(res.Stale),
			})
		}
		if rec.Status == engine.StatusSucceeded.String() && !rec.Stale {
			result.ExpectedHash = rec.SnapshotHash
		}
	}

	result.Unresolved = len(st.Pending())
	if c := st.Confirmed(); c != nil {
		h, err := cart.SnapshotHash(c)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", session, err)
		}
		result.ActualHash = h
	}
	return result, nil
}
