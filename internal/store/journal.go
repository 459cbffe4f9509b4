package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/engine"
)

// Journal records one session's submissions and resolutions.
// It implements engine.Journal.
//
// Thread-safety: safe for concurrent use. Ordinals are assigned under a
// mutex so they reflect call order.
type Journal struct {
	store   *Store
	session string

	mu      sync.Mutex
	ordinal int64
}

// Journal opens the journal for session, resuming its ordinal counter if
// the session already has rows.
func (s *Store) Journal(ctx context.Context, session string) (*Journal, error) {
	if session == "" {
		return nil, fmt.Errorf("open journal: empty session")
	}
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(ordinal) FROM (
			SELECT ordinal FROM submissions WHERE session = ?
			UNION ALL
			SELECT ordinal FROM resolutions WHERE session = ?
		)
	`, session, session).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{store: s, session: session, ordinal: last.Int64}, nil
}

// Session returns the journal's session id.
func (j *Journal) Session() string {
	return j.session
}

// RecordSubmission inserts a submission row.
// Ids are scoped to the session; re-recording an id is a no-op.
func (j *Journal) RecordSubmission(ctx context.Context, p engine.PendingMutation) error {
	payload, err := cart.MarshalCanonical(p.Mutation)
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.store.db.ExecContext(ctx, `
		INSERT INTO submissions (id, session, ordinal, seq, kind, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, id) DO NOTHING
	`, p.ID, j.session, j.ordinal+1, p.Seq, string(p.Kind), string(payload))
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		j.ordinal++
	}
	return nil
}

// RecordResolution inserts a resolution row. The response snapshot is
// stored in confirmed form together with its hash; a second resolution for
// the same submission is ignored.
func (j *Journal) RecordResolution(ctx context.Context, r engine.Resolution) error {
	var snapshot, hash, errs sql.NullString

	if r.Outcome.Cart != nil {
		c := cart.ConfirmedCopy(r.Outcome.Cart)
		c.Normalize()
		data, err := cart.MarshalCanonical(c)
		if err != nil {
			return fmt.Errorf("record resolution: %w", err)
		}
		h, err := cart.SnapshotHash(c)
		if err != nil {
			return fmt.Errorf("record resolution: %w", err)
		}
		snapshot = sql.NullString{String: string(data), Valid: true}
		hash = sql.NullString{String: h, Valid: true}
	}
	if len(r.Outcome.Errors) > 0 {
		data, err := cart.MarshalCanonical(r.Outcome.Errors)
		if err != nil {
			return fmt.Errorf("record resolution: %w", err)
		}
		errs = sql.NullString{String: string(data), Valid: true}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.store.db.ExecContext(ctx, `
		INSERT INTO resolutions
		(submission_id, session, ordinal, status, stale, confirmed_seq, snapshot, snapshot_hash, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, submission_id) DO NOTHING
	`,
		r.Handle.ID,
		j.session,
		j.ordinal+1,
		r.Status.String(),
		r.Stale,
		r.ConfirmedSeq,
		snapshot,
		hash,
		errs,
	)
	if err != nil {
		return fmt.Errorf("record resolution: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		j.ordinal++
	}
	return nil
}
