package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/cartsync/internal/cart"
)

// Submission is a recorded submission row.
type Submission struct {
	ID      string
	Session string
	Ordinal int64
	Seq     int64
	Kind    cart.Kind
	Payload json.RawMessage
}

// Mutation decodes the recorded payload.
func (s Submission) Mutation() (cart.Mutation, error) {
	return cart.DecodeMutation(s.Kind, s.Payload)
}

// RecordedResolution is a recorded resolution row.
type RecordedResolution struct {
	SubmissionID string
	Session      string
	Ordinal      int64
	Status       string
	Stale        bool
	ConfirmedSeq int64
	Snapshot     *cart.Cart
	SnapshotHash string
	Errors       cart.Errors
}

// Outcome rebuilds the outcome the engine resolved.
func (r RecordedResolution) Outcome() cart.Outcome {
	return cart.Outcome{Cart: r.Snapshot.Clone(), Errors: r.Errors}
}

// Event is one timeline entry: exactly one of Submission or Resolution is set.
type Event struct {
	Ordinal    int64
	Submission *Submission
	Resolution *RecordedResolution
}

// Sessions returns every session id with at least one submission, sorted.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT session FROM submissions
		ORDER BY session ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("read sessions: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ReadSubmissions returns a session's submissions in seq order.
func (s *Store) ReadSubmissions(ctx context.Context, session string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, ordinal, seq, kind, payload
		FROM submissions
		WHERE session = ?
		ORDER BY seq ASC, id ASC COLLATE BINARY
	`, session)
	if err != nil {
		return nil, fmt.Errorf("read submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var sub Submission
		var kind, payload string
		if err := rows.Scan(&sub.ID, &sub.Session, &sub.Ordinal, &sub.Seq, &kind, &payload); err != nil {
			return nil, fmt.Errorf("read submissions: %w", err)
		}
		sub.Kind = cart.Kind(kind)
		sub.Payload = json.RawMessage(payload)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read submissions: %w", err)
	}
	return out, nil
}

// ReadResolutions returns a session's resolutions in ordinal order, which is
// the order the engine processed them.
func (s *Store) ReadResolutions(ctx context.Context, session string) ([]RecordedResolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT submission_id, session, ordinal, status, stale, confirmed_seq, snapshot, snapshot_hash, errors
		FROM resolutions
		WHERE session = ?
		ORDER BY ordinal ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("read resolutions: %w", err)
	}
	defer rows.Close()

	var out []RecordedResolution
	for rows.Next() {
		var r RecordedResolution
		var snapshot, hash, errs sql.NullString
		if err := rows.Scan(&r.SubmissionID, &r.Session, &r.Ordinal, &r.Status, &r.Stale,
			&r.ConfirmedSeq, &snapshot, &hash, &errs); err != nil {
			return nil, fmt.Errorf("read resolutions: %w", err)
		}
		if snapshot.Valid {
			r.Snapshot = &cart.Cart{}
			if err := json.Unmarshal([]byte(snapshot.String), r.Snapshot); err != nil {
				return nil, fmt.Errorf("read resolutions: decode snapshot of %s: %w", r.SubmissionID, err)
			}
			r.SnapshotHash = hash.String
		}
		if errs.Valid {
			if err := json.Unmarshal([]byte(errs.String), &r.Errors); err != nil {
				return nil, fmt.Errorf("read resolutions: decode errors of %s: %w", r.SubmissionID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read resolutions: %w", err)
	}
	return out, nil
}

// Timeline merges a session's submissions and resolutions in ordinal order.
func (s *Store) Timeline(ctx context.Context, session string) ([]Event, error) {
	subs, err := s.ReadSubmissions(ctx, session)
	if err != nil {
		return nil, err
	}
	res, err := s.ReadResolutions(ctx, session)
	if err != nil {
		return nil, err
	}

	byOrdinal := make(map[int64]Event, len(subs)+len(res))
	var maxOrdinal int64
	for i := range subs {
		byOrdinal[subs[i].Ordinal] = Event{Ordinal: subs[i].Ordinal, Submission: &subs[i]}
		maxOrdinal = max(maxOrdinal, subs[i].Ordinal)
	}
	for i := range res {
		byOrdinal[res[i].Ordinal] = Event{Ordinal: res[i].Ordinal, Resolution: &res[i]}
		maxOrdinal = max(maxOrdinal, res[i].Ordinal)
	}

	out := make([]Event, 0, len(byOrdinal))
	for o := int64(1); o <= maxOrdinal; o++ {
		if ev, ok := byOrdinal[o]; ok {
			out = append(out, ev)
		}
	}
	return out, nil
}
