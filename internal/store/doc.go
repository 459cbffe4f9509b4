// Package store provides SQLite-backed durable storage for cart session
// journals.
//
// A journal is append-only and keyed by session:
//   - Submissions: one row per submitted mutation (id, seq, kind, payload)
//   - Resolutions: one row per processed response (status, snapshot, errors)
//
// # Ordering
//
// Every row carries an ordinal from a per-session counter shared by both
// tables, so a session's timeline is recovered exactly as the engine saw
// it. All reads order by ordinal or seq, never by wall time.
//
// # Determinism
//
// Payloads, snapshots and error lists are stored as canonical JSON, and
// snapshots carry their domain-separated hash (cart.SnapshotHash). Replaying
// a session through a fresh engine.Store must reproduce the recorded
// statuses and final snapshot hash.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
