// Package engine implements optimistic cart reconciliation.
//
// Two pieces cooperate:
//
//   - Store holds the last confirmed cart snapshot and the pending
//     mutations. View() replays pending mutations onto the snapshot in
//     submission order (seq), never arrival order.
//   - Engine submits mutations to a Backend concurrently and resolves the
//     responses on the Store from a single Run goroutine.
//
// # Ordering
//
// Every mutation gets a seq from a logical Clock at submission. When a
// success arrives the Store compares its seq with the seq of the snapshot it
// already holds (confirmedSeq). A newer success replaces the snapshot; an
// older one is stale and only leaves the pending set. Only pending
// mutations newer than confirmedSeq are replayed, since older ones are
// already part of the newer snapshot. Given a backend that applies requests
// in submission order, the final state after all responses equals applying
// the successful mutations in submission order, whatever order responses
// arrive in.
//
// # Failures
//
// Transport errors and backend rejections are handled the same way: the
// mutation is dropped and the view reverts. Nothing is retried.
package engine
