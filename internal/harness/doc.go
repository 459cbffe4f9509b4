// Package harness runs cart scenarios: scripted sequences of submissions
// and deliveries against an engine.Store backed by the reference backend.
//
// A scenario controls the one thing tests otherwise cannot: the order in
// which responses reach the Store, and optionally the order in which
// requests reach the backend. The backend applies requests for a cart in
// seq order and rejects one that arrives after a higher seq.
//
// # Scenario Format
//
//	name: reorder_same_line
//	description: "Two updates to one line converge whatever the arrival order"
//	catalog: ../catalog.cue          # optional, relative to the scenario file
//	setup:                           # optional, applied to the backend only
//	  - action: LinesAdd
//	    payload: { lines: [{ merchandiseId: A, quantity: 1 }] }
//	steps:
//	  - submit: { as: u2, action: LinesUpdate, payload: { lines: [{ id: line-1, quantity: 2 }] } }
//	  - submit: { as: u3, action: LinesUpdate, payload: { lines: [{ id: line-1, quantity: 3 }] } }
//	  - deliver: u3
//	  - deliver: u2
//	  - expect:
//	      totalQuantity: 3
//	      lines: [{ merchandiseId: A, quantity: 3, optimistic: false }]
//	final:
//	  converged: true
//
// # Steps
//
//   - submit: records the mutation on the Store; the view is optimistic
//     immediately. The request is queued for the backend.
//   - arrive: the backend processes the mutation's request now, ahead of
//     any lower seq still queued. Those will be rejected as out of order.
//   - deliver: runs the backend up to and including the mutation, then
//     resolves the mutation with the backend's response.
//   - fail: resolves the mutation as a transport failure. If the backend
//     has not seen the request yet it never will; otherwise the response
//     is lost after the backend applied it.
//   - expect: checks the merged view.
//
// After every step the harness checks the view invariants: a structurally
// valid cart, totalQuantity equal to the sum of line quantities, and
// "empty" exactly when totalQuantity is 0.
//
// # Deterministic Testing
//
// Mutation ids are the scenario's `as` names, seqs come from
// testutil.DeterministicClock, and backend cart and line ids are
// "cart-N" and "line-N". Traces are therefore byte-stable and compared
// against golden files with RunWithGolden.
package harness
