// Package backend provides the authoritative side of the cart protocol:
// a reference in-memory implementation, the repositories it persists carts
// in, the CUE catalog it prices against, and an HTTP client for talking to
// a remote instance through internal/server.
//
// The reference backend keeps its rules small on purpose. It exists so the
// engine can be exercised end to end, not as a pricing engine.
package backend
