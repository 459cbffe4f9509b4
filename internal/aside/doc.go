// Package aside holds page chrome state that cart components share: which
// side panel is open, and whether the header is shown while scrolling.
//
// Service is an explicit object that callers construct and inject. There is
// no package-level instance.
package aside
