// Package cart holds the cart data model shared by every other package:
// snapshots, lines, discount codes, gift cards, the mutation payloads sent to
// the backend and the outcomes it returns.
//
// This package imports nothing internal. The engine, controllers, backend and
// journal all build on these types.
//
// Key constraints:
//   - TotalQuantity is a cache of the sum of line quantities and is
//     recomputed on every state change, never trusted from input
//   - Line ids are unique within a cart
//   - Money amounts use decimal arithmetic, never floats
//   - JSON field names follow the storefront wire shape (camelCase)
package cart
