// Package controller turns user intent into cart mutations.
//
// Controllers never touch cart data. They build a mutation, hand it to a
// Submitter (the engine) and keep only local UI state: busy flags, entry
// field visibility, the accumulated gift card codes. Validity of codes and
// quantities is the backend's decision; controllers reflect whatever the
// merged view reports.
package controller
