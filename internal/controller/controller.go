package controller

import (
	"context"
	"errors"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/engine"
)

// Submitter sends mutations. *engine.Engine implements it.
type Submitter interface {
	Submit(ctx context.Context, m cart.Mutation) (*engine.Task, error)
}

var (
	// ErrBelowMinimum is returned when decrementing a line at quantity 1.
	// Removal is a separate action.
	ErrBelowMinimum = errors.New("quantity cannot go below 1")

	// ErrLineBusy is returned when removing a line that is still optimistic.
	ErrLineBusy = errors.New("line has unresolved changes")

	// ErrPlaceholderLine is returned for actions on a line the backend has
	// not created yet.
	ErrPlaceholderLine = errors.New("line is not yet confirmed")

	// ErrEmptyCode is returned when a gift card code is blank.
	ErrEmptyCode = errors.New("code is empty")
)
