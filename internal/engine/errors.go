package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is an error raised by the Store or the Engine.
// It carries structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// MutationID identifies the affected mutation, if any.
	MutationID string

	// Seq is the affected mutation's sequence number, if any.
	Seq int64

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeInvalidMutation indicates a payload failed shape validation.
	ErrCodeInvalidMutation RuntimeErrorCode = "INVALID_MUTATION"

	// ErrCodeUnknownHandle indicates a resolution for a mutation that is not
	// pending, either never submitted or already resolved.
	ErrCodeUnknownHandle RuntimeErrorCode = "UNKNOWN_HANDLE"

	// ErrCodeInvalidSnapshot indicates a backend snapshot violated cart
	// invariants and was refused.
	ErrCodeInvalidSnapshot RuntimeErrorCode = "INVALID_SNAPSHOT"

	// ErrCodeNoFetcher indicates Hydrate was called without a Fetcher.
	ErrCodeNoFetcher RuntimeErrorCode = "NO_FETCHER"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.MutationID != "" {
		msg += fmt.Sprintf(" (mutation=%s, seq=%d)", e.MutationID, e.Seq)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsInvalidMutation reports whether err is a shape validation failure.
// Uses errors.As to handle wrapped errors.
func IsInvalidMutation(err error) bool {
	return hasCode(err, ErrCodeInvalidMutation)
}

// IsUnknownHandle reports whether err is a resolution for a non-pending mutation.
func IsUnknownHandle(err error) bool {
	return hasCode(err, ErrCodeUnknownHandle)
}

// IsInvalidSnapshot reports whether err is a refused backend snapshot.
func IsInvalidSnapshot(err error) bool {
	return hasCode(err, ErrCodeInvalidSnapshot)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewInvalidMutationError wraps a shape validation failure.
func NewInvalidMutationError(kind string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidMutation,
		Message: "invalid " + kind + " mutation",
		Err:     err,
	}
}

// NewUnknownHandleError creates an error for a resolution with no pending mutation.
func NewUnknownHandleError(h Handle) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeUnknownHandle,
		Message:    "mutation is not pending",
		MutationID: h.ID,
		Seq:        h.Seq,
	}
}

// NewInvalidSnapshotError wraps a snapshot invariant violation.
func NewInvalidSnapshotError(h Handle, err error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeInvalidSnapshot,
		Message:    "backend snapshot refused",
		MutationID: h.ID,
		Seq:        h.Seq,
		Err:        err,
	}
}
