package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Field error codes produced by this module. Backends may return others.
const (
	CodeInvalid   = "INVALID"
	CodeNotFound  = "NOT_FOUND"
	CodeTransport = "TRANSPORT"

	// CodeOutOfOrder rejects a request that reached the backend after one
	// with a higher sequence for the same cart had been processed.
	CodeOutOfOrder = "OUT_OF_ORDER"
)

// FieldError is one field-level error in a rejected mutation.
type FieldError struct {
	Field   []string `json:"field,omitempty"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
}

func (e FieldError) Error() string {
	if len(e.Field) == 0 {
		return e.Message
	}
	return strings.Join(e.Field, ".") + ": " + e.Message
}

// Errors is the error list of a rejected mutation.
type Errors []FieldError

func (es Errors) Error() string {
	switch len(es) {
	case 0:
		return "no errors"
	case 1:
		return es[0].Error()
	}
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(es), strings.Join(parts, "; "))
}

// HasCode reports whether any error carries the code.
func (es Errors) HasCode(code string) bool {
	for _, e := range es {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Outcome is the result of one mutation: a complete cart snapshot or an
// error list, never both.
type Outcome struct {
	Cart   *Cart  `json:"cart,omitempty"`
	Errors Errors `json:"errors,omitempty"`
}

// Success wraps an authoritative snapshot.
func Success(c *Cart) Outcome {
	return Outcome{Cart: c}
}

// Failure wraps a rejection.
func Failure(errs ...FieldError) Outcome {
	return Outcome{Errors: Errors(errs)}
}

// TransportFailure converts a transport error into a failed outcome so the
// store handles it the same way as a rejection.
func TransportFailure(err error) Outcome {
	return Failure(FieldError{Message: err.Error(), Code: CodeTransport})
}

// OK reports whether the outcome carries a snapshot.
func (o Outcome) OK() bool {
	return o.Cart != nil && len(o.Errors) == 0
}

// Validate rejects mixed or empty outcomes.
func (o Outcome) Validate() error {
	switch {
	case o.Cart != nil && len(o.Errors) > 0:
		return errors.New("outcome carries both a cart and errors")
	case o.Cart == nil && len(o.Errors) == 0:
		return errors.New("outcome carries neither a cart nor errors")
	}
	return nil
}

// Request is the envelope sent to the backend.
type Request struct {
	Action   Kind            `json:"action"`
	CartID   string          `json:"cartId,omitempty"`
	Sequence int64           `json:"sequence"`
	Payload  json.RawMessage `json:"payload"`
}

// NewRequest encodes a mutation into an envelope. An empty cartID asks the
// backend to create the cart.
func NewRequest(cartID string, seq int64, m Mutation) (Request, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return Request{}, fmt.Errorf("encode %s payload: %w", m.Kind(), err)
	}
	return Request{Action: m.Kind(), CartID: cartID, Sequence: seq, Payload: payload}, nil
}

// Mutation decodes and validates the envelope payload.
func (r Request) Mutation() (Mutation, error) {
	m, err := DecodeMutation(r.Action, r.Payload)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", r.Action, err)
	}
	return m, nil
}
