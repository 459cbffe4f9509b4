package cart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names a mutation action. The string values are the wire action names.
type Kind string

const (
	KindLinesAdd            Kind = "LinesAdd"
	KindLinesUpdate         Kind = "LinesUpdate"
	KindLinesRemove         Kind = "LinesRemove"
	KindDiscountCodesUpdate Kind = "DiscountCodesUpdate"
	KindGiftCardCodesUpdate Kind = "GiftCardCodesUpdate"
)

// Valid reports whether k is a known action.
func (k Kind) Valid() bool {
	switch k {
	case KindLinesAdd, KindLinesUpdate, KindLinesRemove, KindDiscountCodesUpdate, KindGiftCardCodesUpdate:
		return true
	}
	return false
}

// Mutation is a payload sent to the backend. Validate checks shape only;
// whether merchandise exists or a code is valid is the backend's call.
type Mutation interface {
	Kind() Kind
	Validate() error
}

// MerchandiseLine requests a quantity of one merchandise.
type MerchandiseLine struct {
	MerchandiseID string `json:"merchandiseId"`
	Quantity      int    `json:"quantity"`
}

// LineQuantity sets the quantity of an existing line.
type LineQuantity struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// LinesAdd adds merchandise to the cart.
type LinesAdd struct {
	Lines []MerchandiseLine `json:"lines"`
}

// LinesUpdate sets line quantities. Quantity 0 removes the line.
type LinesUpdate struct {
	Lines []LineQuantity `json:"lines"`
}

// LinesRemove removes lines by id.
type LinesRemove struct {
	LineIDs []string `json:"lineIds"`
}

// DiscountCodesUpdate replaces the full set of discount codes.
type DiscountCodesUpdate struct {
	DiscountCodes []string `json:"discountCodes"`
}

// GiftCardCodesUpdate replaces the full set of gift card codes.
type GiftCardCodesUpdate struct {
	GiftCardCodes []string `json:"giftCardCodes"`
}

func (LinesAdd) Kind() Kind            { return KindLinesAdd }
func (LinesUpdate) Kind() Kind         { return KindLinesUpdate }
func (LinesRemove) Kind() Kind         { return KindLinesRemove }
func (DiscountCodesUpdate) Kind() Kind { return KindDiscountCodesUpdate }
func (GiftCardCodesUpdate) Kind() Kind { return KindGiftCardCodesUpdate }

func (m LinesAdd) Validate() error {
	if len(m.Lines) == 0 {
		return fmt.Errorf("lines: empty")
	}
	for i, l := range m.Lines {
		if l.MerchandiseID == "" {
			return fmt.Errorf("lines[%d].merchandiseId: empty", i)
		}
		if l.Quantity < 1 {
			return fmt.Errorf("lines[%d].quantity: must be at least 1, got %d", i, l.Quantity)
		}
	}
	return nil
}

func (m LinesUpdate) Validate() error {
	if len(m.Lines) == 0 {
		return fmt.Errorf("lines: empty")
	}
	for i, l := range m.Lines {
		if l.ID == "" {
			return fmt.Errorf("lines[%d].id: empty", i)
		}
		if l.Quantity < 0 {
			return fmt.Errorf("lines[%d].quantity: negative %d", i, l.Quantity)
		}
	}
	return nil
}

func (m LinesRemove) Validate() error {
	if len(m.LineIDs) == 0 {
		return fmt.Errorf("lineIds: empty")
	}
	for i, id := range m.LineIDs {
		if id == "" {
			return fmt.Errorf("lineIds[%d]: empty", i)
		}
	}
	return nil
}

// An empty code set is valid for both code mutations: it clears them.

func (m DiscountCodesUpdate) Validate() error {
	return validateCodes("discountCodes", m.DiscountCodes)
}

func (m GiftCardCodesUpdate) Validate() error {
	return validateCodes("giftCardCodes", m.GiftCardCodes)
}

func validateCodes(field string, codes []string) error {
	for i, c := range codes {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("%s[%d]: empty", field, i)
		}
	}
	return nil
}

// TargetLines returns the line ids a mutation addresses directly.
// LinesAdd targets merchandise rather than lines and returns nil.
func TargetLines(m Mutation) []string {
	switch v := m.(type) {
	case LinesUpdate:
		ids := make([]string, len(v.Lines))
		for i, l := range v.Lines {
			ids[i] = l.ID
		}
		return ids
	case LinesRemove:
		return append([]string(nil), v.LineIDs...)
	}
	return nil
}

// DecodeMutation decodes a wire payload for the given action.
// Unknown fields are rejected.
func DecodeMutation(kind Kind, payload []byte) (Mutation, error) {
	var m Mutation
	var err error
	switch kind {
	case KindLinesAdd:
		var v LinesAdd
		err = decodeStrict(payload, &v)
		m = v
	case KindLinesUpdate:
		var v LinesUpdate
		err = decodeStrict(payload, &v)
		m = v
	case KindLinesRemove:
		var v LinesRemove
		err = decodeStrict(payload, &v)
		m = v
	case KindDiscountCodesUpdate:
		var v DiscountCodesUpdate
		err = decodeStrict(payload, &v)
		m = v
	case KindGiftCardCodesUpdate:
		var v GiftCardCodesUpdate
		err = decodeStrict(payload, &v)
		m = v
	default:
		return nil, fmt.Errorf("unknown action %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return m, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
