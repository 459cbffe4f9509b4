package cart

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in a single currency.
type Money struct {
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currencyCode"`
}

// NewMoney parses amount as a decimal string.
func NewMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return Money{Amount: d, CurrencyCode: currency}, nil
}

// String renders the amount with two decimal places and the currency code.
func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.CurrencyCode
}

// Cost holds the aggregate cost fields of a cart. Pricing is backend-owned;
// the client only ever displays what the last snapshot reported.
type Cost struct {
	SubtotalAmount *Money `json:"subtotalAmount,omitempty"`
	TotalAmount    *Money `json:"totalAmount,omitempty"`
}

// Line is one merchandise entry in a cart.
type Line struct {
	ID            string `json:"id"`
	MerchandiseID string `json:"merchandiseId"`
	Quantity      int    `json:"quantity"`
	Cost          *Money `json:"cost,omitempty"`

	// IsOptimistic is set on projected lines while an unresolved mutation
	// touches them. Backend snapshots never set it.
	IsOptimistic bool `json:"isOptimistic,omitempty"`
}

// DiscountCode is a code attached to the cart. Applicable is decided by the
// backend alone.
type DiscountCode struct {
	Code       string `json:"code"`
	Applicable bool   `json:"applicable"`
}

// AppliedGiftCard is the masked display form of a gift card applied to the cart.
type AppliedGiftCard struct {
	ID             string `json:"id"`
	LastCharacters string `json:"lastCharacters"`
	AmountUsed     *Money `json:"amountUsed,omitempty"`
}

// Cart is a cart snapshot as returned by the backend, or a projection of one.
type Cart struct {
	ID               string            `json:"id"`
	Lines            []Line            `json:"lines"`
	DiscountCodes    []DiscountCode    `json:"discountCodes"`
	AppliedGiftCards []AppliedGiftCard `json:"appliedGiftCards"`
	Cost             Cost              `json:"cost"`
	TotalQuantity    int               `json:"totalQuantity"`

	// Sequence is the highest request sequence the backend has processed
	// for this cart, accepted or rejected. Everything the backend applied
	// at or below it is already reflected in the snapshot.
	Sequence int64 `json:"sequence,omitempty"`
}

// Clone returns a deep copy. Money values are copied by value; decimal.Decimal
// is immutable so sharing its internals is safe.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := &Cart{
		ID:            c.ID,
		TotalQuantity: c.TotalQuantity,
		Sequence:      c.Sequence,
		Cost: Cost{
			SubtotalAmount: cloneMoney(c.Cost.SubtotalAmount),
			TotalAmount:    cloneMoney(c.Cost.TotalAmount),
		},
	}
	if c.Lines != nil {
		out.Lines = make([]Line, len(c.Lines))
		for i, l := range c.Lines {
			l.Cost = cloneMoney(l.Cost)
			out.Lines[i] = l
		}
	}
	if c.DiscountCodes != nil {
		out.DiscountCodes = make([]DiscountCode, len(c.DiscountCodes))
		copy(out.DiscountCodes, c.DiscountCodes)
	}
	if c.AppliedGiftCards != nil {
		out.AppliedGiftCards = make([]AppliedGiftCard, len(c.AppliedGiftCards))
		for i, g := range c.AppliedGiftCards {
			g.AmountUsed = cloneMoney(g.AmountUsed)
			out.AppliedGiftCards[i] = g
		}
	}
	return out
}

func cloneMoney(m *Money) *Money {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}

// LineIndex returns the index of the line with the given id, or -1.
func (c *Cart) LineIndex(id string) int {
	for i := range c.Lines {
		if c.Lines[i].ID == id {
			return i
		}
	}
	return -1
}

// LineByMerchandise returns the index of the first line for the merchandise, or -1.
func (c *Cart) LineByMerchandise(merchandiseID string) int {
	for i := range c.Lines {
		if c.Lines[i].MerchandiseID == merchandiseID {
			return i
		}
	}
	return -1
}

// RemoveLine deletes the line with the given id, preserving order.
// Reports whether a line was removed.
func (c *Cart) RemoveLine(id string) bool {
	i := c.LineIndex(id)
	if i < 0 {
		return false
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	return true
}

// SetQuantity sets a line's quantity. Zero removes the line.
// Reports whether the line existed.
func (c *Cart) SetQuantity(id string, quantity int) bool {
	i := c.LineIndex(id)
	if i < 0 {
		return false
	}
	if quantity <= 0 {
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		return true
	}
	c.Lines[i].Quantity = quantity
	return true
}

// SumQuantity returns the sum of line quantities.
func (c *Cart) SumQuantity() int {
	total := 0
	for _, l := range c.Lines {
		total += l.Quantity
	}
	return total
}

// RecomputeTotalQuantity drops zero-quantity lines and refreshes TotalQuantity.
func (c *Cart) RecomputeTotalQuantity() {
	kept := c.Lines[:0]
	for _, l := range c.Lines {
		if l.Quantity > 0 {
			kept = append(kept, l)
		}
	}
	c.Lines = kept
	c.TotalQuantity = c.SumQuantity()
}

// Validate checks the structural invariants of a snapshot: unique line ids,
// non-negative quantities and a consistent TotalQuantity.
func (c *Cart) Validate() error {
	seen := make(map[string]bool, len(c.Lines))
	for i, l := range c.Lines {
		if l.ID == "" {
			return fmt.Errorf("lines[%d]: empty id", i)
		}
		if seen[l.ID] {
			return fmt.Errorf("lines[%d]: duplicate id %q", i, l.ID)
		}
		seen[l.ID] = true
		if l.Quantity < 0 {
			return fmt.Errorf("lines[%d]: negative quantity %d", i, l.Quantity)
		}
	}
	if sum := c.SumQuantity(); sum != c.TotalQuantity {
		return fmt.Errorf("totalQuantity %d does not match line sum %d", c.TotalQuantity, sum)
	}
	return nil
}

// Normalize replaces nil collections with empty ones so the cart encodes
// as arrays rather than null.
func (c *Cart) Normalize() {
	if c.Lines == nil {
		c.Lines = []Line{}
	}
	if c.DiscountCodes == nil {
		c.DiscountCodes = []DiscountCode{}
	}
	if c.AppliedGiftCards == nil {
		c.AppliedGiftCards = []AppliedGiftCard{}
	}
}

// ConfirmedCopy returns the form a backend snapshot takes once confirmed:
// a clone with optimistic flags cleared and TotalQuantity recomputed.
// Returns nil for a nil cart.
func ConfirmedCopy(c *Cart) *Cart {
	out := c.Clone()
	if out == nil {
		return nil
	}
	for i := range out.Lines {
		out.Lines[i].IsOptimistic = false
	}
	out.RecomputeTotalQuantity()
	return out
}
