package engine

import (
	"fmt"
	"strings"

	"github.com/roach88/cartsync/internal/cart"
)

// PlaceholderLineID is the id given to an optimistic line for merchandise
// not yet in the cart.
func PlaceholderLineID(mutationID string, index int) string {
	return fmt.Sprintf("%s%s:%d", placeholderPrefix, mutationID, index)
}

const placeholderPrefix = "pending:"

// project replays pending mutations with seq > after onto a copy of base.
// pending must be in ascending seq order.
func project(base *cart.Cart, pending []*PendingMutation, after int64) *cart.Cart {
	view := base.Clone()
	if view == nil {
		view = &cart.Cart{}
	}
	for _, p := range pending {
		if p.Seq <= after {
			continue
		}
		applyOptimistic(view, p)
	}
	view.RecomputeTotalQuantity()
	view.Normalize()
	return view
}

// applyOptimistic guesses the effect of one mutation. Every line it touches
// is marked optimistic.
func applyOptimistic(c *cart.Cart, p *PendingMutation) {
	switch m := p.Mutation.(type) {
	case cart.LinesAdd:
		for i, l := range m.Lines {
			if idx := c.LineByMerchandise(l.MerchandiseID); idx >= 0 {
				c.Lines[idx].Quantity += l.Quantity
				c.Lines[idx].IsOptimistic = true
				continue
			}
			c.Lines = append(c.Lines, cart.Line{
				ID:            PlaceholderLineID(p.ID, i),
				MerchandiseID: l.MerchandiseID,
				Quantity:      l.Quantity,
				IsOptimistic:  true,
			})
		}

	case cart.LinesUpdate:
		for _, l := range m.Lines {
			idx := c.LineIndex(l.ID)
			if idx < 0 {
				continue
			}
			if l.Quantity == 0 {
				c.RemoveLine(l.ID)
				continue
			}
			c.Lines[idx].Quantity = l.Quantity
			c.Lines[idx].IsOptimistic = true
		}

	case cart.LinesRemove:
		for _, id := range m.LineIDs {
			c.RemoveLine(id)
		}

	case cart.DiscountCodesUpdate:
		confirmed := make(map[string]bool, len(c.DiscountCodes))
		for _, d := range c.DiscountCodes {
			confirmed[d.Code] = d.Applicable
		}
		codes := make([]cart.DiscountCode, 0, len(m.DiscountCodes))
		seen := make(map[string]bool, len(m.DiscountCodes))
		for _, code := range m.DiscountCodes {
			if seen[code] {
				continue
			}
			seen[code] = true
			codes = append(codes, cart.DiscountCode{Code: code, Applicable: confirmed[code]})
		}
		c.DiscountCodes = codes

	case cart.GiftCardCodesUpdate:
		// Gift cards are masked and backend-owned; nothing to project.
	}
}

// IsPlaceholderLineID reports whether id names an optimistic line the
// backend has not assigned an id to yet.
func IsPlaceholderLineID(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}
