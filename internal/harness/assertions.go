package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/cartsync/internal/cart"
)

// AssertionError describes one failed expectation.
type AssertionError struct {
	Where    string // step label or "final"
	Field    string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: %s: expected %s, got %s", e.Where, e.Field, e.Expected, e.Actual)
}

// checkInvariants returns a message per violated view invariant.
func checkInvariants(v cart.View) []string {
	var msgs []string
	if err := v.Cart.Validate(); err != nil {
		msgs = append(msgs, "invalid view: "+err.Error())
	}
	if sum := v.Cart.SumQuantity(); v.TotalQuantity() != sum {
		msgs = append(msgs, fmt.Sprintf("totalQuantity %d != line sum %d", v.TotalQuantity(), sum))
	}
	if v.IsEmpty() != (v.TotalQuantity() == 0) {
		msgs = append(msgs, fmt.Sprintf("empty=%t with totalQuantity %d", v.IsEmpty(), v.TotalQuantity()))
	}
	return msgs
}

// checkExpect evaluates e against the current view and returns one message
// per mismatch.
func (h *Harness) checkExpect(ctx context.Context, where string, e *Expect) []string {
	v := h.store.View()
	var errs []string
	fail := func(field, expected, actual string) {
		errs = append(errs, (&AssertionError{Where: where, Field: field, Expected: expected, Actual: actual}).Error())
	}

	if e.TotalQuantity != nil && *e.TotalQuantity != v.TotalQuantity() {
		fail("totalQuantity", fmt.Sprint(*e.TotalQuantity), fmt.Sprint(v.TotalQuantity()))
	}
	if e.Empty != nil && *e.Empty != v.IsEmpty() {
		fail("empty", fmt.Sprint(*e.Empty), fmt.Sprint(v.IsEmpty()))
	}
	if e.Pending != nil && *e.Pending != v.PendingCount {
		fail("pending", fmt.Sprint(*e.Pending), fmt.Sprint(v.PendingCount))
	}
	if e.NoLines && v.HasLines() {
		fail("lines", "none", strings.Join(renderLines(v), ","))
	}
	if e.Lines != nil {
		if msg := matchLines(e.Lines, v.Cart.Lines); msg != "" {
			fail("lines", describeExpectLines(e.Lines), strings.Join(renderLines(v), ",")+" ("+msg+")")
		}
	}
	if e.DiscountCodes != nil {
		want := make([]string, len(e.DiscountCodes))
		for i, c := range e.DiscountCodes {
			want[i] = fmt.Sprintf("%s:%t", c.Code, c.Applicable)
		}
		got := make([]string, len(v.Cart.DiscountCodes))
		for i, c := range v.Cart.DiscountCodes {
			got[i] = fmt.Sprintf("%s:%t", c.Code, c.Applicable)
		}
		if strings.Join(want, ",") != strings.Join(got, ",") {
			fail("discountCodes", strings.Join(want, ","), strings.Join(got, ","))
		}
	}
	if e.ApplicableDiscount != nil && *e.ApplicableDiscount != v.HasApplicableDiscount() {
		fail("applicableDiscount", fmt.Sprint(*e.ApplicableDiscount), fmt.Sprint(v.HasApplicableDiscount()))
	}
	if e.GiftCards != nil {
		got := v.MaskedGiftCards()
		if strings.Join(e.GiftCards, ",") != strings.Join(got, ",") {
			fail("giftCards", strings.Join(e.GiftCards, ","), strings.Join(got, ","))
		}
	}
	for name, want := range e.Status {
		if got := h.status(name); got != want {
			fail("status["+name+"]", want, got)
		}
	}
	if e.ConfirmedQuantity != nil {
		got := 0
		if c := h.store.Confirmed(); c != nil {
			got = c.TotalQuantity
		}
		if got != *e.ConfirmedQuantity {
			fail("confirmedQuantity", fmt.Sprint(*e.ConfirmedQuantity), fmt.Sprint(got))
		}
	}
	if e.Converged {
		if msg := h.converged(ctx); msg != "" {
			fail("converged", "true", msg)
		}
	}
	return errs
}

// status reports a named mutation's lifecycle state as the Store sees it.
func (h *Harness) status(name string) string {
	handle, ok := h.handles[name]
	if !ok {
		return "unknown"
	}
	for _, p := range h.store.Pending() {
		if p.ID == handle.ID {
			return p.Status.String()
		}
	}
	for _, ev := range h.result.Trace {
		if ev.Mutation == name && ev.Status != "" {
			return ev.Status
		}
	}
	return "unknown"
}

// converged compares the confirmed snapshot with the backend's stored cart,
// ignoring the sequence stamp. Returns "" when they match.
func (h *Harness) converged(ctx context.Context) string {
	if n := len(h.store.Pending()); n > 0 {
		return fmt.Sprintf("%d mutations still pending", n)
	}
	confirmed := h.store.Confirmed()
	if h.cartID == "" {
		if confirmed == nil {
			return ""
		}
		return "store has a snapshot but the backend has no cart"
	}
	if confirmed == nil {
		return "backend has a cart but nothing was confirmed"
	}
	stored, err := h.backend.Fetch(ctx, h.cartID)
	if err != nil {
		return "fetch backend cart: " + err.Error()
	}
	want, err := cart.ContentHash(cart.ConfirmedCopy(stored))
	if err != nil {
		return err.Error()
	}
	got, err := cart.ContentHash(confirmed)
	if err != nil {
		return err.Error()
	}
	if want != got {
		return fmt.Sprintf("snapshot %s differs from backend %s (confirmed quantity %d, backend %d)",
			short(got), short(want), confirmed.TotalQuantity, stored.TotalQuantity)
	}
	return ""
}

func matchLines(want []ExpectLine, got []cart.Line) string {
	if len(want) != len(got) {
		return fmt.Sprintf("%d lines, want %d", len(got), len(want))
	}
	for i, w := range want {
		g := got[i]
		switch {
		case w.ID != "" && w.ID != g.ID:
			return fmt.Sprintf("line %d id %s", i, g.ID)
		case w.MerchandiseID != g.MerchandiseID:
			return fmt.Sprintf("line %d merchandise %s", i, g.MerchandiseID)
		case w.Quantity != g.Quantity:
			return fmt.Sprintf("line %d quantity %d", i, g.Quantity)
		case w.Optimistic != nil && *w.Optimistic != g.IsOptimistic:
			return fmt.Sprintf("line %d optimistic %t", i, g.IsOptimistic)
		}
	}
	return ""
}

func describeExpectLines(lines []ExpectLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		s := fmt.Sprintf("%s=%d", l.MerchandiseID, l.Quantity)
		if l.Optimistic != nil && *l.Optimistic {
			s += "*"
		}
		parts[i] = s
	}
	return strings.Join(parts, ",")
}

func short(hash string) string {
	if i := strings.LastIndex(hash, ":"); i >= 0 {
		hash = hash[i+1:]
	}
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
