package controller

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/engine"
)

// entryField is the show/hide state of a code entry field.
type entryField struct {
	mu      sync.Mutex
	visible bool
}

// ShowInput reveals the entry field.
func (f *entryField) ShowInput() { f.set(true) }

// HideInput hides the entry field.
func (f *entryField) HideInput() { f.set(false) }

// InputVisible reports whether the entry field is shown.
func (f *entryField) InputVisible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

func (f *entryField) set(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = v
}

// Discounts builds DiscountCodesUpdate mutations. The backend contract takes
// the full code set, so each submission carries the currently applicable
// codes plus the entered one.
type Discounts struct {
	entryField
	sub Submitter
}

// NewDiscounts creates a discount code controller.
func NewDiscounts(sub Submitter) *Discounts {
	return &Discounts{sub: sub}
}

// Apply submits the view's applicable codes plus code. Blank input
// resubmits the current set unchanged.
func (d *Discounts) Apply(ctx context.Context, v cart.View, code string) (*engine.Task, error) {
	codes := v.ApplicableCodes()
	if code = strings.TrimSpace(code); code != "" && !slices.Contains(codes, code) {
		codes = append(codes, code)
	}
	if codes == nil {
		codes = []string{}
	}
	return d.sub.Submit(ctx, cart.DiscountCodesUpdate{DiscountCodes: codes})
}

// Clear submits an empty code set.
func (d *Discounts) Clear(ctx context.Context) (*engine.Task, error) {
	return d.sub.Submit(ctx, cart.DiscountCodesUpdate{DiscountCodes: []string{}})
}

// Active lists the codes the view reports as applicable.
func (d *Discounts) Active(v cart.View) []string {
	return v.ApplicableCodes()
}

// GiftCards builds GiftCardCodesUpdate mutations from a locally accumulated
// list of entered codes, resubmitted in full on every entry.
type GiftCards struct {
	entryField
	sub Submitter

	mu    sync.Mutex
	codes []string
}

// NewGiftCards creates a gift card controller.
func NewGiftCards(sub Submitter) *GiftCards {
	return &GiftCards{sub: sub}
}

// Apply strips whitespace from code, adds it to the accumulated list if
// new, submits the full list and hides the entry field.
func (g *GiftCards) Apply(ctx context.Context, code string) (*engine.Task, error) {
	code = strings.Join(strings.Fields(code), "")
	if code == "" {
		return nil, ErrEmptyCode
	}

	g.mu.Lock()
	if !slices.Contains(g.codes, code) {
		g.codes = append(g.codes, code)
	}
	codes := slices.Clone(g.codes)
	g.mu.Unlock()

	task, err := g.sub.Submit(ctx, cart.GiftCardCodesUpdate{GiftCardCodes: codes})
	if err != nil {
		return nil, err
	}
	g.HideInput()
	return task, nil
}

// Codes returns the accumulated codes in entry order.
func (g *GiftCards) Codes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.codes)
}

// Masked renders the view's applied gift cards for display.
func (g *GiftCards) Masked(v cart.View) []string {
	return v.MaskedGiftCards()
}
