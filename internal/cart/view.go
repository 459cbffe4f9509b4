package cart

// GiftCardMask prefixes the last characters of an applied gift card.
const GiftCardMask = "•••• "

// View is the merged cart a UI renders: the confirmed snapshot with pending
// mutations replayed on top. Cart is never nil.
type View struct {
	Cart *Cart

	// PendingCount is the number of unresolved mutations.
	PendingCount int

	// ConfirmedSeq is the sequence number whose response produced the
	// confirmed snapshot, 0 before any.
	ConfirmedSeq int64
}

// HasLines reports whether the view has at least one line.
func (v View) HasLines() bool {
	return len(v.Cart.Lines) > 0
}

// LineCount returns the number of distinct lines.
func (v View) LineCount() int {
	return len(v.Cart.Lines)
}

// TotalQuantity returns the sum of line quantities.
func (v View) TotalQuantity() int {
	return v.Cart.TotalQuantity
}

// IsEmpty reports whether the cart holds no items.
func (v View) IsEmpty() bool {
	return v.Cart.TotalQuantity == 0
}

// HasApplicableDiscount reports whether any discount code is applicable.
func (v View) HasApplicableDiscount() bool {
	for _, d := range v.Cart.DiscountCodes {
		if d.Applicable {
			return true
		}
	}
	return false
}

// ApplicableCodes returns the applicable discount codes in cart order.
func (v View) ApplicableCodes() []string {
	var codes []string
	for _, d := range v.Cart.DiscountCodes {
		if d.Applicable {
			codes = append(codes, d.Code)
		}
	}
	return codes
}

// MaskedGiftCards returns the display form of each applied gift card.
func (v View) MaskedGiftCards() []string {
	out := make([]string, len(v.Cart.AppliedGiftCards))
	for i, g := range v.Cart.AppliedGiftCards {
		out[i] = GiftCardMask + g.LastCharacters
	}
	return out
}

// IsPending reports whether any mutation is unresolved.
func (v View) IsPending() bool {
	return v.PendingCount > 0
}

// Line looks up a line by id.
func (v View) Line(id string) (Line, bool) {
	if i := v.Cart.LineIndex(id); i >= 0 {
		return v.Cart.Lines[i], true
	}
	return Line{}, false
}

// LineFor looks up the first line holding the merchandise.
func (v View) LineFor(merchandiseID string) (Line, bool) {
	if i := v.Cart.LineByMerchandise(merchandiseID); i >= 0 {
		return v.Cart.Lines[i], true
	}
	return Line{}, false
}
