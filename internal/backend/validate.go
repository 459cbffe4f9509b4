package backend

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog validation codes.
const (
	ErrCatalogSyntax     = "E200" // CUE error or wrong field shape
	ErrCurrencyInvalid   = "E201" // currency must be a 3-letter code
	ErrPriceNegative     = "E202" // merchandise price below zero
	ErrPercentOutOfRange = "E203" // percentOff outside 1..100
	ErrBalanceNegative   = "E204" // gift card balance below zero
	ErrCodeTooShort      = "E205" // gift card code shorter than 4 characters
	ErrEmptyCatalog      = "E206" // no merchandise
)

// ValidationError is one catalog rule violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateCatalog checks the catalog and returns every violation, sorted by
// field for stable output.
func ValidateCatalog(c *Catalog) []ValidationError {
	var errs []ValidationError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	if len(c.Currency) != 3 || strings.ToUpper(c.Currency) != c.Currency {
		add(ErrCurrencyInvalid, "currency", "want a 3-letter upper-case code, got %q", c.Currency)
	}
	if len(c.Merchandise) == 0 {
		add(ErrEmptyCatalog, "merchandise", "at least one merchandise entry is required")
	}
	for id, m := range c.Merchandise {
		if m.Price.IsNegative() {
			add(ErrPriceNegative, "merchandise."+id+".price", "negative price %s", m.Price)
		}
	}
	for code, d := range c.Discounts {
		if d.PercentOff < 1 || d.PercentOff > 100 {
			add(ErrPercentOutOfRange, "discounts."+code+".percentOff", "want 1..100, got %d", d.PercentOff)
		}
	}
	for code, g := range c.GiftCards {
		if g.Balance.IsNegative() {
			add(ErrBalanceNegative, "giftCards."+code+".balance", "negative balance %s", g.Balance)
		}
		if len(code) < 4 {
			add(ErrCodeTooShort, "giftCards."+code, "code must have at least 4 characters")
		}
	}

	sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}
