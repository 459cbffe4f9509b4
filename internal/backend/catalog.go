package backend

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/shopspring/decimal"
)

//go:embed default_catalog.cue
var defaultCatalogCUE []byte

// Catalog is what the reference backend knows about merchandise, discount
// codes and gift cards.
type Catalog struct {
	Currency    string
	Merchandise map[string]Merchandise
	Discounts   map[string]Discount
	GiftCards   map[string]GiftCard
}

// Merchandise is a purchasable variant.
type Merchandise struct {
	ID    string
	Title string
	Price decimal.Decimal
}

// Discount is a percent-off code. It applies when the subtotal reaches
// MinSubtotal.
type Discount struct {
	Code        string
	PercentOff  int64
	MinSubtotal decimal.Decimal
}

// GiftCard is a redeemable balance.
type GiftCard struct {
	Code    string
	Balance decimal.Decimal
}

// DefaultCatalog returns the catalog bundled with the binary.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogCUE, "default_catalog.cue")
	if err != nil {
		panic(fmt.Sprintf("bundled catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog reads and compiles a CUE catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data, path)
}

// ParseCatalog compiles CUE source into a Catalog and validates it.
func ParseCatalog(src []byte, filename string) (*Catalog, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	c, err := CompileCatalog(v)
	if err != nil {
		return nil, err
	}
	if errs := ValidateCatalog(c); len(errs) > 0 {
		return nil, errs[0]
	}
	return c, nil
}

// CompileCatalog parses a CUE value into a Catalog.
//
// Expected shape:
//
//	currency: "USD"
//	merchandise: [ID=string]: {title: string, price: string}
//	discounts: [CODE=string]: {percentOff: int, minSubtotal?: string}
//	giftCards: [CODE=string]: {balance: string}
//
// Amounts are decimal strings; CUE floats are rejected.
func CompileCatalog(v cue.Value) (*Catalog, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	c := &Catalog{
		Merchandise: make(map[string]Merchandise),
		Discounts:   make(map[string]Discount),
		GiftCards:   make(map[string]GiftCard),
	}

	currency, err := requiredString(v, "currency")
	if err != nil {
		return nil, err
	}
	c.Currency = currency

	err = eachField(v, "merchandise", func(id string, f cue.Value) error {
		title, err := optionalString(f, "title")
		if err != nil {
			return err
		}
		price, err := requiredAmount(f, "price")
		if err != nil {
			return err
		}
		c.Merchandise[id] = Merchandise{ID: id, Title: title, Price: price}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachField(v, "discounts", func(code string, f cue.Value) error {
		pv := f.LookupPath(cue.ParsePath("percentOff"))
		if !pv.Exists() {
			return &CompileError{Field: "percentOff", Message: "percentOff is required", Pos: f.Pos()}
		}
		pct, err := pv.Int64()
		if err != nil {
			return &CompileError{Field: "percentOff", Message: "percentOff must be an int", Pos: pv.Pos()}
		}
		minSub := decimal.Zero
		if mv := f.LookupPath(cue.ParsePath("minSubtotal")); mv.Exists() {
			if minSub, err = amount(mv, "minSubtotal"); err != nil {
				return err
			}
		}
		c.Discounts[code] = Discount{Code: code, PercentOff: pct, MinSubtotal: minSub}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachField(v, "giftCards", func(code string, f cue.Value) error {
		bal, err := requiredAmount(f, "balance")
		if err != nil {
			return err
		}
		c.GiftCards[code] = GiftCard{Code: code, Balance: bal}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// MerchandiseIDs returns merchandise ids in sorted order.
func (c *Catalog) MerchandiseIDs() []string {
	ids := make([]string, 0, len(c.Merchandise))
	for id := range c.Merchandise {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func eachField(v cue.Value, path string, fn func(label string, f cue.Value) error) error {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return nil
	}
	iter, err := fv.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Selector().Unquoted(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func requiredAmount(v cue.Value, field string) (decimal.Decimal, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return decimal.Decimal{}, &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	return amount(fv, field)
}

func amount(v cue.Value, field string) (decimal.Decimal, error) {
	if v.IncompleteKind() == cue.FloatKind || v.IncompleteKind() == cue.NumberKind {
		return decimal.Decimal{}, &CompileError{Field: field, Message: "amounts must be decimal strings, not floats", Pos: v.Pos()}
	}
	s, err := v.String()
	if err != nil {
		return decimal.Decimal{}, formatCUEError(err)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &CompileError{Field: field, Message: fmt.Sprintf("invalid amount %q", s), Pos: v.Pos()}
	}
	return d, nil
}

// CompileError is a catalog compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
