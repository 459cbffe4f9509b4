package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/engine"
)

// Memory is the reference authoritative backend.
//
// Requests are applied one at a time under a mutex. Requests for an existing
// cart are applied in Sequence order: one that arrives ahead of a missing
// lower sequence waits up to the sequence hold for it, and one that arrives
// after a higher sequence was processed is rejected with OUT_OF_ORDER. A
// snapshot stamped with sequence N therefore reflects every accepted request
// up to N and none after it. Sequence 0 marks an unsequenced request, which
// is applied on arrival and leaves the stamp alone.
//
// A rejected request leaves the cart's content unchanged: every rule is
// checked against a working copy that is only persisted when no field errors
// were produced. Its sequence is still recorded.
type Memory struct {
	mu       sync.Mutex
	catalog  *Catalog
	repo     Repository
	cartIDs  engine.IDGenerator
	lineIDs  engine.IDGenerator
	hold     time.Duration
	advanced chan struct{} // closed and replaced whenever a cart's sequence moves
}

// DefaultSequenceHold is how long a request waits for a missing lower
// sequence before the gap is treated as lost.
const DefaultSequenceHold = 500 * time.Millisecond

// MemoryOption configures a Memory backend.
type MemoryOption func(*Memory)

// WithRepository sets where carts are persisted. Default: MemoryRepository.
func WithRepository(r Repository) MemoryOption {
	return func(m *Memory) {
		m.repo = r
	}
}

// WithCartIDs sets the cart id generator. Ids are used as generated.
func WithCartIDs(g engine.IDGenerator) MemoryOption {
	return func(m *Memory) {
		m.cartIDs = g
	}
}

// WithLineIDs sets the line id generator.
func WithLineIDs(g engine.IDGenerator) MemoryOption {
	return func(m *Memory) {
		m.lineIDs = g
	}
}

// WithSequenceHold sets how long an early request waits for a missing
// lower sequence. Zero applies it at once, so the missing request will be
// rejected if it arrives later. Default: DefaultSequenceHold.
func WithSequenceHold(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.hold = d
	}
}

// NewMemory creates a reference backend pricing against catalog.
func NewMemory(catalog *Catalog, opts ...MemoryOption) *Memory {
	m := &Memory{
		catalog:  catalog,
		repo:     NewMemoryRepository(),
		cartIDs:  prefixedIDs{prefix: "cart-"},
		lineIDs:  prefixedIDs{prefix: "line-"},
		hold:     DefaultSequenceHold,
		advanced: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Catalog returns the catalog the backend prices against.
func (m *Memory) Catalog() *Catalog {
	return m.catalog
}

// Apply executes one mutation request. Rule violations come back as a
// Failure outcome; only repository errors are returned as errors.
func (m *Memory) Apply(ctx context.Context, req cart.Request) (cart.Outcome, error) {
	mut, decodeErr := req.Mutation()
	if decodeErr != nil && req.CartID == "" {
		return cart.Failure(fieldError(cart.CodeInvalid, decodeErr.Error(), "payload")), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		rec *Record
		err error
	)
	if req.CartID == "" {
		rec = &Record{Cart: &cart.Cart{ID: m.cartIDs.Generate()}}
	} else {
		rec, err = m.awaitTurn(ctx, req.CartID, req.Sequence)
		if errors.Is(err, ErrNotFound) {
			return cart.Failure(cart.FieldError{
				Field:   []string{"cartId"},
				Message: fmt.Sprintf("cart %q does not exist", req.CartID),
				Code:    cart.CodeNotFound,
			}), nil
		}
		if err != nil {
			return cart.Outcome{}, fmt.Errorf("load cart: %w", err)
		}
		if req.Sequence > 0 && req.Sequence <= rec.Cart.Sequence {
			slog.Debug("mutation out of order",
				"cart_id", rec.Cart.ID,
				"seq", req.Sequence,
				"processed", rec.Cart.Sequence,
			)
			return cart.Failure(cart.FieldError{
				Field:   []string{"sequence"},
				Message: fmt.Sprintf("sequence %d arrived after %d was processed", req.Sequence, rec.Cart.Sequence),
				Code:    cart.CodeOutOfOrder,
			}), nil
		}
	}

	var before *Record
	if req.CartID != "" && req.Sequence > 0 {
		before = rec.clone()
	}

	var errs []cart.FieldError
	if decodeErr != nil {
		errs = []cart.FieldError{fieldError(cart.CodeInvalid, decodeErr.Error(), "payload")}
	} else {
		errs = m.apply(rec, mut)
	}
	if len(errs) > 0 {
		slog.Debug("mutation rejected",
			"cart_id", rec.Cart.ID,
			"seq", req.Sequence,
			"action", req.Action,
			"errors", len(errs),
		)
		if before != nil {
			before.Cart.Sequence = req.Sequence
			if err := m.store(ctx, before); err != nil {
				return cart.Outcome{}, err
			}
		}
		return cart.Failure(errs...), nil
	}

	m.price(rec)
	if req.Sequence > 0 {
		rec.Cart.Sequence = req.Sequence
	}
	if err := m.store(ctx, rec); err != nil {
		return cart.Outcome{}, err
	}

	slog.Debug("mutation applied",
		"cart_id", rec.Cart.ID,
		"seq", req.Sequence,
		"action", req.Action,
		"total_quantity", rec.Cart.TotalQuantity,
	)
	return cart.Success(rec.Cart.Clone()), nil
}

// store persists rec and wakes requests waiting for their turn.
// Called with m.mu held.
func (m *Memory) store(ctx context.Context, rec *Record) error {
	if err := m.repo.Put(ctx, rec); err != nil {
		return fmt.Errorf("store cart: %w", err)
	}
	close(m.advanced)
	m.advanced = make(chan struct{})
	return nil
}

// awaitTurn loads the cart once every lower sequence has been processed, or
// once the hold expires. Called and returns with m.mu held; the mutex is
// released while waiting.
func (m *Memory) awaitTurn(ctx context.Context, cartID string, seq int64) (*Record, error) {
	var expired <-chan time.Time
	for {
		rec, err := m.repo.Get(ctx, cartID)
		if err != nil {
			return nil, err
		}
		if seq <= rec.Cart.Sequence+1 || m.hold <= 0 {
			return rec, nil
		}
		if expired == nil {
			timer := time.NewTimer(m.hold)
			defer timer.Stop()
			expired = timer.C
		}

		advanced := m.advanced
		m.mu.Unlock()
		select {
		case <-advanced:
			m.mu.Lock()
		case <-expired:
			m.mu.Lock()
			slog.Debug("sequence gap expired", "cart_id", cartID, "seq", seq, "processed", rec.Cart.Sequence)
			return m.repo.Get(ctx, cartID)
		case <-ctx.Done():
			m.mu.Lock()
			return nil, ctx.Err()
		}
	}
}

// Fetch returns the stored cart.
func (m *Memory) Fetch(ctx context.Context, cartID string) (*cart.Cart, error) {
	rec, err := m.repo.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	return rec.Cart, nil
}

// apply mutates rec in place and returns the field errors, if any. On error
// rec must be discarded.
func (m *Memory) apply(rec *Record, mut cart.Mutation) []cart.FieldError {
	c := rec.Cart
	var errs []cart.FieldError

	switch mut := mut.(type) {
	case cart.LinesAdd:
		for i, l := range mut.Lines {
			if _, ok := m.catalog.Merchandise[l.MerchandiseID]; !ok {
				errs = append(errs, fieldError(cart.CodeNotFound, "unknown merchandise "+strconv.Quote(l.MerchandiseID),
					"lines", strconv.Itoa(i), "merchandiseId"))
				continue
			}
			if idx := c.LineByMerchandise(l.MerchandiseID); idx >= 0 {
				c.Lines[idx].Quantity += l.Quantity
				continue
			}
			c.Lines = append(c.Lines, cart.Line{
				ID:            m.lineIDs.Generate(),
				MerchandiseID: l.MerchandiseID,
				Quantity:      l.Quantity,
			})
		}

	case cart.LinesUpdate:
		for i, l := range mut.Lines {
			if !c.SetQuantity(l.ID, l.Quantity) {
				errs = append(errs, fieldError(cart.CodeNotFound, "unknown line "+strconv.Quote(l.ID),
					"lines", strconv.Itoa(i), "id"))
			}
		}

	case cart.LinesRemove:
		for i, id := range mut.LineIDs {
			if !c.RemoveLine(id) {
				errs = append(errs, fieldError(cart.CodeNotFound, "unknown line "+strconv.Quote(id),
					"lineIds", strconv.Itoa(i)))
			}
		}

	case cart.DiscountCodesUpdate:
		c.DiscountCodes = c.DiscountCodes[:0]
		seen := make(map[string]bool)
		for _, code := range mut.DiscountCodes {
			code = strings.TrimSpace(code)
			if seen[code] {
				continue
			}
			seen[code] = true
			c.DiscountCodes = append(c.DiscountCodes, cart.DiscountCode{Code: code})
		}

	case cart.GiftCardCodesUpdate:
		var codes []string
		seen := make(map[string]bool)
		for i, code := range mut.GiftCardCodes {
			code = strings.TrimSpace(code)
			if _, ok := m.catalog.GiftCards[code]; !ok {
				errs = append(errs, fieldError(cart.CodeNotFound, "gift card not found",
					"giftCardCodes", strconv.Itoa(i)))
				continue
			}
			if !seen[code] {
				seen[code] = true
				codes = append(codes, code)
			}
		}
		rec.GiftCardCodes = codes

	default:
		errs = append(errs, fieldError(cart.CodeInvalid, fmt.Sprintf("unsupported mutation %T", mut), "action"))
	}

	return errs
}

// price recomputes line costs, discount applicability, gift card usage and
// totals. Amounts are rounded to cents.
func (m *Memory) price(rec *Record) {
	c := rec.Cart
	cur := m.catalog.Currency
	money := func(d decimal.Decimal) *cart.Money {
		return &cart.Money{Amount: d.Round(2), CurrencyCode: cur}
	}

	subtotal := decimal.Zero
	for i := range c.Lines {
		l := &c.Lines[i]
		cost := m.catalog.Merchandise[l.MerchandiseID].Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		l.Cost = money(cost)
		subtotal = subtotal.Add(cost)
	}

	total := subtotal
	for i := range c.DiscountCodes {
		d, ok := m.catalog.Discounts[c.DiscountCodes[i].Code]
		applicable := ok && subtotal.GreaterThanOrEqual(d.MinSubtotal) && len(c.Lines) > 0
		c.DiscountCodes[i].Applicable = applicable
		if applicable {
			off := subtotal.Mul(decimal.NewFromInt(d.PercentOff)).Div(decimal.NewFromInt(100))
			total = total.Sub(off)
		}
	}
	if total.IsNegative() {
		total = decimal.Zero
	}

	c.AppliedGiftCards = c.AppliedGiftCards[:0]
	for _, code := range rec.GiftCardCodes {
		used := decimal.Min(m.catalog.GiftCards[code].Balance, total)
		total = total.Sub(used)
		c.AppliedGiftCards = append(c.AppliedGiftCards, cart.AppliedGiftCard{
			ID:             giftCardID(code),
			LastCharacters: lastCharacters(code, 4),
			AmountUsed:     money(used),
		})
	}

	c.Cost = cart.Cost{SubtotalAmount: money(subtotal), TotalAmount: money(total)}
	c.RecomputeTotalQuantity()
	c.Normalize()
}

// prefixedIDs produces "<prefix><uuidv7>".
type prefixedIDs struct {
	prefix string
}

func (p prefixedIDs) Generate() string {
	return p.prefix + engine.UUIDv7Generator{}.Generate()
}

func fieldError(code, msg string, field ...string) cart.FieldError {
	return cart.FieldError{Field: field, Message: msg, Code: code}
}

// giftCardID derives a stable id that does not reveal the code.
func giftCardID(code string) string {
	return "giftcard-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(code)).String()
}

func lastCharacters(code string, n int) string {
	r := []rune(code)
	if len(r) <= n {
		return code
	}
	return string(r[len(r)-n:])
}
