package ledger

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// ENGINE OPTIONS - Shared by pantry, sales, credit and layaway
// =============================================================================

// Options carries the ambient dependencies of an engine.
type Options struct {
	Log logrus.FieldLogger
	Now func() time.Time
}

// Option configures an engine.
type Option func(*Options)

// WithLogger sets the engine logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *Options) { o.Log = log }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// BuildOptions applies opts over the defaults: a discarding logger and
// the wall clock in UTC.
func BuildOptions(opts ...Option) Options {
	o := Options{
		Log: DiscardLogger(),
		Now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DiscardLogger returns a logger that writes nowhere.
func DiscardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// =============================================================================
// STOCK HELPERS - Run inside WithTx
// =============================================================================

// Withdraw locks an item, verifies it is active and has qty on hand, and
// decrements it. The returned item carries the quantity after the
// decrement. Two guards apply: the comparison against the locked row
// (which yields the descriptive error) and the guarded AdjustStock.
func Withdraw(ctx context.Context, tx Store, id ItemID, qty int) (CatalogItem, error) {
	item, err := tx.LockItem(ctx, id)
	if err != nil {
		return CatalogItem{}, err
	}
	if !item.Active {
		return CatalogItem{}, fmt.Errorf("item %q: %w", item.Name, ErrInactiveItem)
	}
	if qty > item.Quantity {
		return CatalogItem{}, &InsufficientStockError{
			ItemID:    id,
			ItemName:  item.Name,
			Available: item.Quantity,
			Requested: qty,
		}
	}
	item.Quantity, err = tx.AdjustStock(ctx, id, -qty)
	if err != nil {
		return CatalogItem{}, err
	}
	return item, nil
}

// Restore puts qty units back on hand. Inactive items accept restores.
func Restore(ctx context.Context, tx Store, id ItemID, qty int) (int, error) {
	if _, err := tx.LockItem(ctx, id); err != nil {
		return 0, err
	}
	return tx.AdjustStock(ctx, id, qty)
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

// ValidateQuantity rejects non-positive quantities.
func ValidateQuantity(field string, qty int) error {
	if qty <= 0 {
		return &AmountError{Field: field, Value: fmt.Sprint(qty), Reason: "must be a positive integer"}
	}
	return nil
}

// ValidateCart rejects empty carts and non-positive lines.
func ValidateCart(lines []CartLine) error {
	if len(lines) == 0 {
		return &InputError{Field: "cart", Reason: "at least one line is required"}
	}
	for i, l := range lines {
		if strings.TrimSpace(string(l.ItemID)) == "" {
			return &InputError{Field: fmt.Sprintf("cart[%d].item_id", i), Reason: "is required"}
		}
		if err := ValidateQuantity(fmt.Sprintf("cart[%d].quantity", i), l.Quantity); err != nil {
			return err
		}
		if l.UnitPrice.IsNegative() {
			return &AmountError{Field: fmt.Sprintf("cart[%d].unit_price", i), Value: l.UnitPrice.String(), Reason: "must not be negative"}
		}
	}
	return nil
}
