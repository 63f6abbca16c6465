/*
pantry.go - Stock ledger for consumable items (Kardex)

PURPOSE:
  Tracks the quantity on hand of pantry articles and records every
  increment and decrement as a dated, reasoned, attributed LedgerEntry.
  Quantity and ledger always move together: each operation is one
  WithTx unit, so either both the quantity and its entry are written
  or neither is.

OPERATIONS:
  CreateItem:           new article; initial stock is booked as an IN entry
  UpdateItem:           metadata only, never quantity
  RecordMovement:       one IN or OUT adjustment
  RecordBulkWithdrawal: many OUT adjustments, all-or-nothing ("care package")
  History:              one item's Kardex, newest first
  GlobalHistory:        filtered entries across items, capped at MaxGlobalHistory
  Deactivate:           soft delete; history is kept

LOCKING:
  Every OUT path reads the item with LockItem before checking
  sufficiency and decrements through the guarded AdjustStock, so two
  concurrent withdrawals cannot both pass on a stale quantity.

SEE ALSO:
  - ledger/engine.go: Withdraw and Restore helpers
  - ledger/snapshot.go: user and item snapshots
*/
package pantry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/shop-engine/ledger"
)

const (
	// MaxGlobalHistory bounds GlobalHistory responses. It is a safety cap,
	// not a pagination contract.
	MaxGlobalHistory = 500

	// InitialStockReason tags the IN entry written by CreateItem.
	InitialStockReason = "initial stock"
)

// NewItem describes a catalog item to create.
type NewItem struct {
	Name            string
	Category        string
	Unit            string
	InitialQuantity int
	MinQuantity     int
	UnitPrice       decimal.Decimal
	Discount        decimal.Decimal
	Expiry          *time.Time
}

// ItemUpdate carries metadata changes. Nil fields are left unchanged.
type ItemUpdate struct {
	Name        *string
	Category    *string
	Unit        *string
	MinQuantity *int
	UnitPrice   *decimal.Decimal
	Discount    *decimal.Decimal
	Expiry      *time.Time
	ClearExpiry bool
}

// Withdrawal is one line of a bulk withdrawal.
type Withdrawal struct {
	ItemID   ledger.ItemID
	Quantity int
}

// Engine is the pantry stock ledger.
type Engine struct {
	store ledger.TxStore
	Log   logrus.FieldLogger
	Now   func() time.Time
}

// New creates a pantry engine over store.
func New(store ledger.TxStore, opts ...ledger.Option) *Engine {
	o := ledger.BuildOptions(opts...)
	return &Engine{store: store, Log: o.Log.WithField("module", "pantry"), Now: o.Now}
}

// =============================================================================
// CATALOG
// =============================================================================

// CreateItem adds an item. If InitialQuantity > 0 an IN entry with reason
// "initial stock" is written in the same transaction, so every unit on
// hand is traceable to a ledger row.
func (e *Engine) CreateItem(ctx context.Context, in NewItem, actor ledger.Actor) (ledger.CatalogItem, error) {
	if err := validateNewItem(in); err != nil {
		return ledger.CatalogItem{}, err
	}
	if in.InitialQuantity > 0 {
		if err := ledger.ValidateActor(actor); err != nil {
			return ledger.CatalogItem{}, err
		}
	}

	now := e.Now()
	item := ledger.CatalogItem{
		ID:          ledger.ItemID(ledger.NewID()),
		Name:        strings.TrimSpace(in.Name),
		Category:    strings.TrimSpace(in.Category),
		Unit:        strings.TrimSpace(in.Unit),
		Quantity:    0,
		MinQuantity: in.MinQuantity,
		UnitPrice:   in.UnitPrice,
		Discount:    in.Discount,
		Expiry:      in.Expiry,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		if in.InitialQuantity == 0 {
			return nil
		}
		qty, err := tx.AdjustStock(ctx, item.ID, in.InitialQuantity)
		if err != nil {
			return err
		}
		item.Quantity = qty
		return tx.AppendEntry(ctx, e.entry(item, ledger.DirectionIn, in.InitialQuantity, InitialStockReason, actor, now))
	})
	if err != nil {
		return ledger.CatalogItem{}, fmt.Errorf("create item: %w", err)
	}

	e.Log.WithFields(logrus.Fields{
		"op": "create_item", "item_id": item.ID, "name": item.Name, "quantity": item.Quantity,
	}).Info("item created")
	return item, nil
}

// UpdateItem edits non-quantity metadata.
func (e *Engine) UpdateItem(ctx context.Context, id ledger.ItemID, upd ItemUpdate) (ledger.CatalogItem, error) {
	var item ledger.CatalogItem
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		item, err = tx.LockItem(ctx, id)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			item.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Category != nil {
			item.Category = strings.TrimSpace(*upd.Category)
		}
		if upd.Unit != nil {
			item.Unit = strings.TrimSpace(*upd.Unit)
		}
		if upd.MinQuantity != nil {
			item.MinQuantity = *upd.MinQuantity
		}
		if upd.UnitPrice != nil {
			item.UnitPrice = *upd.UnitPrice
		}
		if upd.Discount != nil {
			item.Discount = *upd.Discount
		}
		if upd.ClearExpiry {
			item.Expiry = nil
		} else if upd.Expiry != nil {
			item.Expiry = upd.Expiry
		}
		if err := validateMetadata(item.Name, item.MinQuantity, item.UnitPrice, item.Discount); err != nil {
			return err
		}
		item.UpdatedAt = e.Now()
		return tx.UpdateItemDetails(ctx, item)
	})
	if err != nil {
		return ledger.CatalogItem{}, fmt.Errorf("update item %s: %w", id, err)
	}
	e.Log.WithFields(logrus.Fields{"op": "update_item", "item_id": id}).Info("item updated")
	return item, nil
}

// Get returns one item, active or not.
func (e *Engine) Get(ctx context.Context, id ledger.ItemID) (ledger.CatalogItem, error) {
	return e.store.GetItem(ctx, id)
}

// ListItems lists the catalog. Inactive items are excluded unless asked for.
func (e *Engine) ListItems(ctx context.Context, filter ledger.ItemFilter) ([]ledger.CatalogItem, error) {
	return e.store.ListItems(ctx, filter)
}

// LowStock lists active items at or below their minimum quantity.
func (e *Engine) LowStock(ctx context.Context) ([]ledger.CatalogItem, error) {
	return e.store.ListItems(ctx, ledger.ItemFilter{LowStockOnly: true})
}

// Expiring lists active items whose expiry falls within the given window.
// Already expired items are included.
func (e *Engine) Expiring(ctx context.Context, within time.Duration) ([]ledger.CatalogItem, error) {
	cutoff := e.Now().Add(within)
	return e.store.ListItems(ctx, ledger.ItemFilter{ExpiringBefore: &cutoff})
}

// Deactivate soft-deletes an item. Its ledger history is untouched.
func (e *Engine) Deactivate(ctx context.Context, id ledger.ItemID) error {
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		return tx.SetItemActive(ctx, id, false)
	})
	if err != nil {
		return fmt.Errorf("deactivate item %s: %w", id, err)
	}
	e.Log.WithFields(logrus.Fields{"op": "deactivate", "item_id": id}).Info("item deactivated")
	return nil
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// RecordMovement adjusts one item's quantity and writes exactly one entry.
// OUT movements larger than the quantity on hand fail with an
// InsufficientStockError naming the item and both quantities.
func (e *Engine) RecordMovement(ctx context.Context, id ledger.ItemID, dir ledger.Direction, qty int, reason string, actor ledger.Actor) (ledger.LedgerEntry, error) {
	if !dir.Valid() {
		return ledger.LedgerEntry{}, &ledger.InputError{Field: "direction", Reason: fmt.Sprintf("%q is not IN or OUT", dir)}
	}
	if err := validateMovement(qty, reason, actor); err != nil {
		return ledger.LedgerEntry{}, err
	}
	reason = strings.TrimSpace(reason)

	var entry ledger.LedgerEntry
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		var (
			item ledger.CatalogItem
			err  error
		)
		if dir == ledger.DirectionOut {
			item, err = ledger.Withdraw(ctx, tx, id, qty)
		} else {
			item, err = e.receive(ctx, tx, id, qty)
		}
		if err != nil {
			return err
		}
		entry = e.entry(item, dir, qty, reason, actor, e.Now())
		return tx.AppendEntry(ctx, entry)
	})
	if err != nil {
		e.Log.WithFields(logrus.Fields{
			"op": "record_movement", "item_id": id, "direction": dir, "quantity": qty,
		}).WithError(err).Warn("movement rejected")
		return ledger.LedgerEntry{}, fmt.Errorf("record movement: %w", err)
	}

	e.Log.WithFields(logrus.Fields{
		"op": "record_movement", "item_id": id, "direction": dir, "quantity": qty, "entry_id": entry.ID,
	}).Info("movement recorded")
	return entry, nil
}

// RecordBulkWithdrawal withdraws several items as one unit. If any line
// is unknown, inactive or short, nothing is withdrawn and no entry is
// written.
func (e *Engine) RecordBulkWithdrawal(ctx context.Context, lines []Withdrawal, reason string, actor ledger.Actor) ([]ledger.LedgerEntry, error) {
	if len(lines) == 0 {
		return nil, &ledger.InputError{Field: "items", Reason: "at least one item is required"}
	}
	for i, l := range lines {
		if err := ledger.ValidateQuantity(fmt.Sprintf("items[%d].quantity", i), l.Quantity); err != nil {
			return nil, err
		}
	}
	if err := validateMovement(1, reason, actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)

	var entries []ledger.LedgerEntry
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		now := e.Now()
		for _, l := range lines {
			item, err := ledger.Withdraw(ctx, tx, l.ItemID, l.Quantity)
			if err != nil {
				return err
			}
			entry := e.entry(item, ledger.DirectionOut, l.Quantity, reason, actor, now)
			if err := tx.AppendEntry(ctx, entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		e.Log.WithFields(logrus.Fields{
			"op": "bulk_withdrawal", "lines": len(lines),
		}).WithError(err).Warn("bulk withdrawal rejected")
		return nil, fmt.Errorf("bulk withdrawal: %w", err)
	}

	e.Log.WithFields(logrus.Fields{
		"op": "bulk_withdrawal", "lines": len(lines), "reason": reason,
	}).Info("bulk withdrawal recorded")
	return entries, nil
}

// =============================================================================
// HISTORY
// =============================================================================

// History returns an item's entries, newest first.
func (e *Engine) History(ctx context.Context, id ledger.ItemID) ([]ledger.LedgerEntry, error) {
	if _, err := e.store.GetItem(ctx, id); err != nil {
		return nil, err
	}
	return e.store.EntriesByItem(ctx, id)
}

// GlobalHistory returns at most MaxGlobalHistory entries across all items,
// newest first. A smaller filter.Limit is honored.
func (e *Engine) GlobalHistory(ctx context.Context, filter ledger.EntryFilter) ([]ledger.LedgerEntry, error) {
	if filter.Direction != "" && !filter.Direction.Valid() {
		return nil, &ledger.InputError{Field: "direction", Reason: fmt.Sprintf("%q is not IN or OUT", filter.Direction)}
	}
	if filter.Limit <= 0 || filter.Limit > MaxGlobalHistory {
		filter.Limit = MaxGlobalHistory
	}
	return e.store.QueryEntries(ctx, filter)
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) receive(ctx context.Context, tx ledger.Store, id ledger.ItemID, qty int) (ledger.CatalogItem, error) {
	item, err := tx.LockItem(ctx, id)
	if err != nil {
		return ledger.CatalogItem{}, err
	}
	if !item.Active {
		return ledger.CatalogItem{}, fmt.Errorf("item %q: %w", item.Name, ledger.ErrInactiveItem)
	}
	item.Quantity, err = tx.AdjustStock(ctx, id, qty)
	return item, err
}

func (e *Engine) entry(item ledger.CatalogItem, dir ledger.Direction, qty int, reason string, actor ledger.Actor, at time.Time) ledger.LedgerEntry {
	return ledger.LedgerEntry{
		ID:           ledger.EntryID(ledger.NewID()),
		ItemID:       item.ID,
		ItemSnapshot: ledger.ItemSnapshot(item),
		Direction:    dir,
		Quantity:     qty,
		Reason:       reason,
		UserID:       actor.ID,
		UserSnapshot: ledger.ActorSnapshot(actor),
		CreatedAt:    at,
	}
}

func validateMovement(qty int, reason string, actor ledger.Actor) error {
	if err := ledger.ValidateQuantity("quantity", qty); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return &ledger.InputError{Field: "reason", Reason: "must not be empty"}
	}
	return ledger.ValidateActor(actor)
}

func validateNewItem(in NewItem) error {
	if in.InitialQuantity < 0 {
		return &ledger.AmountError{Field: "initial_quantity", Value: fmt.Sprint(in.InitialQuantity), Reason: "must not be negative"}
	}
	return validateMetadata(in.Name, in.MinQuantity, in.UnitPrice, in.Discount)
}

func validateMetadata(name string, minQty int, price, discount decimal.Decimal) error {
	if strings.TrimSpace(name) == "" {
		return &ledger.InputError{Field: "name", Reason: "must not be empty"}
	}
	if minQty < 0 {
		return &ledger.AmountError{Field: "min_quantity", Value: fmt.Sprint(minQty), Reason: "must not be negative"}
	}
	if price.IsNegative() {
		return &ledger.AmountError{Field: "unit_price", Value: price.String(), Reason: "must not be negative"}
	}
	if discount.IsNegative() || discount.GreaterThan(decimal.NewFromInt(100)) {
		return &ledger.AmountError{Field: "discount", Value: discount.String(), Reason: "must be between 0 and 100"}
	}
	return nil
}
