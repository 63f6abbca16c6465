// Package storetest holds a conformance suite run against every
// ledger.TxStore implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/shop-engine/ledger"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) ledger.TxStore

var base = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func item(id, name string, qty int) ledger.CatalogItem {
	return ledger.CatalogItem{
		ID:          ledger.ItemID(id),
		Name:        name,
		Category:    "grocery",
		Unit:        "kg",
		Quantity:    qty,
		MinQuantity: 2,
		UnitPrice:   decimal.RequireFromString("12.50"),
		Discount:    decimal.Zero,
		Active:      true,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("ItemRoundTrip", func(t *testing.T) { testItemRoundTrip(t, newStore(t)) })
	t.Run("AdjustStockGuard", func(t *testing.T) { testAdjustStockGuard(t, newStore(t)) })
	t.Run("ListItemsFilters", func(t *testing.T) { testListItemsFilters(t, newStore(t)) })
	t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
	t.Run("EntriesNewestFirst", func(t *testing.T) { testEntriesNewestFirst(t, newStore(t)) })
	t.Run("SaleStatusTransition", func(t *testing.T) { testSaleStatusTransition(t, newStore(t)) })
	t.Run("CreditLinesDelete", func(t *testing.T) { testCreditLinesDelete(t, newStore(t)) })
	t.Run("LayawayLifecycle", func(t *testing.T) { testLayawayLifecycle(t, newStore(t)) })
	t.Run("Customers", func(t *testing.T) { testCustomers(t, newStore(t)) })
}

func testItemRoundTrip(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	expiry := base.Add(72 * time.Hour)
	in := item("rice", "Rice", 10)
	in.Expiry = &expiry
	in.Discount = decimal.NewFromInt(10)

	require.NoError(t, s.InsertItem(ctx, in))
	assert.ErrorIs(t, s.InsertItem(ctx, in), ledger.ErrInvalidInput, "duplicate id")

	got, err := s.GetItem(ctx, "rice")
	require.NoError(t, err)
	assert.Equal(t, "Rice", got.Name)
	assert.Equal(t, 10, got.Quantity)
	assert.True(t, got.UnitPrice.Equal(in.UnitPrice))
	assert.True(t, got.Discount.Equal(in.Discount))
	require.NotNil(t, got.Expiry)
	assert.True(t, got.Expiry.Equal(expiry))
	assert.True(t, got.Active)
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = s.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// metadata update never touches quantity
	got.Name = "Brown Rice"
	got.Quantity = 999
	got.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, s.UpdateItemDetails(ctx, got))
	again, err := s.GetItem(ctx, "rice")
	require.NoError(t, err)
	assert.Equal(t, "Brown Rice", again.Name)
	assert.Equal(t, 10, again.Quantity)

	require.NoError(t, s.SetItemActive(ctx, "rice", false))
	again, err = s.GetItem(ctx, "rice")
	require.NoError(t, err)
	assert.False(t, again.Active)
}

func testAdjustStockGuard(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertItem(ctx, item("beans", "Beans", 3)))

	qty, err := s.AdjustStock(ctx, "beans", -2)
	require.NoError(t, err)
	assert.Equal(t, 1, qty)

	_, err = s.AdjustStock(ctx, "beans", -2)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	var se *ledger.InsufficientStockError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "Beans", se.ItemName)
	assert.Equal(t, 1, se.Available)
	assert.Equal(t, 2, se.Requested)

	qty, err = s.AdjustStock(ctx, "beans", 5)
	require.NoError(t, err)
	assert.Equal(t, 6, qty)

	_, err = s.AdjustStock(ctx, "ghost", 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testListItemsFilters(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	soon := base.Add(24 * time.Hour)
	late := base.Add(90 * 24 * time.Hour)

	milk := item("milk", "Milk", 1)
	milk.Expiry = &soon
	flour := item("flour", "Flour", 20)
	flour.Expiry = &late
	oil := item("oil", "Oil", 5)
	oil.Active = false

	for _, it := range []ledger.CatalogItem{milk, flour, oil} {
		require.NoError(t, s.InsertItem(ctx, it))
	}

	all, err := s.ListItems(ctx, ledger.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ledger.ItemID("flour"), all[0].ID, "sorted by name")

	withInactive, err := s.ListItems(ctx, ledger.ItemFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, withInactive, 3)

	low, err := s.ListItems(ctx, ledger.ItemFilter{LowStockOnly: true})
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, ledger.ItemID("milk"), low[0].ID)

	cutoff := base.Add(7 * 24 * time.Hour)
	expiring, err := s.ListItems(ctx, ledger.ItemFilter{ExpiringBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, ledger.ItemID("milk"), expiring[0].ID)

	found, err := s.ListItems(ctx, ledger.ItemFilter{Search: "FLO"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ledger.ItemID("flour"), found[0].ID)
}

func testWithTxRollback(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertItem(ctx, item("sugar", "Sugar", 4)))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.AdjustStock(ctx, "sugar", -3); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, ledger.LedgerEntry{
			ID: "e1", ItemID: "sugar", ItemSnapshot: "Sugar", Direction: ledger.DirectionOut,
			Quantity: 3, Reason: "test", UserID: "u1", UserSnapshot: "Ana", CreatedAt: base,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetItem(ctx, "sugar")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Quantity, "quantity restored")
	entries, err := s.EntriesByItem(ctx, "sugar")
	require.NoError(t, err)
	assert.Empty(t, entries, "entry rolled back")

	err = s.WithTx(ctx, func(tx ledger.Store) error {
		_, err := tx.AdjustStock(ctx, "sugar", -1)
		return err
	})
	require.NoError(t, err)
	got, err = s.GetItem(ctx, "sugar")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Quantity)
}

func testEntriesNewestFirst(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertItem(ctx, item("tea", "Tea", 10)))
	require.NoError(t, s.InsertItem(ctx, item("coffee", "Coffee", 10)))

	add := func(id, itemID string, dir ledger.Direction, at time.Time, reason string) {
		require.NoError(t, s.AppendEntry(ctx, ledger.LedgerEntry{
			ID: ledger.EntryID(id), ItemID: ledger.ItemID(itemID), ItemSnapshot: itemID,
			Direction: dir, Quantity: 1, Reason: reason, UserID: "u1", UserSnapshot: "Ana", CreatedAt: at,
		}))
	}
	add("e1", "tea", ledger.DirectionIn, base, "delivery")
	add("e2", "tea", ledger.DirectionOut, base.Add(time.Minute), "kitchen")
	add("e3", "coffee", ledger.DirectionOut, base.Add(2*time.Minute), "kitchen")
	add("e4", "tea", ledger.DirectionOut, base.Add(2*time.Minute), "spoiled")

	tea, err := s.EntriesByItem(ctx, "tea")
	require.NoError(t, err)
	require.Len(t, tea, 3)
	assert.Equal(t, ledger.EntryID("e4"), tea[0].ID)
	assert.Equal(t, ledger.EntryID("e1"), tea[2].ID)

	all, err := s.QueryEntries(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ledger.EntryID("e4"), all[0].ID, "ties broken by insertion order")
	assert.Equal(t, ledger.EntryID("e3"), all[1].ID)

	outs, err := s.QueryEntries(ctx, ledger.EntryFilter{Direction: ledger.DirectionOut, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, outs, 2)

	from := base.Add(30 * time.Second)
	to := base.Add(2 * time.Minute)
	window, err := s.QueryEntries(ctx, ledger.EntryFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, ledger.EntryID("e2"), window[0].ID)

	spoiled, err := s.QueryEntries(ctx, ledger.EntryFilter{Search: "spoil"})
	require.NoError(t, err)
	require.Len(t, spoiled, 1)
	assert.Equal(t, ledger.EntryID("e4"), spoiled[0].ID)
}

func testSaleStatusTransition(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertItem(ctx, item("book", "Book", 5)))

	cust := ledger.CustomerID("c1")
	sale := ledger.Sale{
		ID: "s1", ItemID: "book", CustomerID: &cust, ItemSnapshot: "Book",
		CustomerSnapshot: "Lucia", SellerID: "u1", SellerSnapshot: "Ana",
		Price: decimal.RequireFromString("30.00"), Status: ledger.SaleApproved,
		Origin: ledger.OriginPOS, CreatedAt: base,
	}
	require.NoError(t, s.InsertSale(ctx, sale))
	walkIn := sale
	walkIn.ID = "s2"
	walkIn.CustomerID = nil
	walkIn.CustomerSnapshot = ledger.WalkInCustomer
	walkIn.CreatedAt = base.Add(time.Hour)
	require.NoError(t, s.InsertSale(ctx, walkIn))

	got, err := s.GetSale(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.CustomerID)
	assert.Equal(t, cust, *got.CustomerID)
	assert.True(t, got.Price.Equal(sale.Price))

	got, err = s.GetSale(ctx, "s2")
	require.NoError(t, err)
	assert.Nil(t, got.CustomerID)

	require.NoError(t, s.SetSaleStatus(ctx, "s1", ledger.SaleApproved, ledger.SaleCancelled))
	err = s.SetSaleStatus(ctx, "s1", ledger.SaleApproved, ledger.SaleCancelled)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	err = s.SetSaleStatus(ctx, "nope", ledger.SaleApproved, ledger.SaleCancelled)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	approved, err := s.SalesInRange(ctx, base, base.Add(24*time.Hour), ledger.SaleApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, ledger.SaleID("s2"), approved[0].ID)

	every, err := s.SalesInRange(ctx, base, base.Add(time.Hour), "")
	require.NoError(t, err)
	require.Len(t, every, 1, "end bound is exclusive")
	assert.Equal(t, ledger.SaleID("s1"), every[0].ID)
}

func testCreditLinesDelete(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertItem(ctx, item("bread", "Bread", 5)))
	require.NoError(t, s.SaveCustomer(ctx, ledger.Customer{ID: "c1", Name: "Lucia", CreatedAt: base}))
	require.NoError(t, s.SaveCustomer(ctx, ledger.Customer{ID: "c2", Name: "Pedro", CreatedAt: base}))

	for i, c := range []ledger.CustomerID{"c1", "c1", "c2"} {
		require.NoError(t, s.InsertCreditLine(ctx, ledger.CreditLine{
			ID: ledger.CreditLineID([]string{"l1", "l2", "l3"}[i]), CustomerID: c, ItemID: "bread",
			ItemSnapshot: "Bread", Price: decimal.NewFromInt(2), CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	lines, err := s.CreditLines(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, ledger.CreditLineID("l1"), lines[0].ID)

	// l3 belongs to c2 and must survive
	n, err := s.DeleteCreditLines(ctx, "c1", []ledger.CreditLineID{"l1", "l2", "l3"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines, err = s.CreditLines(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, lines)
	lines, err = s.CreditLines(ctx, "c2")
	require.NoError(t, err)
	assert.Len(t, lines, 1)

	n, err = s.DeleteCreditLines(ctx, "c1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testLayawayLifecycle(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertItem(ctx, item("novel", "Novel", 5)))

	cust := ledger.CustomerID("c1")
	header := ledger.LayawaySale{
		ID: "lw1", CustomerID: &cust, CustomerSnapshot: "Lucia", SellerID: "u1", SellerSnapshot: "Ana",
		Total: decimal.NewFromInt(100), Paid: decimal.NewFromInt(20), Status: ledger.LayawayPending,
		CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, s.InsertLayaway(ctx, header))
	require.NoError(t, s.InsertLayawayDetail(ctx, ledger.LayawayDetail{
		ID: "d1", SaleID: "lw1", ItemID: "novel", TitleSnapshot: "Novel",
		UnitPrice: decimal.NewFromInt(100), DiscountApplied: decimal.Zero, FinalPrice: decimal.NewFromInt(100),
	}))
	require.NoError(t, s.InsertPayment(ctx, ledger.Abono{
		ID: "p1", SaleID: "lw1", Amount: decimal.NewFromInt(30), UserID: "u1", UserSnapshot: "Ana",
		CreatedAt: base.Add(time.Hour),
	}))

	header.Paid = decimal.NewFromInt(50)
	header.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, s.UpdateLayaway(ctx, header))

	got, err := s.LockLayaway(ctx, "lw1")
	require.NoError(t, err)
	assert.True(t, got.Paid.Equal(decimal.NewFromInt(50)))
	assert.True(t, got.Remaining().Equal(decimal.NewFromInt(50)))

	details, err := s.LayawayDetails(ctx, "lw1")
	require.NoError(t, err)
	require.Len(t, details, 1)
	payments, err := s.Payments(ctx, "lw1")
	require.NoError(t, err)
	require.Len(t, payments, 1)

	pending, err := s.ListLayaways(ctx, ledger.LayawayFilter{Status: ledger.LayawayPending, CustomerID: &cust})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	paid, err := s.ListLayaways(ctx, ledger.LayawayFilter{Status: ledger.LayawayPaid})
	require.NoError(t, err)
	assert.Empty(t, paid)

	_, err = s.GetLayaway(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testCustomers(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveCustomer(ctx, ledger.Customer{ID: "c1", Name: "Lucia", Phone: "555", CreatedAt: base}))
	require.NoError(t, s.SaveCustomer(ctx, ledger.Customer{ID: "c1", Name: "Lucía M.", Phone: "556", CreatedAt: base}))

	c, err := s.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Lucía M.", c.Name)
	assert.Equal(t, "556", c.Phone)

	all, err := s.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteCustomer(ctx, "c1"))
	assert.ErrorIs(t, s.DeleteCustomer(ctx, "c1"), ledger.ErrNotFound)
	_, err = s.GetCustomer(ctx, "c1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
