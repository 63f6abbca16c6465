package credit_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/shop-engine/credit"
	"github.com/warp/shop-engine/ledger"
	"github.com/warp/shop-engine/ledger/store"
	"github.com/warp/shop-engine/store/sqlite"
)

var (
	shopkeeper = ledger.Actor{ID: "u-2", Name: "Don Julio"}
	opened     = time.Date(2025, time.May, 5, 8, 0, 0, 0, time.UTC)
)

func newTestStore(t *testing.T) *sqlite.Store {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T, fn func(t *testing.T, s ledger.TxStore)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, store.NewMemory()) })
}

func seed(t *testing.T, s ledger.Store) (bread, milk ledger.ItemID, lucia ledger.CustomerID) {
	ctx := context.Background()
	for _, it := range []ledger.CatalogItem{
		{ID: "bread", Name: "Bread", Quantity: 10, UnitPrice: decimal.RequireFromString("0.80"), Active: true, CreatedAt: opened, UpdatedAt: opened},
		{ID: "milk", Name: "Milk", Quantity: 10, UnitPrice: decimal.RequireFromString("1.10"), Active: true, CreatedAt: opened, UpdatedAt: opened},
	} {
		require.NoError(t, s.InsertItem(ctx, it))
	}
	require.NoError(t, s.SaveCustomer(ctx, ledger.Customer{ID: "c-1", Name: "Lucia", CreatedAt: opened}))
	return "bread", "milk", "c-1"
}

func TestCharge_NoStockMutation(t *testing.T) {
	// GIVEN: A customer buying on credit
	// WHEN: Charging 3 bread and 1 milk
	// THEN: 4 open lines exist and stock is unchanged

	backends(t, func(t *testing.T, s ledger.TxStore) {
		ctx := context.Background()
		e := credit.New(s)
		bread, milk, lucia := seed(t, s)

		lines, err := e.Charge(ctx, lucia, []ledger.CartLine{
			{ItemID: bread, Quantity: 3},
			{ItemID: milk, Quantity: 1, UnitPrice: decimal.RequireFromString("1.00")},
		})
		require.NoError(t, err)
		require.Len(t, lines, 4)
		assert.Equal(t, "Bread", lines[0].ItemSnapshot)

		owed, err := e.Outstanding(ctx, lucia)
		require.NoError(t, err)
		assert.True(t, owed.Equal(decimal.RequireFromString("3.40")), "3 x 0.80 + 1.00, got %s", owed)

		for _, id := range []ledger.ItemID{bread, milk} {
			item, err := s.GetItem(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, 10, item.Quantity)
		}
	})
}

func TestCharge_Rejections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := credit.New(s)
	bread, _, lucia := seed(t, s)

	_, err := e.Charge(ctx, "ghost", []ledger.CartLine{{ItemID: bread, Quantity: 1}})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = e.Charge(ctx, lucia, []ledger.CartLine{{ItemID: "ghost", Quantity: 1}})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = e.Charge(ctx, lucia, []ledger.CartLine{{ItemID: bread, Quantity: -1}})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = e.Charge(ctx, lucia, []ledger.CartLine{
		{ItemID: bread, Quantity: 1},
		{ItemID: "ghost", Quantity: 1},
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	owed, err := e.Outstanding(ctx, lucia)
	require.NoError(t, err)
	assert.True(t, owed.IsZero(), "failed charges leave no lines")
}

func TestSettle_RoundTrip(t *testing.T) {
	// GIVEN: A customer with 3 open lines
	// WHEN: Settling
	// THEN: No open lines remain and 3 SETTLEMENT sales exist at the same prices

	backends(t, func(t *testing.T, s ledger.TxStore) {
		ctx := context.Background()
		e := credit.New(s, ledger.WithClock(func() time.Time { return opened }))
		bread, milk, lucia := seed(t, s)

		charged, err := e.Charge(ctx, lucia, []ledger.CartLine{
			{ItemID: bread, Quantity: 2},
			{ItemID: milk, Quantity: 1},
		})
		require.NoError(t, err)

		result, err := e.Settle(ctx, lucia, shopkeeper)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Settled)
		assert.True(t, result.Total.Equal(decimal.RequireFromString("2.70")))

		open, err := e.Lines(ctx, lucia)
		require.NoError(t, err)
		assert.Empty(t, open)

		sales, err := s.SalesInRange(ctx, opened, opened.Add(time.Second), ledger.SaleApproved)
		require.NoError(t, err)
		require.Len(t, sales, 3)

		prices := map[string]int{}
		for _, c := range charged {
			prices[c.Price.String()]++
		}
		for _, sale := range sales {
			assert.Equal(t, ledger.OriginSettlement, sale.Origin)
			assert.Equal(t, "Lucia", sale.CustomerSnapshot)
			assert.Equal(t, "Don Julio", sale.SellerSnapshot)
			prices[sale.Price.String()]--
		}
		for p, n := range prices {
			assert.Zero(t, n, "price %s mismatched", p)
		}
	})
}

func TestSettle_NothingOwedIsNotAnError(t *testing.T) {
	backends(t, func(t *testing.T, s ledger.TxStore) {
		ctx := context.Background()
		e := credit.New(s)
		bread, _, lucia := seed(t, s)

		_, err := e.Charge(ctx, lucia, []ledger.CartLine{{ItemID: bread, Quantity: 1}})
		require.NoError(t, err)
		first, err := e.Settle(ctx, lucia, shopkeeper)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Settled)

		second, err := e.Settle(ctx, lucia, shopkeeper)
		require.NoError(t, err)
		assert.Zero(t, second.Settled, "no double settlement")
		assert.Empty(t, second.Sales)
	})
}

func TestSettle_Rejections(t *testing.T) {
	s := newTestStore(t)
	e := credit.New(s)
	_, _, lucia := seed(t, s)

	_, err := e.Settle(context.Background(), "ghost", shopkeeper)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = e.Settle(context.Background(), lucia, ledger.Actor{})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestSettle_KeepsChargeTimeItemName(t *testing.T) {
	// GIVEN: Bread charged, then renamed in the catalog
	// WHEN: Settling
	// THEN: The settlement sale carries the name from charge time

	s := newTestStore(t)
	ctx := context.Background()
	e := credit.New(s)
	bread, _, lucia := seed(t, s)

	_, err := e.Charge(ctx, lucia, []ledger.CartLine{{ItemID: bread, Quantity: 1}})
	require.NoError(t, err)

	item, err := s.GetItem(ctx, bread)
	require.NoError(t, err)
	item.Name = "Sourdough"
	require.NoError(t, s.UpdateItemDetails(ctx, item))

	result, err := e.Settle(ctx, lucia, shopkeeper)
	require.NoError(t, err)
	require.Len(t, result.Sales, 1)
	assert.Equal(t, "Bread", result.Sales[0].ItemSnapshot)
}

func TestRemoveCustomer_GatedOnBalance(t *testing.T) {
	// GIVEN: A registered customer with an open tab
	// WHEN: Removing before and after settling
	// THEN: The first attempt is refused, the second succeeds

	backends(t, func(t *testing.T, s ledger.TxStore) {
		ctx := context.Background()
		e := credit.New(s)
		bread, _, _ := seed(t, s)

		c, err := e.RegisterCustomer(ctx, "  Tomas ", "555-0101")
		require.NoError(t, err)
		assert.Equal(t, "Tomas", c.Name)

		_, err = e.Charge(ctx, c.ID, []ledger.CartLine{{ItemID: bread, Quantity: 1}})
		require.NoError(t, err)

		err = e.RemoveCustomer(ctx, c.ID)
		assert.ErrorIs(t, err, ledger.ErrOpenBalance)
		assert.True(t, ledger.IsConflict(err))

		_, err = e.Settle(ctx, c.ID, shopkeeper)
		require.NoError(t, err)
		require.NoError(t, e.RemoveCustomer(ctx, c.ID))

		_, err = e.Customer(ctx, c.ID)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		assert.ErrorIs(t, e.RemoveCustomer(ctx, c.ID), ledger.ErrNotFound)
	})
}

func TestRegisterCustomer_RequiresName(t *testing.T) {
	e := credit.New(store.NewMemory())
	_, err := e.RegisterCustomer(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}
