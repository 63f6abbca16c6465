package pantry_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/shop-engine/ledger"
	"github.com/warp/shop-engine/ledger/store"
	"github.com/warp/shop-engine/pantry"
	"github.com/warp/shop-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var volunteer = ledger.Actor{ID: "u-1", Name: "Marta"}

func newTestStore(t *testing.T) *sqlite.Store {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T) (*pantry.Engine, *sqlite.Store) {
	s := newTestStore(t)
	return pantry.New(s), s
}

// backends runs fn against both store implementations.
func backends(t *testing.T, fn func(t *testing.T, e *pantry.Engine, s ledger.TxStore)) {
	t.Run("sqlite", func(t *testing.T) {
		s := newTestStore(t)
		fn(t, pantry.New(s), s)
	})
	t.Run("memory", func(t *testing.T) {
		s := store.NewMemory()
		fn(t, pantry.New(s), s)
	})
}

func createItem(t *testing.T, e *pantry.Engine, name string, qty, min int) ledger.CatalogItem {
	item, err := e.CreateItem(context.Background(), pantry.NewItem{
		Name:            name,
		Category:        "grains",
		Unit:            "kg",
		InitialQuantity: qty,
		MinQuantity:     min,
		UnitPrice:       decimal.NewFromInt(3),
	}, volunteer)
	require.NoError(t, err)
	return item
}

func quantity(t *testing.T, s ledger.Store, id ledger.ItemID) int {
	item, err := s.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item.Quantity
}

// =============================================================================
// CREATE ITEM
// =============================================================================

func TestCreateItem_InitialStockIsTraceable(t *testing.T) {
	// GIVEN: A new article with 25 units on arrival
	// WHEN: It is created
	// THEN: Quantity is 25 and exactly one IN entry "initial stock" explains it

	backends(t, func(t *testing.T, e *pantry.Engine, s ledger.TxStore) {
		ctx := context.Background()
		item := createItem(t, e, "Rice", 25, 5)
		assert.Equal(t, 25, item.Quantity)
		assert.Equal(t, 25, quantity(t, s, item.ID))

		history, err := e.History(ctx, item.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, ledger.DirectionIn, history[0].Direction)
		assert.Equal(t, 25, history[0].Quantity)
		assert.Equal(t, pantry.InitialStockReason, history[0].Reason)
		assert.Equal(t, "Marta", history[0].UserSnapshot)
		assert.Equal(t, "Rice", history[0].ItemSnapshot)
	})
}

func TestCreateItem_ZeroStockWritesNoEntry(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	item, err := e.CreateItem(ctx, pantry.NewItem{Name: "Lentils"}, ledger.Actor{})
	require.NoError(t, err, "no actor needed when nothing is booked")

	history, err := e.History(ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCreateItem_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   pantry.NewItem
		want error
	}{
		{"empty name", pantry.NewItem{Name: " "}, ledger.ErrInvalidInput},
		{"negative stock", pantry.NewItem{Name: "Oil", InitialQuantity: -1}, ledger.ErrInvalidAmount},
		{"negative minimum", pantry.NewItem{Name: "Oil", MinQuantity: -2}, ledger.ErrInvalidAmount},
		{"discount over 100", pantry.NewItem{Name: "Oil", Discount: decimal.NewFromInt(120)}, ledger.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CreateItem(ctx, tt.in, volunteer)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// =============================================================================
// RECORD MOVEMENT
// =============================================================================

func TestRecordMovement_InsufficientStockNamesItemAndQuantities(t *testing.T) {
	// GIVEN: "Rice" has quantity 10, min 5
	// WHEN: Withdrawing 12
	// THEN: InsufficientStock mentioning "Rice", "10", "12"; quantity stays 10

	backends(t, func(t *testing.T, e *pantry.Engine, s ledger.TxStore) {
		ctx := context.Background()
		rice := createItem(t, e, "Rice", 10, 5)

		_, err := e.RecordMovement(ctx, rice.ID, ledger.DirectionOut, 12, "test", volunteer)
		require.ErrorIs(t, err, ledger.ErrInsufficientStock)

		var se *ledger.InsufficientStockError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 10, se.Available)
		assert.Equal(t, 12, se.Requested)
		assert.Contains(t, err.Error(), "Rice")
		assert.Contains(t, err.Error(), "10")
		assert.Contains(t, err.Error(), "12")

		assert.Equal(t, 10, quantity(t, s, rice.ID))
		history, err := e.History(ctx, rice.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1, "only the initial stock entry")
	})
}

func TestRecordMovement_InAndOut(t *testing.T) {
	backends(t, func(t *testing.T, e *pantry.Engine, s ledger.TxStore) {
		ctx := context.Background()
		beans := createItem(t, e, "Beans", 4, 1)

		in, err := e.RecordMovement(ctx, beans.ID, ledger.DirectionIn, 6, "donation", volunteer)
		require.NoError(t, err)
		assert.Equal(t, ledger.DirectionIn, in.Direction)
		assert.Equal(t, 10, quantity(t, s, beans.ID))

		out, err := e.RecordMovement(ctx, beans.ID, ledger.DirectionOut, 10, "family 12", volunteer)
		require.NoError(t, err)
		assert.Equal(t, "family 12", out.Reason)
		assert.Equal(t, 0, quantity(t, s, beans.ID))

		history, err := e.History(ctx, beans.ID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, out.ID, history[0].ID, "newest first")
	})
}

func TestRecordMovement_RejectsBadInput(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	oil := createItem(t, e, "Oil", 3, 0)

	_, err := e.RecordMovement(ctx, oil.ID, ledger.DirectionOut, 0, "x", volunteer)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = e.RecordMovement(ctx, oil.ID, ledger.DirectionOut, 1, "   ", volunteer)
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = e.RecordMovement(ctx, oil.ID, "SIDEWAYS", 1, "x", volunteer)
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = e.RecordMovement(ctx, oil.ID, ledger.DirectionIn, 1, "x", ledger.Actor{})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = e.RecordMovement(ctx, "ghost", ledger.DirectionIn, 1, "x", volunteer)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	assert.Equal(t, 3, quantity(t, s, oil.ID))
}

func TestRecordMovement_InactiveItemRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	flour := createItem(t, e, "Flour", 3, 0)
	require.NoError(t, e.Deactivate(ctx, flour.ID))

	_, err := e.RecordMovement(ctx, flour.ID, ledger.DirectionIn, 1, "late delivery", volunteer)
	assert.ErrorIs(t, err, ledger.ErrInactiveItem)
}

// =============================================================================
// BULK WITHDRAWAL
// =============================================================================

func TestRecordBulkWithdrawal_AllOrNothing(t *testing.T) {
	// GIVEN: Three items where the third has too little stock
	// WHEN: Withdrawing all three as one care package
	// THEN: No quantity changes and no entries are written

	backends(t, func(t *testing.T, e *pantry.Engine, s ledger.TxStore) {
		ctx := context.Background()
		rice := createItem(t, e, "Rice", 10, 2)
		beans := createItem(t, e, "Beans", 8, 2)
		milk := createItem(t, e, "Milk", 1, 2)

		_, err := e.RecordBulkWithdrawal(ctx, []pantry.Withdrawal{
			{ItemID: rice.ID, Quantity: 2},
			{ItemID: beans.ID, Quantity: 2},
			{ItemID: milk.ID, Quantity: 2},
		}, "care package", volunteer)
		require.ErrorIs(t, err, ledger.ErrInsufficientStock)
		assert.Contains(t, err.Error(), "Milk")

		assert.Equal(t, 10, quantity(t, s, rice.ID))
		assert.Equal(t, 8, quantity(t, s, beans.ID))
		assert.Equal(t, 1, quantity(t, s, milk.ID))

		outs, err := e.GlobalHistory(ctx, ledger.EntryFilter{Direction: ledger.DirectionOut})
		require.NoError(t, err)
		assert.Empty(t, outs)
	})
}

func TestRecordBulkWithdrawal_Success(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	rice := createItem(t, e, "Rice", 10, 2)
	beans := createItem(t, e, "Beans", 8, 2)

	entries, err := e.RecordBulkWithdrawal(ctx, []pantry.Withdrawal{
		{ItemID: rice.ID, Quantity: 3},
		{ItemID: beans.ID, Quantity: 8},
	}, "care package", volunteer)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, en := range entries {
		assert.Equal(t, ledger.DirectionOut, en.Direction)
		assert.Equal(t, "care package", en.Reason)
	}
	assert.Equal(t, 7, quantity(t, s, rice.ID))
	assert.Equal(t, 0, quantity(t, s, beans.ID))
}

func TestRecordBulkWithdrawal_UnknownItemRollsBack(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	rice := createItem(t, e, "Rice", 10, 2)

	_, err := e.RecordBulkWithdrawal(ctx, []pantry.Withdrawal{
		{ItemID: rice.ID, Quantity: 3},
		{ItemID: "ghost", Quantity: 1},
	}, "care package", volunteer)
	require.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, 10, quantity(t, s, rice.ID))
}

func TestRecordBulkWithdrawal_ConcurrentAgainstLowStock(t *testing.T) {
	// GIVEN: An item with 3 units, in a file database with a real pool
	// WHEN: Two care packages of 2 units each are withdrawn concurrently
	// THEN: Exactly one succeeds and the quantity never goes negative

	s, err := sqlite.New(filepath.Join(t.TempDir(), "pantry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	e := pantry.New(s)
	ctx := context.Background()
	milk := createItem(t, e, "Milk", 3, 1)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = e.RecordBulkWithdrawal(ctx, []pantry.Withdrawal{{ItemID: milk.ID, Quantity: 2}}, "care package", volunteer)
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, quantity(t, s, milk.ID))
}

// =============================================================================
// HISTORY, SNAPSHOTS, CATALOG
// =============================================================================

func TestHistory_UnknownItem(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.History(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestSnapshots_SurviveRename(t *testing.T) {
	// GIVEN: A movement recorded for "Rice" by "Marta"
	// WHEN: The item is renamed afterwards
	// THEN: The entry still reads "Rice" and "Marta"

	e, _ := newTestEngine(t)
	ctx := context.Background()
	rice := createItem(t, e, "Rice", 5, 1)
	_, err := e.RecordMovement(ctx, rice.ID, ledger.DirectionOut, 1, "kitchen", volunteer)
	require.NoError(t, err)

	renamed := "Jasmine Rice"
	_, err = e.UpdateItem(ctx, rice.ID, pantry.ItemUpdate{Name: &renamed})
	require.NoError(t, err)

	history, err := e.History(ctx, rice.ID)
	require.NoError(t, err)
	for _, en := range history {
		assert.Equal(t, "Rice", en.ItemSnapshot)
		assert.Equal(t, "Marta", en.UserSnapshot)
	}
	item, err := e.Get(ctx, rice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jasmine Rice", item.Name)
}

func TestGlobalHistory_FiltersAndCap(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	s := newTestStore(t)
	e := pantry.New(s, ledger.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	rice := createItem(t, e, "Rice", 50, 1)
	clock = now.Add(time.Hour)
	_, err := e.RecordMovement(ctx, rice.ID, ledger.DirectionOut, 2, "spoiled bag", volunteer)
	require.NoError(t, err)
	clock = now.Add(2 * time.Hour)
	_, err = e.RecordMovement(ctx, rice.ID, ledger.DirectionOut, 1, "kitchen", volunteer)
	require.NoError(t, err)

	all, err := e.GlobalHistory(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "kitchen", all[0].Reason)

	found, err := e.GlobalHistory(ctx, ledger.EntryFilter{Search: "spoiled"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	from := now.Add(30 * time.Minute)
	to := now.Add(90 * time.Minute)
	window, err := e.GlobalHistory(ctx, ledger.EntryFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "spoiled bag", window[0].Reason)

	_, err = e.GlobalHistory(ctx, ledger.EntryFilter{Direction: "UP"})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestGlobalHistory_CappedAtMax(t *testing.T) {
	s := store.NewMemory()
	e := pantry.New(s)
	ctx := context.Background()
	rice := createItem(t, e, "Rice", pantry.MaxGlobalHistory+20, 1)

	for i := 0; i < pantry.MaxGlobalHistory+10; i++ {
		_, err := e.RecordMovement(ctx, rice.ID, ledger.DirectionOut, 1, "portion", volunteer)
		require.NoError(t, err)
	}

	entries, err := e.GlobalHistory(ctx, ledger.EntryFilter{Limit: 10000})
	require.NoError(t, err)
	assert.Len(t, entries, pantry.MaxGlobalHistory)
}

func TestDeactivate_HidesItemKeepsHistory(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	rice := createItem(t, e, "Rice", 5, 1)

	require.NoError(t, e.Deactivate(ctx, rice.ID))

	items, err := e.ListItems(ctx, ledger.ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)

	history, err := e.History(ctx, rice.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	assert.ErrorIs(t, e.Deactivate(ctx, "ghost"), ledger.ErrNotFound)
}

func TestLowStockAndExpiring(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t)
	e := pantry.New(s, ledger.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	soon := now.Add(48 * time.Hour)
	_, err := e.CreateItem(ctx, pantry.NewItem{Name: "Milk", InitialQuantity: 2, MinQuantity: 5, Expiry: &soon}, volunteer)
	require.NoError(t, err)
	createItem(t, e, "Rice", 30, 5)

	low, err := e.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "Milk", low[0].Name)

	expiring, err := e.Expiring(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "Milk", expiring[0].Name)

	none, err := e.Expiring(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateItem_NeverTouchesQuantity(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	rice := createItem(t, e, "Rice", 5, 1)

	price := decimal.RequireFromString("4.25")
	minQty := 3
	updated, err := e.UpdateItem(ctx, rice.ID, pantry.ItemUpdate{UnitPrice: &price, MinQuantity: &minQty})
	require.NoError(t, err)
	assert.True(t, updated.UnitPrice.Equal(price))
	assert.Equal(t, 3, updated.MinQuantity)
	assert.Equal(t, 5, quantity(t, s, rice.ID))

	bad := decimal.NewFromInt(-1)
	_, err = e.UpdateItem(ctx, rice.ID, pantry.ItemUpdate{UnitPrice: &bad})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}
