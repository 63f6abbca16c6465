package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/shop-engine/ledger"
	"github.com/warp/shop-engine/ledger/storetest"
	"github.com/warp/shop-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.TxStore {
		return newTestStore(t)
	})
}

func seedItem(t *testing.T, s *sqlite.Store, id string, qty int) {
	now := time.Now().UTC()
	require.NoError(t, s.InsertItem(context.Background(), ledger.CatalogItem{
		ID: ledger.ItemID(id), Name: id, Quantity: qty, UnitPrice: decimal.NewFromInt(1),
		Active: true, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestStore_StockEntriesAreAppendOnly(t *testing.T) {
	// GIVEN: A recorded movement
	// WHEN: Something tries to rewrite it with raw SQL
	// THEN: The trigger aborts the statement

	s := newTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "salt", 3)
	require.NoError(t, s.AppendEntry(ctx, ledger.LedgerEntry{
		ID: "e1", ItemID: "salt", ItemSnapshot: "salt", Direction: ledger.DirectionIn,
		Quantity: 3, Reason: "initial stock", UserID: "u1", UserSnapshot: "Ana", CreatedAt: time.Now(),
	}))

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		return sqlite.ExecRaw(ctx, tx, `UPDATE stock_entries SET quantity = 99`)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	err = s.WithTx(ctx, func(tx ledger.Store) error {
		return sqlite.ExecRaw(ctx, tx, `DELETE FROM stock_entries`)
	})
	require.Error(t, err)
}

func TestStore_QuantityNeverNegativeUnderContention(t *testing.T) {
	// GIVEN: An item with 5 units in a file-backed database
	// WHEN: 10 goroutines each withdraw 1 unit in their own transaction
	// THEN: Exactly 5 succeed and quantity ends at 0

	s, err := sqlite.New(filepath.Join(t.TempDir(), "shop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	seedItem(t, s, "eggs", 5)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		fail int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx ledger.Store) error {
				item, err := tx.LockItem(ctx, "eggs")
				if err != nil {
					return err
				}
				if item.Quantity < 1 {
					return ledger.ErrInsufficientStock
				}
				_, err = tx.AdjustStock(ctx, "eggs", -1)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else {
				assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
				fail++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, 5, fail)
	item, err := s.GetItem(ctx, "eggs")
	require.NoError(t, err)
	assert.Equal(t, 0, item.Quantity)
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "salt", 3)
	require.NoError(t, s.AppendEntry(ctx, ledger.LedgerEntry{
		ID: "e1", ItemID: "salt", ItemSnapshot: "salt", Direction: ledger.DirectionIn,
		Quantity: 3, Reason: "initial stock", UserID: "u1", UserSnapshot: "Ana", CreatedAt: time.Now(),
	}))

	require.NoError(t, s.Reset(ctx))

	items, err := s.ListItems(ctx, ledger.ItemFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Empty(t, items)
	entries, err := s.QueryEntries(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
