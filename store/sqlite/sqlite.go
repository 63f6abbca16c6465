/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists the catalog, the customer directory and the four ledgers
  (stock movements, sales, credit lines, layaways) using SQLite through
  sqlx. The same statements run on PostgreSQL with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  stock_entries, layaway_details and layaway_payments reject UPDATE and
  DELETE through triggers. sales reject DELETE and allow only the status
  column to change. Corrections are compensating rows.

KEY TABLES:
  items:            catalog with quantity on hand (CHECK quantity >= 0)
  customers:        counterparty directory
  stock_entries:    pantry Kardex (IN/OUT movements)
  sales:            one row per unit sold
  credit_lines:     open on-account lines
  layaways:         layaway headers
  layaway_details:  per-unit layaway lines
  layaway_payments: installments (abonos)

CONCURRENCY:
  Transactions open with BEGIN IMMEDIATE (_txlock=immediate), so a
  transaction holds the database write lock from its first statement:
  a quantity read inside WithTx cannot go stale before commit. Writers
  are additionally serialized in-process by a mutex. Reads outside a
  transaction take no lock; WAL lets them run beside the writer.

USAGE:
  store, err := sqlite.New(cfg.DBPath)
  if err != nil {
      return err
  }
  defer store.Close()

  engine := sales.New(store, ledger.WithLogger(log))
  sold, err := engine.CreateSale(ctx, cart, nil, clerk)

SCHEMA:
  CREATE TABLE/INDEX/TRIGGER IF NOT EXISTS runs on every New(), so an
  existing file is opened as-is. Reset drops the tables and reruns it.

RELATED:
  - ledger/store.go: the Store and TxStore contracts implemented here
  - ledger/store/memory.go: map-backed twin used by engine tests
  - ledger/storetest: conformance suite both stores run
*/
package sqlite

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/shop-engine/ledger"
)

// Store implements ledger.TxStore using SQLite.
// Read methods are promoted from the embedded queries; writes are
// overridden below to take the writer mutex.
type Store struct {
	queries
	db *sqlx.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:") {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, queries: queries{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		unit TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		min_quantity INTEGER NOT NULL DEFAULT 0,
		unit_price TEXT NOT NULL DEFAULT '0',
		discount TEXT NOT NULL DEFAULT '0',
		expiry TIMESTAMP,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_name ON items(name);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	-- Pantry Kardex (append-only)
	CREATE TABLE IF NOT EXISTS stock_entries (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES items(id),
		item_snapshot TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('IN', 'OUT')),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		reason TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_snapshot TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stock_entries_item
		ON stock_entries(item_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_stock_entries_created
		ON stock_entries(created_at DESC);

	CREATE TRIGGER IF NOT EXISTS trg_stock_entries_no_update
		BEFORE UPDATE ON stock_entries
		BEGIN SELECT RAISE(ABORT, 'stock_entries is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS trg_stock_entries_no_delete
		BEFORE DELETE ON stock_entries
		BEGIN SELECT RAISE(ABORT, 'stock_entries is append-only'); END;

	-- Sales: one row per unit, only status changes
	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES items(id),
		customer_id TEXT,
		item_snapshot TEXT NOT NULL,
		customer_snapshot TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		seller_snapshot TEXT NOT NULL,
		price TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('APPROVED', 'CANCELLED')),
		origin TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_created ON sales(created_at);
	CREATE INDEX IF NOT EXISTS idx_sales_status_created ON sales(status, created_at);

	CREATE TRIGGER IF NOT EXISTS trg_sales_no_delete
		BEFORE DELETE ON sales
		BEGIN SELECT RAISE(ABORT, 'sales are never deleted'); END;
	CREATE TRIGGER IF NOT EXISTS trg_sales_status_only
		BEFORE UPDATE OF id, item_id, customer_id, item_snapshot, customer_snapshot,
			seller_id, seller_snapshot, price, origin, created_at ON sales
		BEGIN SELECT RAISE(ABORT, 'only sale status may change'); END;

	-- Open credit (fiado) lines, removed on settlement
	CREATE TABLE IF NOT EXISTS credit_lines (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		item_id TEXT NOT NULL REFERENCES items(id),
		item_snapshot TEXT NOT NULL,
		price TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_lines_customer
		ON credit_lines(customer_id, created_at);

	-- Layaway headers
	CREATE TABLE IF NOT EXISTS layaways (
		id TEXT PRIMARY KEY,
		customer_id TEXT,
		customer_snapshot TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		seller_snapshot TEXT NOT NULL,
		total TEXT NOT NULL,
		paid TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('PENDING', 'PAID', 'CANCELLED')),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_layaways_status ON layaways(status, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_layaways_customer ON layaways(customer_id);

	CREATE TABLE IF NOT EXISTS layaway_details (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES layaways(id),
		item_id TEXT NOT NULL REFERENCES items(id),
		title_snapshot TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		discount_applied TEXT NOT NULL,
		final_price TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_layaway_details_sale ON layaway_details(sale_id);

	CREATE TRIGGER IF NOT EXISTS trg_layaway_details_no_update
		BEFORE UPDATE ON layaway_details
		BEGIN SELECT RAISE(ABORT, 'layaway_details is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS trg_layaway_details_no_delete
		BEFORE DELETE ON layaway_details
		BEGIN SELECT RAISE(ABORT, 'layaway_details is append-only'); END;

	-- Installments (abonos)
	CREATE TABLE IF NOT EXISTS layaway_payments (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES layaways(id),
		amount TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_snapshot TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_layaway_payments_sale
		ON layaway_payments(sale_id, created_at);

	CREATE TRIGGER IF NOT EXISTS trg_layaway_payments_no_update
		BEFORE UPDATE ON layaway_payments
		BEGIN SELECT RAISE(ABORT, 'layaway_payments is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS trg_layaway_payments_no_delete
		BEFORE DELETE ON layaway_payments
		BEGIN SELECT RAISE(ABORT, 'layaway_payments is append-only'); END;
`

// tables in drop order (children first).
var tables = []string{
	"layaway_payments", "layaway_details", "layaways",
	"credit_lines", "sales", "stock_entries", "customers", "items",
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
// fn must only use the Store it is given; s itself is locked meanwhile.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(queries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Reset drops and recreates every table (for demo scenarios and tests).
// Append-only triggers forbid DELETE, so tables are dropped instead.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	return s.migrate()
}

// =============================================================================
// SERIALIZED WRITES - Single-statement writes outside WithTx
// =============================================================================

func (s *Store) InsertItem(ctx context.Context, item ledger.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.InsertItem(ctx, item)
}

func (s *Store) UpdateItemDetails(ctx context.Context, item ledger.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.UpdateItemDetails(ctx, item)
}

func (s *Store) AdjustStock(ctx context.Context, id ledger.ItemID, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.AdjustStock(ctx, id, delta)
}

func (s *Store) SetItemActive(ctx context.Context, id ledger.ItemID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.SetItemActive(ctx, id, active)
}

func (s *Store) SaveCustomer(ctx context.Context, c ledger.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.SaveCustomer(ctx, c)
}

func (s *Store) DeleteCustomer(ctx context.Context, id ledger.CustomerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.DeleteCustomer(ctx, id)
}

func (s *Store) AppendEntry(ctx context.Context, e ledger.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.AppendEntry(ctx, e)
}

func (s *Store) InsertSale(ctx context.Context, sale ledger.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.InsertSale(ctx, sale)
}

func (s *Store) SetSaleStatus(ctx context.Context, id ledger.SaleID, from, to ledger.SaleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.SetSaleStatus(ctx, id, from, to)
}

func (s *Store) InsertCreditLine(ctx context.Context, l ledger.CreditLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.InsertCreditLine(ctx, l)
}

func (s *Store) DeleteCreditLines(ctx context.Context, customer ledger.CustomerID, ids []ledger.CreditLineID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.DeleteCreditLines(ctx, customer, ids)
}

func (s *Store) InsertLayaway(ctx context.Context, l ledger.LayawaySale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.InsertLayaway(ctx, l)
}

func (s *Store) UpdateLayaway(ctx context.Context, l ledger.LayawaySale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.UpdateLayaway(ctx, l)
}

func (s *Store) InsertLayawayDetail(ctx context.Context, d ledger.LayawayDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.InsertLayawayDetail(ctx, d)
}

func (s *Store) InsertPayment(ctx context.Context, p ledger.Abono) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.InsertPayment(ctx, p)
}

// Helper functions

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

// utc normalizes timestamps so TEXT comparisons in SQL order correctly.
func utc(t time.Time) time.Time {
	return t.UTC()
}

var _ ledger.TxStore = (*Store)(nil)
