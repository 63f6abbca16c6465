/*
store.go - Persistence interfaces for the catalog and its ledgers

PURPOSE:
  Defines the interface between the engines and the database. Engines
  never talk SQL; they open a unit of work with TxStore.WithTx and call
  the Store methods on the transactional view they receive.

KEY INTERFACES:
  CatalogStore:  items and their quantity on hand
  CustomerStore: counterparty directory (source of customer snapshots)
  MovementStore: pantry stock ledger (append-only)
  SaleStore:     per-unit sale rows (append-only + status)
  CreditStore:   open on-account lines
  LayawayStore:  layaway headers, details and installments
  TxStore:       Store + WithTx for atomic multi-table writes

APPEND-ONLY CONTRACT:
  Ledger rows have insert and read methods only. The permitted mutations
  are the quantity on hand (AdjustStock), item metadata, sale and layaway
  status transitions, and removal of credit lines as part of settlement.

LOCKING:
  LockItem and LockLayaway are reads with intent to update. Inside WithTx
  they hold the row (or the database write lock) until commit, so two
  transactions cannot both pass a sufficiency check on a stale quantity.
  AdjustStock is additionally guarded and never lets quantity go negative.

IMPLEMENTATIONS:
  - store/sqlite: SQLite via sqlx
  - ledger/store: in-memory, for tests and demos
*/
package ledger

import (
	"context"
	"time"
)

// CatalogStore persists catalog items.
type CatalogStore interface {
	InsertItem(ctx context.Context, item CatalogItem) error

	// GetItem returns ErrNotFound (wrapped) for unknown ids.
	GetItem(ctx context.Context, id ItemID) (CatalogItem, error)

	// LockItem reads an item with intent to update it in the current transaction.
	LockItem(ctx context.Context, id ItemID) (CatalogItem, error)

	// UpdateItemDetails writes non-quantity metadata. Quantity is ignored.
	UpdateItemDetails(ctx context.Context, item CatalogItem) error

	// AdjustStock adds delta to the quantity on hand and returns the new
	// quantity. A negative delta larger than the quantity fails with
	// ErrInsufficientStock and changes nothing.
	AdjustStock(ctx context.Context, id ItemID, delta int) (int, error)

	SetItemActive(ctx context.Context, id ItemID, active bool) error
	ListItems(ctx context.Context, filter ItemFilter) ([]CatalogItem, error)
}

// CustomerStore persists customers.
type CustomerStore interface {
	SaveCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, id CustomerID) (Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
	DeleteCustomer(ctx context.Context, id CustomerID) error
}

// MovementStore persists the pantry stock ledger. Append-only.
type MovementStore interface {
	AppendEntry(ctx context.Context, e LedgerEntry) error

	// EntriesByItem returns an item's entries, newest first.
	EntriesByItem(ctx context.Context, id ItemID) ([]LedgerEntry, error)

	// QueryEntries returns entries across items, newest first, at most filter.Limit.
	QueryEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error)
}

// SaleStore persists per-unit sale rows.
type SaleStore interface {
	InsertSale(ctx context.Context, s Sale) error
	GetSale(ctx context.Context, id SaleID) (Sale, error)

	// SetSaleStatus moves a sale from one status to another. It fails with
	// ErrConcurrentModification if the sale is no longer in status from.
	SetSaleStatus(ctx context.Context, id SaleID, from, to SaleStatus) error

	// SalesInRange returns sales created in [from, to), oldest first.
	// An empty status returns every status.
	SalesInRange(ctx context.Context, from, to time.Time, status SaleStatus) ([]Sale, error)
}

// CreditStore persists open on-account lines.
type CreditStore interface {
	InsertCreditLine(ctx context.Context, l CreditLine) error

	// CreditLines returns a customer's open lines, oldest first.
	CreditLines(ctx context.Context, customer CustomerID) ([]CreditLine, error)

	// DeleteCreditLines removes the given lines of a customer and returns
	// how many were removed.
	DeleteCreditLines(ctx context.Context, customer CustomerID, ids []CreditLineID) (int, error)
}

// LayawayStore persists layaway sales.
type LayawayStore interface {
	InsertLayaway(ctx context.Context, s LayawaySale) error
	GetLayaway(ctx context.Context, id LayawayID) (LayawaySale, error)

	// LockLayaway reads a header with intent to update it in the current transaction.
	LockLayaway(ctx context.Context, id LayawayID) (LayawaySale, error)

	// UpdateLayaway writes Paid, Status and UpdatedAt of an existing header.
	UpdateLayaway(ctx context.Context, s LayawaySale) error
	ListLayaways(ctx context.Context, filter LayawayFilter) ([]LayawaySale, error)

	InsertLayawayDetail(ctx context.Context, d LayawayDetail) error
	LayawayDetails(ctx context.Context, id LayawayID) ([]LayawayDetail, error)

	InsertPayment(ctx context.Context, p Abono) error

	// Payments returns a sale's installments, oldest first.
	Payments(ctx context.Context, id LayawayID) ([]Abono, error)
}

// Store is the full persistence surface used by the engines.
type Store interface {
	CatalogStore
	CustomerStore
	MovementStore
	SaleStore
	CreditStore
	LayawayStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
