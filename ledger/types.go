/*
Package ledger provides the shared model of the inventory and ledger engine.

PURPOSE:
  This package contains the domain types, money rules, snapshot rules,
  error taxonomy and store interfaces shared by the four engines
  (pantry, sales, credit, layaway). It holds no business operations of
  its own: engines open a unit of work on a TxStore and write the rows
  defined here.

KEY CONCEPTS IN THIS FILE (types.go):
  - CatalogItem: a product, pantry article or book with a quantity on hand
  - LedgerEntry: an immutable IN/OUT movement of a catalog item (Kardex row)
  - Sale: one physical unit sold (simple sales and settled credit)
  - CreditLine: an unpaid on-account charge for one unit
  - LayawaySale / LayawayDetail / Abono: installment sales

DESIGN PRINCIPLES:
  1. Append-only history: entries, sales, details and payments are never
     edited except for their status tag
  2. Snapshots: every history row carries copies of the display facts it
     depends on (see snapshot.go)
  3. Precision: money is decimal.Decimal, never float64
  4. Typed identifiers prevent mixing item, customer and sale IDs

SEE ALSO:
  - money.go: epsilon and price rules
  - store.go: persistence interfaces
  - errors.go: error taxonomy
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type CustomerID string
type EntryID string
type SaleID string
type CreditLineID string
type LayawayID string
type DetailID string
type PaymentID string

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// ACTORS AND COUNTERPARTIES
// =============================================================================

// Actor is the authenticated user performing an operation. The engine never
// resolves users itself; callers pass the identity they authenticated.
type Actor struct {
	ID   string
	Name string
}

// Customer is a counterparty for sales, credit and layaway.
type Customer struct {
	ID        CustomerID `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Phone     string     `db:"phone" json:"phone"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// =============================================================================
// CATALOG
// =============================================================================

// CatalogItem is anything with a quantity on hand: a product, a pantry
// article or a book. Quantity only changes through engine operations.
type CatalogItem struct {
	ID          ItemID          `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Category    string          `db:"category" json:"category"`
	Unit        string          `db:"unit" json:"unit"`
	Quantity    int             `db:"quantity" json:"quantity"`
	MinQuantity int             `db:"min_quantity" json:"min_quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Discount    decimal.Decimal `db:"discount" json:"discount"` // percentage, 0-100
	Expiry      *time.Time      `db:"expiry" json:"expiry"`
	Active      bool            `db:"active" json:"active"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// IsLow reports whether the item has reached its alert boundary.
func (i CatalogItem) IsLow() bool {
	return i.Quantity <= i.MinQuantity
}

// FinalPrice is the catalog price after the item's discount.
func (i CatalogItem) FinalPrice() decimal.Decimal {
	return FinalPrice(i.UnitPrice, i.Discount)
}

// ItemFilter narrows catalog listings.
type ItemFilter struct {
	IncludeInactive bool
	LowStockOnly    bool
	ExpiringBefore  *time.Time
	Search          string
}

// CartLine is one requested line of a cart.
// UnitPrice is ignored by engines that re-read catalog prices.
type CartLine struct {
	ItemID    ItemID
	Quantity  int
	UnitPrice decimal.Decimal
}

// =============================================================================
// STOCK LEDGER
// =============================================================================

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Sign returns +1 for IN and -1 for OUT.
func (d Direction) Sign() int {
	if d == DirectionOut {
		return -1
	}
	return 1
}

// LedgerEntry is one immutable stock movement. Corrections are new
// compensating entries, never edits.
type LedgerEntry struct {
	ID           EntryID   `db:"id" json:"id"`
	ItemID       ItemID    `db:"item_id" json:"item_id"`
	ItemSnapshot string    `db:"item_snapshot" json:"item_snapshot"`
	Direction    Direction `db:"direction" json:"direction"`
	Quantity     int       `db:"quantity" json:"quantity"`
	Reason       string    `db:"reason" json:"reason"`
	UserID       string    `db:"user_id" json:"user_id"`
	UserSnapshot string    `db:"user_snapshot" json:"user_snapshot"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// EntryFilter narrows the global movement history.
type EntryFilter struct {
	From      *time.Time
	To        *time.Time
	Direction Direction
	Search    string
	Limit     int
}

// =============================================================================
// SALES
// =============================================================================

type SaleStatus string

const (
	SaleApproved  SaleStatus = "APPROVED"
	SaleCancelled SaleStatus = "CANCELLED"
)

// SaleOrigin tells which flow created a sale row.
type SaleOrigin string

const (
	OriginPOS        SaleOrigin = "POS"
	OriginSettlement SaleOrigin = "SETTLEMENT"
)

// Sale is one physical unit sold. Status is the only field that changes
// after creation, and rows are never deleted.
type Sale struct {
	ID               SaleID          `db:"id" json:"id"`
	ItemID           ItemID          `db:"item_id" json:"item_id"`
	CustomerID       *CustomerID     `db:"customer_id" json:"customer_id"`
	ItemSnapshot     string          `db:"item_snapshot" json:"item_snapshot"`
	CustomerSnapshot string          `db:"customer_snapshot" json:"customer_snapshot"`
	SellerID         string          `db:"seller_id" json:"seller_id"`
	SellerSnapshot   string          `db:"seller_snapshot" json:"seller_snapshot"`
	Price            decimal.Decimal `db:"price" json:"price"`
	Status           SaleStatus      `db:"status" json:"status"`
	Origin           SaleOrigin      `db:"origin" json:"origin"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// =============================================================================
// CREDIT
// =============================================================================

// CreditLine is one unpaid unit charged to a customer's account.
type CreditLine struct {
	ID           CreditLineID    `db:"id" json:"id"`
	CustomerID   CustomerID      `db:"customer_id" json:"customer_id"`
	ItemID       ItemID          `db:"item_id" json:"item_id"`
	ItemSnapshot string          `db:"item_snapshot" json:"item_snapshot"`
	Price        decimal.Decimal `db:"price" json:"price"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// =============================================================================
// LAYAWAY
// =============================================================================

type LayawayStatus string

const (
	LayawayPending   LayawayStatus = "PENDING"
	LayawayPaid      LayawayStatus = "PAID"
	LayawayCancelled LayawayStatus = "CANCELLED"
)

// LayawaySale is the header of a sale paid in full or in installments.
type LayawaySale struct {
	ID               LayawayID       `db:"id" json:"id"`
	CustomerID       *CustomerID     `db:"customer_id" json:"customer_id"`
	CustomerSnapshot string          `db:"customer_snapshot" json:"customer_snapshot"`
	SellerID         string          `db:"seller_id" json:"seller_id"`
	SellerSnapshot   string          `db:"seller_snapshot" json:"seller_snapshot"`
	Total            decimal.Decimal `db:"total" json:"total"`
	Paid             decimal.Decimal `db:"paid" json:"paid"`
	Status           LayawayStatus   `db:"status" json:"status"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Remaining is the amount still owed, never negative.
func (s LayawaySale) Remaining() decimal.Decimal {
	r := s.Total.Sub(s.Paid)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// LayawayDetail is one unit of a layaway sale, priced at checkout time.
type LayawayDetail struct {
	ID              DetailID        `db:"id" json:"id"`
	SaleID          LayawayID       `db:"sale_id" json:"sale_id"`
	ItemID          ItemID          `db:"item_id" json:"item_id"`
	TitleSnapshot   string          `db:"title_snapshot" json:"title_snapshot"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	DiscountApplied decimal.Decimal `db:"discount_applied" json:"discount_applied"`
	FinalPrice      decimal.Decimal `db:"final_price" json:"final_price"`
}

// Abono is one installment paid against a layaway sale.
type Abono struct {
	ID           PaymentID       `db:"id" json:"id"`
	SaleID       LayawayID       `db:"sale_id" json:"sale_id"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	UserID       string          `db:"user_id" json:"user_id"`
	UserSnapshot string          `db:"user_snapshot" json:"user_snapshot"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// LayawayFilter narrows layaway listings.
type LayawayFilter struct {
	Status     LayawayStatus
	CustomerID *CustomerID
}
