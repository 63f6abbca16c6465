/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON bodies the API accepts. Responses reuse the ledger and
  engine types, which carry their own json tags.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers that combine several values

VALIDATION:
  Request shapes are checked with go-playground/validator struct tags
  before any engine is called. A failed check answers 400 with one entry
  per offending field. Business rules (stock, balances, states) stay in
  the engines and surface as 409/422.

MONEY:
  Amounts are decimal.Decimal and accept JSON numbers or strings
  ("12.50"). They are written back as strings.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: Error to status mapping
*/
package api

import (
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/shop-engine/ledger"
	"github.com/warp/shop-engine/pantry"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// min/gt tags need a number to compare against
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// =============================================================================
// CATALOG
// =============================================================================

// CreateItemRequest creates a catalog item with optional initial stock.
type CreateItemRequest struct {
	Name            string          `json:"name" validate:"required,max=200"`
	Category        string          `json:"category" validate:"max=100"`
	Unit            string          `json:"unit" validate:"max=50"`
	InitialQuantity int             `json:"initial_quantity" validate:"min=0"`
	MinQuantity     int             `json:"min_quantity" validate:"min=0"`
	UnitPrice       decimal.Decimal `json:"unit_price" validate:"min=0"`
	Discount        decimal.Decimal `json:"discount" validate:"min=0,max=100"`
	Expiry          *time.Time      `json:"expiry"`
}

func (r CreateItemRequest) toNewItem() pantry.NewItem {
	return pantry.NewItem{
		Name:            r.Name,
		Category:        r.Category,
		Unit:            r.Unit,
		InitialQuantity: r.InitialQuantity,
		MinQuantity:     r.MinQuantity,
		UnitPrice:       r.UnitPrice,
		Discount:        r.Discount,
		Expiry:          r.Expiry,
	}
}

// UpdateItemRequest edits item metadata. Absent fields are left as is.
type UpdateItemRequest struct {
	Name        *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Category    *string          `json:"category" validate:"omitempty,max=100"`
	Unit        *string          `json:"unit" validate:"omitempty,max=50"`
	MinQuantity *int             `json:"min_quantity" validate:"omitempty,min=0"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	Discount    *decimal.Decimal `json:"discount"`
	Expiry      *time.Time       `json:"expiry"`
	ClearExpiry bool             `json:"clear_expiry"`
}

func (r UpdateItemRequest) toUpdate() pantry.ItemUpdate {
	return pantry.ItemUpdate{
		Name:        r.Name,
		Category:    r.Category,
		Unit:        r.Unit,
		MinQuantity: r.MinQuantity,
		UnitPrice:   r.UnitPrice,
		Discount:    r.Discount,
		Expiry:      r.Expiry,
		ClearExpiry: r.ClearExpiry,
	}
}

// MovementRequest records one IN or OUT movement.
type MovementRequest struct {
	Direction ledger.Direction `json:"direction" validate:"required,oneof=IN OUT"`
	Quantity  int              `json:"quantity" validate:"required,gt=0"`
	Reason    string           `json:"reason" validate:"required,max=500"`
}

// WithdrawalRequest takes several items out at once.
type WithdrawalRequest struct {
	Reason string           `json:"reason" validate:"required,max=500"`
	Lines  []WithdrawalLine `json:"lines" validate:"required,min=1,dive"`
}

// WithdrawalLine is one item of a bulk withdrawal.
type WithdrawalLine struct {
	ItemID   ledger.ItemID `json:"item_id" validate:"required"`
	Quantity int           `json:"quantity" validate:"required,gt=0"`
}

func (r WithdrawalRequest) toWithdrawals() []pantry.Withdrawal {
	out := make([]pantry.Withdrawal, len(r.Lines))
	for i, l := range r.Lines {
		out[i] = pantry.Withdrawal{ItemID: l.ItemID, Quantity: l.Quantity}
	}
	return out
}

// =============================================================================
// CARTS
// =============================================================================

// CartLineRequest is one line of a sale, charge or checkout.
type CartLineRequest struct {
	ItemID    ledger.ItemID   `json:"item_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"min=0"`
}

func toCart(lines []CartLineRequest) []ledger.CartLine {
	out := make([]ledger.CartLine, len(lines))
	for i, l := range lines {
		out[i] = ledger.CartLine{ItemID: l.ItemID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}
	return out
}

// CreateSaleRequest sells a cart at the point of sale.
type CreateSaleRequest struct {
	CustomerID *ledger.CustomerID `json:"customer_id"`
	Lines      []CartLineRequest  `json:"lines" validate:"required,min=1,dive"`
}

// ChargeRequest puts a cart on a customer's account.
type ChargeRequest struct {
	Lines []CartLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// CheckoutRequest sells a cart in full or as a layaway.
type CheckoutRequest struct {
	CustomerID     *ledger.CustomerID `json:"customer_id"`
	Lines          []CartLineRequest  `json:"lines" validate:"required,min=1,dive"`
	Total          decimal.Decimal    `json:"total" validate:"gt=0"`
	InitialPayment decimal.Decimal    `json:"initial_payment" validate:"min=0"`
}

// PaymentRequest is one layaway installment.
type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// CreateCustomerRequest registers a customer.
type CreateCustomerRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Phone string `json:"phone" validate:"max=50"`
}

// CreditResponse is a customer's open account.
type CreditResponse struct {
	Customer    ledger.Customer     `json:"customer"`
	Lines       []ledger.CreditLine `json:"lines"`
	Outstanding decimal.Decimal     `json:"outstanding"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
