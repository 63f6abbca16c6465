/*
credit.go - Credit account ("fiado") engine

PURPOSE:
  Accumulates per-customer unpaid lines and, on settlement, moves them
  into the permanent sales ledger while clearing the open balance.

STOCK:
  Charge does not touch stock. Goods on credit are assumed to have left
  the shelf through a separate flow. This asymmetry with the sales and
  layaway engines is intentional and kept as is.

SETTLEMENT:
  Settle reads the customer's open lines, inserts one SETTLEMENT sale
  per line at the charged price, then deletes exactly the lines it read.
  Both steps share one transaction, so a failure leaves the open lines
  intact and no partial sales behind; a retry starts from the same state.
  A customer with nothing owed settles zero lines without error.

CUSTOMERS:
  The engine also keeps the customer directory. A customer with open
  lines cannot be removed; sales and layaways keep their snapshots after
  a removal.
*/
package credit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/shop-engine/ledger"
)

// Settlement reports what Settle moved into the sales ledger.
type Settlement struct {
	CustomerID ledger.CustomerID `json:"customer_id"`
	Settled    int               `json:"settled"`
	Total      decimal.Decimal   `json:"total"`
	Sales      []ledger.Sale     `json:"sales"`
}

// Engine is the credit account engine.
type Engine struct {
	store ledger.TxStore
	Log   logrus.FieldLogger
	Now   func() time.Time
}

// New creates a credit engine over store.
func New(store ledger.TxStore, opts ...ledger.Option) *Engine {
	o := ledger.BuildOptions(opts...)
	return &Engine{store: store, Log: o.Log.WithField("module", "credit"), Now: o.Now}
}

// Charge puts a cart on the customer's account, one line per unit.
// A zero line price falls back to the catalog's discounted price.
func (e *Engine) Charge(ctx context.Context, customerID ledger.CustomerID, lines []ledger.CartLine) ([]ledger.CreditLine, error) {
	if err := ledger.ValidateCart(lines); err != nil {
		return nil, err
	}

	var charged []ledger.CreditLine
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.GetCustomer(ctx, customerID); err != nil {
			return err
		}
		now := e.Now()
		for _, line := range lines {
			item, err := tx.GetItem(ctx, line.ItemID)
			if err != nil {
				return err
			}
			if !item.Active {
				return fmt.Errorf("item %q: %w", item.Name, ledger.ErrInactiveItem)
			}
			price := line.UnitPrice
			if price.IsZero() {
				price = item.FinalPrice()
			}
			for i := 0; i < line.Quantity; i++ {
				cl := ledger.CreditLine{
					ID:           ledger.CreditLineID(ledger.NewID()),
					CustomerID:   customerID,
					ItemID:       item.ID,
					ItemSnapshot: ledger.ItemSnapshot(item),
					Price:        price,
					CreatedAt:    now,
				}
				if err := tx.InsertCreditLine(ctx, cl); err != nil {
					return err
				}
				charged = append(charged, cl)
			}
		}
		return nil
	})
	if err != nil {
		e.Log.WithFields(logrus.Fields{"op": "charge", "customer_id": customerID}).
			WithError(err).Warn("charge rejected")
		return nil, fmt.Errorf("charge: %w", err)
	}

	e.Log.WithFields(logrus.Fields{
		"op": "charge", "customer_id": customerID, "units": len(charged), "total": sumLines(charged).String(),
	}).Info("charged to account")
	return charged, nil
}

// Settle converts every open line of the customer into an APPROVED sale
// with origin SETTLEMENT and clears the account. Settled is zero when
// nothing was owed.
func (e *Engine) Settle(ctx context.Context, customerID ledger.CustomerID, seller ledger.Actor) (Settlement, error) {
	if err := ledger.ValidateActor(seller); err != nil {
		return Settlement{}, err
	}

	result := Settlement{CustomerID: customerID, Total: decimal.Zero}
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		customer, err := tx.GetCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		lines, err := tx.CreditLines(ctx, customerID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return nil
		}

		now := e.Now()
		ids := make([]ledger.CreditLineID, 0, len(lines))
		for _, l := range lines {
			sale := ledger.Sale{
				ID:               ledger.SaleID(ledger.NewID()),
				ItemID:           l.ItemID,
				CustomerID:       &customerID,
				ItemSnapshot:     l.ItemSnapshot,
				CustomerSnapshot: ledger.CustomerSnapshot(&customer),
				SellerID:         seller.ID,
				SellerSnapshot:   ledger.ActorSnapshot(seller),
				Price:            l.Price,
				Status:           ledger.SaleApproved,
				Origin:           ledger.OriginSettlement,
				CreatedAt:        now,
			}
			if err := tx.InsertSale(ctx, sale); err != nil {
				return err
			}
			result.Sales = append(result.Sales, sale)
			result.Total = result.Total.Add(l.Price)
			ids = append(ids, l.ID)
		}

		n, err := tx.DeleteCreditLines(ctx, customerID, ids)
		if err != nil {
			return err
		}
		if n != len(ids) {
			return fmt.Errorf("settled %d lines but removed %d: %w", len(ids), n, ledger.ErrConcurrentModification)
		}
		result.Settled = n
		return nil
	})
	if err != nil {
		e.Log.WithFields(logrus.Fields{"op": "settle", "customer_id": customerID}).
			WithError(err).Warn("settlement failed")
		return Settlement{}, fmt.Errorf("settle: %w", err)
	}

	if result.Settled == 0 {
		e.Log.WithFields(logrus.Fields{"op": "settle", "customer_id": customerID}).Info("nothing to settle")
		return result, nil
	}
	e.Log.WithFields(logrus.Fields{
		"op": "settle", "customer_id": customerID, "settled": result.Settled, "total": result.Total.String(),
	}).Info("account settled")
	return result, nil
}

// Outstanding is the sum of the customer's open line prices.
func (e *Engine) Outstanding(ctx context.Context, customerID ledger.CustomerID) (decimal.Decimal, error) {
	lines, err := e.store.CreditLines(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	return sumLines(lines), nil
}

// Lines returns the customer's open lines, oldest first.
func (e *Engine) Lines(ctx context.Context, customerID ledger.CustomerID) ([]ledger.CreditLine, error) {
	if _, err := e.store.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return e.store.CreditLines(ctx, customerID)
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// RegisterCustomer adds a customer to the directory.
func (e *Engine) RegisterCustomer(ctx context.Context, name, phone string) (ledger.Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ledger.Customer{}, &ledger.InputError{Field: "name", Reason: "is required"}
	}
	c := ledger.Customer{
		ID:        ledger.CustomerID(ledger.NewID()),
		Name:      name,
		Phone:     strings.TrimSpace(phone),
		CreatedAt: e.Now(),
	}
	if err := e.store.SaveCustomer(ctx, c); err != nil {
		return ledger.Customer{}, fmt.Errorf("register customer: %w", err)
	}
	e.Log.WithFields(logrus.Fields{"op": "register_customer", "customer_id": c.ID}).Info("customer registered")
	return c, nil
}

// Customer returns one customer.
func (e *Engine) Customer(ctx context.Context, id ledger.CustomerID) (ledger.Customer, error) {
	return e.store.GetCustomer(ctx, id)
}

// Customers lists the directory.
func (e *Engine) Customers(ctx context.Context) ([]ledger.Customer, error) {
	return e.store.ListCustomers(ctx)
}

// RemoveCustomer deletes a customer who owes nothing.
func (e *Engine) RemoveCustomer(ctx context.Context, id ledger.CustomerID) error {
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		lines, err := tx.CreditLines(ctx, id)
		if err != nil {
			return err
		}
		if len(lines) > 0 {
			return fmt.Errorf("customer %s owes %s: %w", id, sumLines(lines).StringFixed(2), ledger.ErrOpenBalance)
		}
		return tx.DeleteCustomer(ctx, id)
	})
	if err != nil {
		e.Log.WithFields(logrus.Fields{"op": "remove_customer", "customer_id": id}).
			WithError(err).Warn("customer removal rejected")
		return fmt.Errorf("remove customer: %w", err)
	}
	e.Log.WithFields(logrus.Fields{"op": "remove_customer", "customer_id": id}).Info("customer removed")
	return nil
}

func sumLines(lines []ledger.CreditLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Price)
	}
	return total
}
