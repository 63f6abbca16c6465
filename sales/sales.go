/*
sales.go - Sales transaction engine

PURPOSE:
  Turns a cart into permanent sale rows, one row per physical unit,
  decrementing stock per unit sold. Cancellation restores the unit and
  flips the row to CANCELLED; rows are never deleted.

STATE MACHINE:
  APPROVED ──CancelSale──► CANCELLED (terminal)

  A second CancelSale fails with ErrAlreadyCancelled and restores nothing.
  The status flip is a guarded transition (SetSaleStatus from APPROVED),
  so two racing cancellations cannot both restore stock.

PRICING:
  A cart line's UnitPrice is the price paid. A zero price falls back to
  the catalog's discounted price.

AGGREGATES:
  QueryByDateRange and StatsByDate only see APPROVED rows.
*/
package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/shop-engine/ledger"
)

// DailyStats aggregates the approved sales of one calendar day.
type DailyStats struct {
	Date              time.Time       `json:"date"`
	Count             int             `json:"count"`
	Total             decimal.Decimal `json:"total"`
	DistinctItems     int             `json:"distinct_items"`
	DistinctCustomers int             `json:"distinct_customers"`
}

// Engine is the point-of-sale engine.
type Engine struct {
	store ledger.TxStore
	Log   logrus.FieldLogger
	Now   func() time.Time
}

// New creates a sales engine over store.
func New(store ledger.TxStore, opts ...ledger.Option) *Engine {
	o := ledger.BuildOptions(opts...)
	return &Engine{store: store, Log: o.Log.WithField("module", "sales"), Now: o.Now}
}

// CreateSale sells a cart. Each line of quantity N produces N sale rows.
// Any line that is unknown, inactive or short aborts the whole cart.
func (e *Engine) CreateSale(ctx context.Context, lines []ledger.CartLine, customerID *ledger.CustomerID, seller ledger.Actor) ([]ledger.Sale, error) {
	if err := ledger.ValidateActor(seller); err != nil {
		return nil, err
	}
	if err := ledger.ValidateCart(lines); err != nil {
		return nil, err
	}

	var sales []ledger.Sale
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		var customer *ledger.Customer
		if customerID != nil {
			c, err := tx.GetCustomer(ctx, *customerID)
			if err != nil {
				return err
			}
			customer = &c
		}

		now := e.Now()
		for _, line := range lines {
			item, err := ledger.Withdraw(ctx, tx, line.ItemID, line.Quantity)
			if err != nil {
				return err
			}
			price := line.UnitPrice
			if price.IsZero() {
				price = item.FinalPrice()
			}
			for i := 0; i < line.Quantity; i++ {
				sale := ledger.Sale{
					ID:               ledger.SaleID(ledger.NewID()),
					ItemID:           item.ID,
					CustomerID:       customerID,
					ItemSnapshot:     ledger.ItemSnapshot(item),
					CustomerSnapshot: ledger.CustomerSnapshot(customer),
					SellerID:         seller.ID,
					SellerSnapshot:   ledger.ActorSnapshot(seller),
					Price:            price,
					Status:           ledger.SaleApproved,
					Origin:           ledger.OriginPOS,
					CreatedAt:        now,
				}
				if err := tx.InsertSale(ctx, sale); err != nil {
					return err
				}
				sales = append(sales, sale)
			}
		}
		return nil
	})
	if err != nil {
		e.Log.WithFields(logrus.Fields{"op": "create_sale", "lines": len(lines)}).
			WithError(err).Warn("sale rejected")
		return nil, fmt.Errorf("create sale: %w", err)
	}

	e.Log.WithFields(logrus.Fields{
		"op": "create_sale", "units": len(sales), "total": sumPrices(sales).String(), "seller": seller.ID,
	}).Info("sale created")
	return sales, nil
}

// CancelSale voids one sale row and puts its unit back on hand.
func (e *Engine) CancelSale(ctx context.Context, id ledger.SaleID) (ledger.Sale, error) {
	var sale ledger.Sale
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		sale, err = tx.GetSale(ctx, id)
		if err != nil {
			return err
		}
		if sale.Status == ledger.SaleCancelled {
			return fmt.Errorf("sale %s: %w", id, ledger.ErrAlreadyCancelled)
		}
		if err := tx.SetSaleStatus(ctx, id, ledger.SaleApproved, ledger.SaleCancelled); err != nil {
			return err
		}
		// rows are per unit
		if _, err := ledger.Restore(ctx, tx, sale.ItemID, 1); err != nil {
			return err
		}
		sale.Status = ledger.SaleCancelled
		return nil
	})
	if err != nil {
		e.Log.WithFields(logrus.Fields{"op": "cancel_sale", "sale_id": id}).
			WithError(err).Warn("cancellation rejected")
		return ledger.Sale{}, fmt.Errorf("cancel sale: %w", err)
	}

	e.Log.WithFields(logrus.Fields{"op": "cancel_sale", "sale_id": id, "item_id": sale.ItemID}).
		Info("sale cancelled")
	return sale, nil
}

// Get returns one sale row in any status.
func (e *Engine) Get(ctx context.Context, id ledger.SaleID) (ledger.Sale, error) {
	return e.store.GetSale(ctx, id)
}

// QueryByDateRange returns approved sales created in [start, end).
func (e *Engine) QueryByDateRange(ctx context.Context, start, end time.Time) ([]ledger.Sale, error) {
	if !end.After(start) {
		return nil, &ledger.InputError{Field: "range", Reason: "end must be after start"}
	}
	return e.store.SalesInRange(ctx, start, end, ledger.SaleApproved)
}

// StatsByDate aggregates the approved sales of date's calendar day, in
// date's location. Walk-in sales do not count as distinct customers.
func (e *Engine) StatsByDate(ctx context.Context, date time.Time) (DailyStats, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	sales, err := e.store.SalesInRange(ctx, day, day.AddDate(0, 0, 1), ledger.SaleApproved)
	if err != nil {
		return DailyStats{}, err
	}

	items := make(map[ledger.ItemID]struct{})
	customers := make(map[ledger.CustomerID]struct{})
	for _, s := range sales {
		items[s.ItemID] = struct{}{}
		if s.CustomerID != nil {
			customers[*s.CustomerID] = struct{}{}
		}
	}
	return DailyStats{
		Date:              day,
		Count:             len(sales),
		Total:             sumPrices(sales),
		DistinctItems:     len(items),
		DistinctCustomers: len(customers),
	}, nil
}

func sumPrices(sales []ledger.Sale) decimal.Decimal {
	total := decimal.Zero
	for _, s := range sales {
		total = total.Add(s.Price)
	}
	return total
}
