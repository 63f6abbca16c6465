/*
layaway.go - Layaway / partial-payment engine ("apartados")

PURPOSE:
  Sells a cart paid in full or in installments. Checkout writes one
  header, one detail row per physical unit and the stock decrements in a
  single transaction. Later installments (abonos) raise the header's
  paid amount until it covers the total.

STATE MACHINE:
  PENDING ──AddPayment (paid ≥ total − ε)──► PAID
  PENDING|PAID ──CancelSale──► CANCELLED (terminal)

  ε is ledger.Epsilon() (0.01). A checkout whose initial payment already
  covers the total starts PAID.

PRICING:
  Checkout never trusts client prices. It re-reads each item's price and
  discount from the catalog and stores the computed final price per unit.
  The client's total must agree with the catalog total within ε.

PAYMENTS:
  The initial payment is part of the header's paid amount and is not an
  Abono row. Every AddPayment writes exactly one Abono.
*/
package layaway

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/shop-engine/ledger"
)

// CheckoutRequest is a cart handed over at the counter.
type CheckoutRequest struct {
	Lines          []ledger.CartLine
	CustomerID     *ledger.CustomerID
	Total          decimal.Decimal
	InitialPayment decimal.Decimal
}

// Receipt is the outcome of a checkout.
type Receipt struct {
	Sale      ledger.LayawaySale     `json:"sale"`
	Details   []ledger.LayawayDetail `json:"details"`
	IsLayaway bool                   `json:"is_layaway"`
}

// PaymentResult is the outcome of an installment. Liquidated is true
// when this payment moved the sale to PAID.
type PaymentResult struct {
	Sale       ledger.LayawaySale `json:"sale"`
	Payment    ledger.Abono       `json:"payment"`
	Liquidated bool               `json:"liquidated"`
}

// View is a header with its detail rows.
type View struct {
	Sale    ledger.LayawaySale     `json:"sale"`
	Details []ledger.LayawayDetail `json:"details"`
}

// Engine is the layaway engine.
type Engine struct {
	store ledger.TxStore
	Log   logrus.FieldLogger
	Now   func() time.Time
}

// New creates a layaway engine over store.
func New(store ledger.TxStore, opts ...ledger.Option) *Engine {
	o := ledger.BuildOptions(opts...)
	return &Engine{store: store, Log: o.Log.WithField("module", "layaway"), Now: o.Now}
}

// =============================================================================
// CHECKOUT
// =============================================================================

// Checkout sells the cart. It is a layaway when the initial payment is
// below the catalog total − ε, in which case a customer is required.
func (e *Engine) Checkout(ctx context.Context, req CheckoutRequest, seller ledger.Actor) (Receipt, error) {
	if err := validateCheckout(req, seller); err != nil {
		return Receipt{}, err
	}

	var receipt Receipt
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		var customer *ledger.Customer
		if req.CustomerID != nil {
			c, err := tx.GetCustomer(ctx, *req.CustomerID)
			if err != nil {
				return err
			}
			customer = &c
		}

		// First pass: authoritative prices under lock.
		total := decimal.Zero
		for _, line := range req.Lines {
			item, err := tx.LockItem(ctx, line.ItemID)
			if err != nil {
				return err
			}
			total = total.Add(item.FinalPrice().Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
		if total.Sub(req.Total).Abs().GreaterThan(ledger.Epsilon()) {
			return &ledger.AmountError{
				Field:  "total",
				Value:  req.Total.String(),
				Reason: fmt.Sprintf("does not match catalog total %s", total.StringFixed(2)),
			}
		}

		// decided on the catalog total, not the client's
		isLayaway := ledger.IsLayaway(req.InitialPayment, total)
		if isLayaway && req.CustomerID == nil {
			return ledger.ErrCustomerRequired
		}

		now := e.Now()
		header := ledger.LayawaySale{
			ID:               ledger.LayawayID(ledger.NewID()),
			CustomerID:       req.CustomerID,
			CustomerSnapshot: ledger.CustomerSnapshot(customer),
			SellerID:         seller.ID,
			SellerSnapshot:   ledger.ActorSnapshot(seller),
			Total:            total,
			Paid:             decimal.Min(req.InitialPayment, total),
			Status:           ledger.LayawayPaid,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if isLayaway {
			header.Status = ledger.LayawayPending
		}
		if err := tx.InsertLayaway(ctx, header); err != nil {
			return err
		}

		// Second pass: decrement and write one detail per unit.
		var details []ledger.LayawayDetail
		for _, line := range req.Lines {
			item, err := ledger.Withdraw(ctx, tx, line.ItemID, line.Quantity)
			if err != nil {
				return err
			}
			for i := 0; i < line.Quantity; i++ {
				d := ledger.LayawayDetail{
					ID:              ledger.DetailID(ledger.NewID()),
					SaleID:          header.ID,
					ItemID:          item.ID,
					TitleSnapshot:   ledger.ItemSnapshot(item),
					UnitPrice:       item.UnitPrice,
					DiscountApplied: item.Discount,
					FinalPrice:      item.FinalPrice(),
				}
				if err := tx.InsertLayawayDetail(ctx, d); err != nil {
					return err
				}
				details = append(details, d)
			}
		}

		receipt = Receipt{Sale: header, Details: details, IsLayaway: isLayaway}
		return nil
	})
	if err != nil {
		e.Log.WithFields(logrus.Fields{"op": "checkout", "lines": len(req.Lines)}).
			WithError(err).Warn("checkout rejected")
		return Receipt{}, fmt.Errorf("checkout: %w", err)
	}

	e.Log.WithFields(logrus.Fields{
		"op": "checkout", "sale_id": receipt.Sale.ID, "total": receipt.Sale.Total.String(),
		"paid": receipt.Sale.Paid.String(), "status": receipt.Sale.Status, "units": len(receipt.Details),
	}).Info("checkout completed")
	return receipt, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// AddPayment records one installment. Paying more than the remaining
// balance (beyond ε) is rejected.
func (e *Engine) AddPayment(ctx context.Context, id ledger.LayawayID, amount decimal.Decimal, actor ledger.Actor) (PaymentResult, error) {
	if !amount.IsPositive() {
		return PaymentResult{}, &ledger.AmountError{Field: "amount", Value: amount.String(), Reason: "must be positive"}
	}
	if err := ledger.ValidateActor(actor); err != nil {
		return PaymentResult{}, err
	}

	var result PaymentResult
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		sale, err := tx.LockLayaway(ctx, id)
		if err != nil {
			return err
		}
		switch sale.Status {
		case ledger.LayawayCancelled:
			return fmt.Errorf("layaway %s: %w", id, ledger.ErrAlreadyCancelled)
		case ledger.LayawayPaid:
			return fmt.Errorf("layaway %s: %w", id, ledger.ErrAlreadyPaid)
		}
		if amount.GreaterThan(sale.Remaining().Add(ledger.Epsilon())) {
			return &ledger.AmountError{
				Field:  "amount",
				Value:  amount.String(),
				Reason: fmt.Sprintf("exceeds remaining balance %s", sale.Remaining().StringFixed(2)),
			}
		}

		now := e.Now()
		sale.Paid = sale.Paid.Add(amount)
		sale.UpdatedAt = now
		if ledger.Covers(sale.Paid, sale.Total) {
			sale.Status = ledger.LayawayPaid
			result.Liquidated = true
		}
		if err := tx.UpdateLayaway(ctx, sale); err != nil {
			return err
		}

		payment := ledger.Abono{
			ID:           ledger.PaymentID(ledger.NewID()),
			SaleID:       id,
			Amount:       amount,
			UserID:       actor.ID,
			UserSnapshot: ledger.ActorSnapshot(actor),
			CreatedAt:    now,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		result.Sale = sale
		result.Payment = payment
		return nil
	})
	if err != nil {
		e.Log.WithFields(logrus.Fields{"op": "add_payment", "sale_id": id, "amount": amount.String()}).
			WithError(err).Warn("payment rejected")
		return PaymentResult{}, fmt.Errorf("add payment: %w", err)
	}

	e.Log.WithFields(logrus.Fields{
		"op": "add_payment", "sale_id": id, "amount": amount.String(),
		"paid": result.Sale.Paid.String(), "liquidated": result.Liquidated,
	}).Info("payment recorded")
	return result, nil
}

// =============================================================================
// CANCELLATION
// =============================================================================

// CancelSale puts every unit back on hand and marks the sale CANCELLED.
// Payments already made are kept on record.
func (e *Engine) CancelSale(ctx context.Context, id ledger.LayawayID) (ledger.LayawaySale, error) {
	var sale ledger.LayawaySale
	err := e.store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		sale, err = tx.LockLayaway(ctx, id)
		if err != nil {
			return err
		}
		if sale.Status == ledger.LayawayCancelled {
			return fmt.Errorf("layaway %s: %w", id, ledger.ErrAlreadyCancelled)
		}
		details, err := tx.LayawayDetails(ctx, id)
		if err != nil {
			return err
		}
		for _, d := range details {
			if _, err := ledger.Restore(ctx, tx, d.ItemID, 1); err != nil {
				return err
			}
		}
		sale.Status = ledger.LayawayCancelled
		sale.UpdatedAt = e.Now()
		return tx.UpdateLayaway(ctx, sale)
	})
	if err != nil {
		e.Log.WithFields(logrus.Fields{"op": "cancel_layaway", "sale_id": id}).
			WithError(err).Warn("cancellation rejected")
		return ledger.LayawaySale{}, fmt.Errorf("cancel layaway: %w", err)
	}

	e.Log.WithFields(logrus.Fields{"op": "cancel_layaway", "sale_id": id}).Info("layaway cancelled")
	return sale, nil
}

// =============================================================================
// READ PROJECTIONS
// =============================================================================

// Detail returns the header and its detail rows.
func (e *Engine) Detail(ctx context.Context, id ledger.LayawayID) (View, error) {
	sale, err := e.store.GetLayaway(ctx, id)
	if err != nil {
		return View{}, err
	}
	details, err := e.store.LayawayDetails(ctx, id)
	if err != nil {
		return View{}, err
	}
	return View{Sale: sale, Details: details}, nil
}

// Payments returns the installments of a sale, oldest first.
func (e *Engine) Payments(ctx context.Context, id ledger.LayawayID) ([]ledger.Abono, error) {
	if _, err := e.store.GetLayaway(ctx, id); err != nil {
		return nil, err
	}
	return e.store.Payments(ctx, id)
}

// List returns headers, newest first.
func (e *Engine) List(ctx context.Context, filter ledger.LayawayFilter) ([]ledger.LayawaySale, error) {
	return e.store.ListLayaways(ctx, filter)
}

func validateCheckout(req CheckoutRequest, seller ledger.Actor) error {
	if err := ledger.ValidateActor(seller); err != nil {
		return err
	}
	if err := ledger.ValidateCart(req.Lines); err != nil {
		return err
	}
	if !req.Total.IsPositive() {
		return &ledger.AmountError{Field: "total", Value: req.Total.String(), Reason: "must be positive"}
	}
	if req.InitialPayment.IsNegative() {
		return &ledger.AmountError{Field: "initial_payment", Value: req.InitialPayment.String(), Reason: "must not be negative"}
	}
	return nil
}
