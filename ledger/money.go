package ledger

import "github.com/shopspring/decimal"

// epsilon absorbs rounding drift in "is this paid off" comparisons.
var epsilon = decimal.New(1, -2)

// Epsilon returns the payment tolerance: 0.01 currency units, exactly.
func Epsilon() decimal.Decimal { return epsilon }

var hundred = decimal.NewFromInt(100)

// FinalPrice applies a percentage discount and rounds to cents.
func FinalPrice(price, discountPct decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(discountPct.Div(hundred))
	return price.Mul(factor).Round(2)
}

// IsLayaway reports whether an initial payment leaves a balance to pay later.
func IsLayaway(initialPayment, total decimal.Decimal) bool {
	return initialPayment.LessThan(total.Sub(epsilon))
}

// Covers reports whether paid settles total within Epsilon().
func Covers(paid, total decimal.Decimal) bool {
	return paid.GreaterThanOrEqual(total.Sub(epsilon))
}

// Sum adds a list of amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
