// Package earnedvalue converts completion percentages into billable amounts.
//
// All functions are pure. Money uses shopspring/decimal; percentages are
// plain float64 values in [0,100] and are converted to decimals before any
// subtraction so that deltas such as 33.33-20.10 stay exact.
package earnedvalue

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/sitebill/sitebill/internal/shared"
)

const (
	// MinProgress is the lowest accepted completion percentage.
	MinProgress = 0.0
	// MaxProgress is the highest accepted completion percentage.
	MaxProgress = 100.0
)

var hundred = decimal.NewFromInt(100)

// Change describes one service's progress movement.
type Change struct {
	UnitPrice   decimal.Decimal
	Quantity    decimal.Decimal
	OldProgress float64
	NewProgress float64
}

// EarnedValue returns unitPrice*quantity*max(0, newProgress-oldProgress)/100.
// A progress decrease earns nothing; reversals are handled outside billing.
func EarnedValue(unitPrice, quantity decimal.Decimal, oldProgress, newProgress float64) (decimal.Decimal, error) {
	if err := validateAmounts(unitPrice, quantity); err != nil {
		return decimal.Zero, err
	}
	if err := ValidateProgress(oldProgress); err != nil {
		return decimal.Zero, err
	}
	if err := ValidateProgress(newProgress); err != nil {
		return decimal.Zero, err
	}
	delta := decimal.NewFromFloat(newProgress).Sub(decimal.NewFromFloat(oldProgress))
	if !delta.IsPositive() {
		return decimal.Zero, nil
	}
	return unitPrice.Mul(quantity).Mul(delta).Div(hundred), nil
}

// CurrentPayableAmount returns the cumulative value earned to date, ignoring billing history.
func CurrentPayableAmount(unitPrice, quantity decimal.Decimal, currentProgress float64) (decimal.Decimal, error) {
	if err := validateAmounts(unitPrice, quantity); err != nil {
		return decimal.Zero, err
	}
	if err := ValidateProgress(currentProgress); err != nil {
		return decimal.Zero, err
	}
	return unitPrice.Mul(quantity).Mul(decimal.NewFromFloat(currentProgress)).Div(hundred), nil
}

// UnbilledAmount is the value between the billing watermark and current progress.
func UnbilledAmount(unitPrice, quantity decimal.Decimal, currentProgress, lastInvoicedProgress float64) (decimal.Decimal, error) {
	return EarnedValue(unitPrice, quantity, lastInvoicedProgress, currentProgress)
}

// TotalEarnedValue sums EarnedValue over changes, failing on the first invalid entry.
func TotalEarnedValue(changes []Change) (decimal.Decimal, error) {
	total := decimal.Zero
	for i, c := range changes {
		v, err := EarnedValue(c.UnitPrice, c.Quantity, c.OldProgress, c.NewProgress)
		if err != nil {
			return decimal.Zero, fmt.Errorf("change %d: %w", i, err)
		}
		total = total.Add(v)
	}
	return total, nil
}

// ValidateProgress rejects NaN and values outside [0,100].
func ValidateProgress(p float64) error {
	if math.IsNaN(p) || p < MinProgress || p > MaxProgress {
		return fmt.Errorf("%w: progress %v outside [0,100]", shared.ErrValidation, p)
	}
	return nil
}

// ClampProgress pins p into [0,100]. NaN becomes 0.
func ClampProgress(p float64) float64 {
	switch {
	case math.IsNaN(p), p < MinProgress:
		return MinProgress
	case p > MaxProgress:
		return MaxProgress
	default:
		return p
	}
}

// RoundCurrency rounds half away from zero to two decimal places.
func RoundCurrency(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

func validateAmounts(unitPrice, quantity decimal.Decimal) error {
	if unitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price %s is negative", shared.ErrValidation, unitPrice)
	}
	if quantity.IsNegative() {
		return fmt.Errorf("%w: quantity %s is negative", shared.ErrValidation, quantity)
	}
	return nil
}
