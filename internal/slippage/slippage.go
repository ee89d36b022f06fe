package slippage

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/songzhibin97/ammswap/internal/errs"
)

var (
	// DefaultTolerance is the accepted shortfall between quoted and realized output
	DefaultTolerance = decimal.NewFromFloat(0.01)
	// DefaultDeadlineWindow bounds how long the router may hold a swap
	DefaultDeadlineWindow = 20 * time.Minute

	maxTolerance = decimal.NewFromFloat(0.5)
)

// ValidateTolerance accepts fractions in [0, 0.5).
func ValidateTolerance(tolerance decimal.Decimal) error {
	if tolerance.IsNegative() || tolerance.GreaterThanOrEqual(maxTolerance) {
		return errs.New(errs.InvalidConfiguration, "slippage.validate",
			"tolerance %s outside [0, 0.5)", tolerance)
	}
	return nil
}

// MinimumOutput returns floor(quoted * (1 - tolerance)).
func MinimumOutput(quoted *big.Int, tolerance decimal.Decimal) (*big.Int, error) {
	if err := ValidateTolerance(tolerance); err != nil {
		return nil, err
	}
	if quoted == nil || quoted.Sign() < 0 {
		return nil, errs.New(errs.InvalidAmount, "slippage.minimum_output", "quoted output must be non-negative")
	}

	keep := decimal.NewFromInt(1).Sub(tolerance)
	return decimal.NewFromBigInt(quoted, 0).Mul(keep).Floor().BigInt(), nil
}

// Deadline is the unix deadline handed to the router.
func Deadline(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		window = DefaultDeadlineWindow
	}
	return now.Add(window)
}
