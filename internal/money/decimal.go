// Package money provides the fixed-precision decimal arithmetic used for every
// monetary value in the system. Amounts are stored with 4 fractional digits,
// daily interest rates with 10, and intermediate division keeps at least 20
// significant digits before storage rounding. Binary floating point is never
// used for money.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// AmountScale is the number of fractional digits kept on stored amounts
	// and balances.
	AmountScale = 4

	// RateScale is the number of fractional digits kept on stored daily
	// rates. Annual-rate / days-in-year produces a repeating fraction;
	// rounding it at 4 digits would drift by multiple basis points over a
	// year.
	RateScale = 10

	// divPrecision is the number of fractional digits carried through
	// intermediate division. Daily rates sit around 1e-3, so 24 fractional
	// digits keeps at least 20 significant digits in every quotient.
	divPrecision = 24
)

// Zero is the canonical zero amount.
var Zero = decimal.Zero

// Parse converts a canonical decimal string into a decimal value. Amounts
// travel as strings across serialization boundaries, so this is the single
// entry point for untrusted numeric input.
func Parse(s string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("empty decimal string")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse for compile-time constants; it panics on invalid input.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// RoundAmount rounds to the stored amount scale using round half away from
// zero, the standard financial rounding mode.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// RoundRate rounds a daily rate to its stored scale.
func RoundRate(d decimal.Decimal) decimal.Decimal {
	return d.Round(RateScale)
}

// Div divides keeping the intermediate precision floor, before any storage
// rounding is applied by the caller.
func Div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, divPrecision)
}

// DailyRate derives the per-day rate for an annual rate in a year of the
// given length, at full intermediate precision.
func DailyRate(annualRate decimal.Decimal, daysInYear int) decimal.Decimal {
	return Div(annualRate, decimal.NewFromInt(int64(daysInYear)))
}

// FormatAmount renders an amount at the stored scale, e.g. "75.1366".
func FormatAmount(d decimal.Decimal) string {
	return RoundAmount(d).StringFixed(AmountScale)
}

// FormatRate renders a daily rate at the stored scale.
func FormatRate(d decimal.Decimal) string {
	return RoundRate(d).StringFixed(RateScale)
}
