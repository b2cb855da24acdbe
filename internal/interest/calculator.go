// Package interest computes and materializes daily interest. The calculator
// is pure: it never persists anything and produces no idempotency keys.
package interest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumenpay/lumenpay/internal/money"
)

// DayInterest is one day's pricing. DailyRate carries 10 fractional digits,
// Interest 4; both are derived from the calendar year of Date itself, so a
// span crossing a leap boundary switches day counts mid-sequence.
type DayInterest struct {
	Date       time.Time       `json:"date"`
	Principal  decimal.Decimal `json:"principal"`
	DaysInYear int             `json:"days_in_year"`
	IsLeapYear bool            `json:"is_leap_year"`
	DailyRate  decimal.Decimal `json:"daily_rate"`
	Interest   decimal.Decimal `json:"interest"`
}

// SpanResult is a multi-day calculation over a fixed principal.
type SpanResult struct {
	Days  []DayInterest   `json:"days"`
	Total decimal.Decimal `json:"total"`
}

// SimulationResult is a compounding projection: each day's interest joins the
// balance before the next day is priced.
type SimulationResult struct {
	Days          []DayInterest   `json:"days"`
	FinalBalance  decimal.Decimal `json:"final_balance"`
	TotalInterest decimal.Decimal `json:"total_interest"`
}

// Calculator prices interest deterministically from decimal inputs. It is
// stateless; a single instance is shared by injection.
type Calculator struct{}

// NewCalculator constructs a calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// DailyInterest prices one day: rate divided by the day count of that date's
// year at full intermediate precision, multiplied by the principal, rounded
// half away from zero at the storage scales.
func (c *Calculator) DailyInterest(principal, annualRate decimal.Decimal, date time.Time) DayInterest {
	day := money.DateOnly(date)
	year := day.Year()
	daysInYear := money.DaysInYear(year)
	rate := money.DailyRate(annualRate, daysInYear)

	return DayInterest{
		Date:       day,
		Principal:  principal,
		DaysInYear: daysInYear,
		IsLeapYear: money.IsLeapYear(year),
		DailyRate:  money.RoundRate(rate),
		Interest:   money.RoundAmount(principal.Mul(rate)),
	}
}

// ForDays prices n consecutive days on a fixed principal, one independent
// daily calculation per date. Summing per-day results rather than dividing by
// an average day count keeps leap boundaries exact.
func (c *Calculator) ForDays(principal, annualRate decimal.Decimal, start time.Time, days int) SpanResult {
	result := SpanResult{Total: decimal.Zero}
	date := money.DateOnly(start)
	for i := 0; i < days; i++ {
		day := c.DailyInterest(principal, annualRate, date)
		result.Days = append(result.Days, day)
		result.Total = result.Total.Add(day.Interest)
		date = date.AddDate(0, 0, 1)
	}
	result.Total = money.RoundAmount(result.Total)
	return result
}

// Simulate projects compounded growth over n days. Purely informational; it
// writes nothing.
func (c *Calculator) Simulate(principal, annualRate decimal.Decimal, start time.Time, days int) SimulationResult {
	result := SimulationResult{TotalInterest: decimal.Zero}
	balance := principal
	date := money.DateOnly(start)
	for i := 0; i < days; i++ {
		day := c.DailyInterest(balance, annualRate, date)
		result.Days = append(result.Days, day)
		result.TotalInterest = result.TotalInterest.Add(day.Interest)
		balance = money.RoundAmount(balance.Add(day.Interest))
		date = date.AddDate(0, 0, 1)
	}
	result.FinalBalance = balance
	result.TotalInterest = money.RoundAmount(result.TotalInterest)
	return result
}
