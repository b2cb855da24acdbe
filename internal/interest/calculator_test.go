package interest

import (
	"testing"
	"time"

	"github.com/lumenpay/lumenpay/internal/money"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDailyInterestLeapYear(t *testing.T) {
	calc := NewCalculator()
	principal := money.MustParse("100000")
	rate := money.MustParse("0.275")

	day := calc.DailyInterest(principal, rate, date(2024, time.February, 29))
	if day.DaysInYear != 366 || !day.IsLeapYear {
		t.Fatalf("expected leap-year day count, got %+v", day)
	}
	if got := money.FormatAmount(day.Interest); got != "75.1366" {
		t.Fatalf("leap-year interest: got %s", got)
	}
	if got := money.FormatRate(day.DailyRate); got != "0.0007513661" {
		t.Fatalf("leap-year daily rate: got %s", got)
	}
}

func TestDailyInterestRegularYear(t *testing.T) {
	calc := NewCalculator()
	principal := money.MustParse("100000")
	rate := money.MustParse("0.275")

	day := calc.DailyInterest(principal, rate, date(2023, time.June, 15))
	if day.DaysInYear != 365 || day.IsLeapYear {
		t.Fatalf("expected regular-year day count, got %+v", day)
	}
	if got := money.FormatAmount(day.Interest); got != "75.3425" {
		t.Fatalf("regular-year interest: got %s", got)
	}
}

func TestForDaysAcrossYearBoundary(t *testing.T) {
	calc := NewCalculator()
	principal := money.MustParse("100000")
	rate := money.MustParse("0.275")

	span := calc.ForDays(principal, rate, date(2023, time.December, 27), 10)
	if len(span.Days) != 10 {
		t.Fatalf("expected 10 days, got %d", len(span.Days))
	}
	for i, day := range span.Days {
		want := 365
		if day.Date.Year() == 2024 {
			want = 366
		}
		if day.DaysInYear != want {
			t.Fatalf("day %d (%s): daysInYear %d, want %d", i, day.Date.Format("2006-01-02"), day.DaysInYear, want)
		}
	}
	if got := money.FormatAmount(span.Days[4].Interest); got != "75.3425" {
		t.Fatalf("2023-12-31 interest: got %s", got)
	}
	if got := money.FormatAmount(span.Days[5].Interest); got != "75.1366" {
		t.Fatalf("2024-01-01 interest: got %s", got)
	}
	// 5 days priced against 365, 5 against 366.
	if got := money.FormatAmount(span.Total); got != "752.3955" {
		t.Fatalf("span total: got %s", got)
	}
}

// A full non-leap year of independent daily pricing reconciles with the
// annual figure up to the accumulated per-day rounding.
func TestForDaysFullYearReconciles(t *testing.T) {
	calc := NewCalculator()
	principal := money.MustParse("100000")
	rate := money.MustParse("0.275")

	span := calc.ForDays(principal, rate, date(2023, time.January, 1), 365)
	if got := money.FormatAmount(span.Total); got != "27500.0125" {
		t.Fatalf("full-year total: got %s", got)
	}

	annual := principal.Mul(rate)
	drift := span.Total.Sub(annual).Abs()
	if drift.GreaterThan(money.MustParse("0.02")) {
		t.Fatalf("drift from annual figure too large: %s", drift)
	}
}

func TestSimulateCompounds(t *testing.T) {
	calc := NewCalculator()
	principal := money.MustParse("100000")
	rate := money.MustParse("0.275")

	sim := calc.Simulate(principal, rate, date(2023, time.June, 1), 30)
	if len(sim.Days) != 30 {
		t.Fatalf("expected 30 days, got %d", len(sim.Days))
	}

	// Compounding re-prices each day on a growing balance.
	for i := 1; i < len(sim.Days); i++ {
		if !sim.Days[i].Principal.GreaterThan(sim.Days[i-1].Principal) {
			t.Fatalf("day %d principal did not grow: %s then %s",
				i, sim.Days[i-1].Principal, sim.Days[i].Principal)
		}
	}

	wantFinal := principal.Add(sim.TotalInterest)
	if !sim.FinalBalance.Equal(wantFinal) {
		t.Fatalf("final balance %s, want principal plus interest %s", sim.FinalBalance, wantFinal)
	}

	flat := calc.ForDays(principal, rate, date(2023, time.June, 1), 30)
	if !sim.TotalInterest.GreaterThan(flat.Total) {
		t.Fatalf("compounded total %s should exceed flat total %s", sim.TotalInterest, flat.Total)
	}
}
