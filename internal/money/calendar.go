package money

import "time"

// IsLeapYear reports whether the year is a leap year under the proleptic
// Gregorian rule: divisible by 4 and not by 100, unless also divisible by 400.
func IsLeapYear(year int) bool {
	switch {
	case year%400 == 0:
		return true
	case year%100 == 0:
		return false
	default:
		return year%4 == 0
	}
}

// DaysInYear returns 366 for leap years and 365 otherwise.
func DaysInYear(year int) int {
	if IsLeapYear(year) {
		return 366
	}
	return 365
}

// DateOnly truncates a timestamp to midnight UTC. Accrual records are keyed by
// calendar date, so every date entering the store passes through here.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
