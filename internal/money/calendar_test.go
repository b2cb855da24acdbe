package money

import (
	"testing"
	"time"
)

func TestIsLeapYear(t *testing.T) {
	cases := map[int]bool{
		2024: true,
		2023: false,
		2000: true,
		1900: false,
		2100: false,
		2400: true,
	}
	for year, want := range cases {
		if got := IsLeapYear(year); got != want {
			t.Fatalf("IsLeapYear(%d): got %v, want %v", year, got, want)
		}
	}
}

func TestDaysInYear(t *testing.T) {
	if got := DaysInYear(2024); got != 366 {
		t.Fatalf("2024: got %d", got)
	}
	if got := DaysInYear(2023); got != 365 {
		t.Fatalf("2023: got %d", got)
	}
}

func TestDateOnly(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	ts := time.Date(2024, time.February, 29, 3, 45, 12, 999, loc)

	got := DateOnly(ts)
	want := time.Date(2024, time.February, 28, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
