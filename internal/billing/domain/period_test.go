package domain

import (
	"testing"
	"time"
)

func TestPeriodExpired(t *testing.T) {
	resetAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		now     time.Time
		expired bool
	}{
		{"before boundary", resetAt.Add(-time.Second), false},
		{"at boundary", resetAt, true},
		{"after boundary", resetAt.Add(time.Second), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PeriodExpired(tc.now, resetAt); got != tc.expired {
				t.Fatalf("PeriodExpired(%v, %v) = %v, want %v", tc.now, resetAt, got, tc.expired)
			}
		})
	}
}

func TestNextResetAt(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			"mid month",
			time.Date(2025, 2, 14, 10, 30, 0, 0, time.UTC),
			time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"first instant of month",
			time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"year rollover",
			time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"jan 31 does not skip",
			time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextResetAt(tc.now); !got.Equal(tc.want) {
				t.Fatalf("NextResetAt(%v) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestEffectiveUsed(t *testing.T) {
	resetAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	if got := EffectiveUsed(resetAt.Add(-time.Hour), resetAt, 42); got != 42 {
		t.Fatalf("expected stored counter before expiry, got %d", got)
	}
	if got := EffectiveUsed(resetAt, resetAt, 42); got != 0 {
		t.Fatalf("expected zero at expiry, got %d", got)
	}
}

func TestRemainingFree(t *testing.T) {
	if got := RemainingFree(500, 499); got != 1 {
		t.Fatalf("expected 1 remaining, got %d", got)
	}
	if got := RemainingFree(500, 500); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}
	if got := RemainingFree(500, 750); got != 0 {
		t.Fatalf("expected clamp at 0, got %d", got)
	}
}

func TestMonthStart(t *testing.T) {
	now := time.Date(2025, 7, 19, 8, 45, 12, 0, time.UTC)
	want := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	if got := MonthStart(now); !got.Equal(want) {
		t.Fatalf("MonthStart(%v) = %v, want %v", now, got, want)
	}
}
