package domain

import (
	"testing"
	"time"
)

func TestDayOf(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)

	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			"truncates time of day",
			time.Date(2025, 6, 10, 23, 59, 59, 0, time.UTC),
			time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			"normalizes zone before truncating",
			time.Date(2025, 6, 11, 4, 0, 0, 0, loc),
			time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DayOf(tc.in); !got.Equal(tc.want) {
				t.Fatalf("DayOf(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
