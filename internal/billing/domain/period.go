package domain

import "time"

// The free-operation quota runs on calendar months in UTC. Accounts store
// the start of their next period in free_operations_reset_at; expiry is
// evaluated lazily on every read and write, and eagerly by the sweep. All
// three paths share these functions so they can never disagree.

// PeriodExpired reports whether the quota period anchored at resetAt has
// ended at instant now. The boundary instant itself counts as expired.
func PeriodExpired(now, resetAt time.Time) bool {
	return !now.UTC().Before(resetAt.UTC())
}

// NextResetAt returns the first instant of the calendar month after now, UTC.
func NextResetAt(now time.Time) time.Time {
	next := now.UTC().AddDate(0, 1, 0)
	return time.Date(next.Year(), next.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// EffectiveUsed is the quota consumption as of now: zero when the stored
// period has lapsed, the stored counter otherwise.
func EffectiveUsed(now, resetAt time.Time, used int) int {
	if PeriodExpired(now, resetAt) {
		return 0
	}
	return used
}

// RemainingFree clamps quota minus used at zero.
func RemainingFree(quota, used int) int {
	remaining := quota - used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MonthStart returns the first instant of now's calendar month, UTC.
func MonthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
