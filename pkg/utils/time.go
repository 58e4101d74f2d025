package utils

import (
	"math"
	"time"
)

// Now returns the current time in UTC timezone
func Now() time.Time {
	return time.Now().UTC()
}

// Clock abstracts the current time so time-window logic can be tested deterministically.
type Clock func() time.Time

// SystemClock is the default Clock backed by Now.
var SystemClock Clock = Now

// StartOfDay returns local midnight of t in loc. A nil loc means UTC.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// CeilHours rounds a positive duration up to whole hours. Non-positive durations yield 0.
func CeilHours(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d) / float64(time.Hour)))
}

// AgeInDays returns the number of whole days elapsed between createdAt and now.
func AgeInDays(createdAt, now time.Time) int {
	if createdAt.After(now) {
		return 0
	}
	return int(now.Sub(createdAt) / (24 * time.Hour))
}

// FormatISO8601 formats a time.Time to ISO8601 format in UTC
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
