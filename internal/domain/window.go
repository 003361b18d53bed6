package domain

import (
	"fmt"
	"time"
)

// hourKeyLayout is the canonical string form of an hour bucket,
// e.g. "2025-06-01T14:00:00Z".
const hourKeyLayout = "2006-01-02T15:00:00Z"

// dayKeyLayout is the canonical string form of a UTC day bucket.
const dayKeyLayout = "2006-01-02"

// HourKey truncates a timestamp to its UTC hour. Minutes, seconds and
// fractions are discarded; the location is normalized to UTC first so
// the same instant always lands in the same bucket.
func HourKey(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// FormatHourWindow renders an hour bucket in its canonical string form.
func FormatHourWindow(t time.Time) string {
	return HourKey(t).Format(hourKeyLayout)
}

// DayKey returns the canonical UTC calendar-day key for a timestamp.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayKeyLayout)
}

// ParseHourWindow parses an hour-window string into its canonical UTC
// hour. Any RFC 3339 timestamp is accepted and truncated; offsets are
// normalized to UTC, so "2025-06-01T16:30:00+02:00" and
// "2025-06-01T14:00:00Z" name the same bucket. Malformed input returns
// an error wrapping ErrMalformedHourWindow and must not mutate any
// caller state.
func ParseHourWindow(window string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, window)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrMalformedHourWindow, window, err)
	}
	return HourKey(t), nil
}
