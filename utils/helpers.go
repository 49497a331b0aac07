package utils

import (
	"fmt"
	"strconv"
	"time"
)

// Intervals accepted by the archive's toStartOfInterval queries.
var Intervals = []string{"Minute", "Hour", "Day", "Week", "Month", "Quarter", "Year"}

// IsValidInterval guards the interval before it is spliced into SQL.
func IsValidInterval(interval string) bool {
	for _, v := range Intervals {
		if v == interval {
			return true
		}
	}
	return false
}

// ParseLimit reads a positive row limit, returning def for an empty value.
func ParseLimit(raw string, def uint64) (uint64, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid limit %q: must be a positive integer", raw)
	}
	return n, nil
}

// ParseRange reads RFC3339 start/end bounds. Missing bounds default to the
// window ending at now.
func ParseRange(start, end string, now time.Time, window time.Duration) (time.Time, time.Time, error) {
	to := now.UTC()
	if end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)")
		}
		to = t
	}
	from := to.Add(-window)
	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)")
		}
		from = t
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("'end' must not be before 'start'")
	}
	return from, to, nil
}
