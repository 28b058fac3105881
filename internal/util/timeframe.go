package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeframe converts a timeframe label ("1m", "5m", "15m", "1h", "4h",
// "1d") into its bar interval. Labels use a count followed by a unit: m for
// minutes, h for hours, d for days.
func ParseTimeframe(tf string) (time.Duration, error) {
	tf = strings.ToLower(strings.TrimSpace(tf))
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}

	unit := tf[len(tf)-1]
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}

	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timeframe unit %q in %q", string(unit), tf)
	}
}

// AlignToTimeframe truncates t down to the start of its bar interval in UTC.
// Both bar stores and gatherers use this so that the same candle always maps
// to the same timestamp regardless of source.
func AlignToTimeframe(t time.Time, interval time.Duration) time.Time {
	return t.UTC().Truncate(interval)
}

// BarsBetween returns how many complete bar intervals fit between start and
// end. Returns 0 when end is not after start.
func BarsBetween(start, end time.Time, interval time.Duration) int {
	if !end.After(start) || interval <= 0 {
		return 0
	}
	return int(end.Sub(start) / interval)
}
