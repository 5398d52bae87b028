package timeparser

import (
	"fmt"
	"strings"
	"time"
)

const (
	// LocalTimeLayout is the wire and response format for device local time.
	LocalTimeLayout = "2006-01-02 15:04:05"
	// DateLayout is the format of calendar dates in responses.
	DateLayout = "2006-01-02"
)

// ParseLocalTime parses a device timestamp into a zone-less wall clock value.
// Offsets carried by RFC3339 input are dropped, the wall clock is kept, and
// sub-second precision is truncated.
func ParseLocalTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	formats := []string{
		LocalTimeLayout,       // YYYY-MM-DD HH:mm:ss
		"2006-01-02T15:04:05", // YYYY-MM-DDTHH:mm:ss
		time.RFC3339Nano,      // Standard RFC3339, optional fraction
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return wallClock(t), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", s, lastErr)
}

// FormatLocalTime renders a wall clock value as YYYY-MM-DD HH:MM:SS.
func FormatLocalTime(t time.Time) string {
	return t.Format(LocalTimeLayout)
}

// FormatDate renders the calendar date of a wall clock value.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}
