package timeparser_test

import (
	"testing"
	"time"

	"github.com/septivank/appliance-telemetry/tools/timeparser"
)

func TestParseLocalTime_SpaceSeparated(t *testing.T) {
	result, err := timeparser.ParseLocalTime("2025-03-01 08:00:00")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseLocalTime_TSeparated(t *testing.T) {
	result, err := timeparser.ParseLocalTime("2025-03-01T08:00:00")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseLocalTime_RFC3339KeepsWallClock(t *testing.T) {
	result, err := timeparser.ParseLocalTime("2025-03-01T08:00:00.750+02:00")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseLocalTime_Invalid(t *testing.T) {
	_, err := timeparser.ParseLocalTime("invalid-date-string")
	if err == nil {
		t.Error("Expected error for invalid timestamp")
	}
}

func TestParseLocalTime_ZeroDateRejected(t *testing.T) {
	_, err := timeparser.ParseLocalTime("0000-00-00 00:00:00")
	if err == nil {
		t.Error("Expected error for zero date")
	}
}

func TestFormatLocalTime(t *testing.T) {
	ts := time.Date(2025, 3, 1, 8, 5, 9, 0, time.UTC)

	if got := timeparser.FormatLocalTime(ts); got != "2025-03-01 08:05:09" {
		t.Errorf("Expected '2025-03-01 08:05:09', got '%s'", got)
	}
	if got := timeparser.FormatDate(ts); got != "2025-03-01" {
		t.Errorf("Expected '2025-03-01', got '%s'", got)
	}
}
