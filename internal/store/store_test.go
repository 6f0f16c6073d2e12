package store

import (
	"testing"
	"time"
)

func TestMonthRange(t *testing.T) {
	from, to := MonthRange(time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC))
	if !from.Equal(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v", from)
	}
	if !to.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to = %v", to)
	}
}

func TestParseMonth(t *testing.T) {
	got, err := ParseMonth("2025-02")
	if err != nil {
		t.Fatalf("ParseMonth() error = %v", err)
	}
	if got.Month() != time.February || got.Year() != 2025 {
		t.Errorf("ParseMonth() = %v", got)
	}
	if _, err := ParseMonth("02/2025"); err == nil {
		t.Error("ParseMonth() accepted a malformed month")
	}
}
