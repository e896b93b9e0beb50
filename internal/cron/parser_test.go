package cron

import (
	"testing"
	"time"
)

func TestParse_ValidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"every 5 minutes", "*/5 * * * *"},
		{"business hours", "*/10 8-18 * * 1-5"},
		{"hourly", "0 * * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := Parse(tt.expr, "UTC")
			if err != nil {
				t.Errorf("Parse(%q) returned error: %v", tt.expr, err)
			}
			if sched == nil {
				t.Errorf("Parse(%q) returned nil schedule", tt.expr)
			}
		})
	}
}

func TestParse_InvalidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"four fields", "* * * *"},
		{"six fields", "* * * * * *"},
		{"garbage", "not a cron"},
		{"out of range minute", "61 * * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.expr, "UTC"); err == nil {
				t.Errorf("Parse(%q) accepted an invalid expression", tt.expr)
			}
		})
	}
}

func TestParse_Timezone(t *testing.T) {
	sched, err := Parse("0 9 * * *", "America/New_York")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// 9am Eastern is 14:00 UTC in March (EST ends mid-month; the 2nd is
	// still standard time).
	after := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	next := sched.Next(after)
	if next.UTC().Hour() != 14 {
		t.Errorf("next = %v, want 14:00 UTC", next.UTC())
	}
}

func TestParse_DefaultTimezone(t *testing.T) {
	sched, err := Parse("30 2 * * *", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	after := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	next := sched.Next(after)
	if next.Hour() != 2 || next.Minute() != 30 {
		t.Errorf("next = %v, want 02:30 UTC", next)
	}
}

func TestParse_BadTimezone(t *testing.T) {
	if _, err := Parse("0 * * * *", "Mars/Olympus"); err == nil {
		t.Error("expected timezone error")
	}
}
