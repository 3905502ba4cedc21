package services

import (
	"testing"

	"bilancio/internal/core"
)

func TestDailyCheckerIsDue(t *testing.T) {
	checker := dailyChecker{}
	today := core.NewDate(2026, 1, 15)
	start := core.NewDate(2026, 1, 1)

	tests := []struct {
		name         string
		lastExecuted core.Date
		want         bool
	}{
		{"never executed - is due", core.Date{}, true},
		{"executed today - not due", core.NewDate(2026, 1, 15), false},
		{"executed yesterday - is due", core.NewDate(2026, 1, 14), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checker.IsDue(tt.lastExecuted, today, start); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWeeklyCheckerIsDue(t *testing.T) {
	checker := weeklyChecker{}
	today := core.NewDate(2026, 1, 15)
	start := core.NewDate(2026, 1, 1)

	tests := []struct {
		name         string
		lastExecuted core.Date
		want         bool
	}{
		{"never executed - is due", core.Date{}, true},
		{"six days ago - not due", core.NewDate(2026, 1, 9), false},
		{"seven days ago - is due", core.NewDate(2026, 1, 8), true},
		{"two weeks ago - is due", core.NewDate(2026, 1, 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checker.IsDue(tt.lastExecuted, today, start); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMonthlyCheckerIsDue(t *testing.T) {
	checker := monthlyChecker{}

	tests := []struct {
		name         string
		lastExecuted core.Date
		today        core.Date
		start        core.Date
		want         bool
	}{
		{"never executed - is due",
			core.Date{}, core.NewDate(2026, 2, 10), core.NewDate(2026, 1, 15), true},
		{"same month - not due",
			core.NewDate(2026, 2, 15), core.NewDate(2026, 2, 20), core.NewDate(2026, 1, 15), false},
		{"new month before anchor day - not due",
			core.NewDate(2026, 1, 15), core.NewDate(2026, 2, 10), core.NewDate(2026, 1, 15), false},
		{"new month on anchor day - is due",
			core.NewDate(2026, 1, 15), core.NewDate(2026, 2, 15), core.NewDate(2026, 1, 15), true},
		{"anchor 31st clamps in february",
			core.NewDate(2026, 1, 31), core.NewDate(2026, 2, 28), core.NewDate(2025, 10, 31), true},
		{"anchor 31st february 27th - not due",
			core.NewDate(2026, 1, 31), core.NewDate(2026, 2, 27), core.NewDate(2025, 10, 31), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checker.IsDue(tt.lastExecuted, tt.today, tt.start); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestYearlyCheckerIsDue(t *testing.T) {
	checker := yearlyChecker{}
	start := core.NewDate(2024, 3, 15)

	tests := []struct {
		name         string
		lastExecuted core.Date
		today        core.Date
		want         bool
	}{
		{"never executed - is due", core.Date{}, core.NewDate(2026, 1, 1), true},
		{"same year - not due", core.NewDate(2026, 3, 15), core.NewDate(2026, 12, 31), false},
		{"new year before anchor month - not due", core.NewDate(2025, 3, 15), core.NewDate(2026, 2, 1), false},
		{"new year on anchor day - is due", core.NewDate(2025, 3, 15), core.NewDate(2026, 3, 15), true},
		{"new year after anchor month - is due", core.NewDate(2025, 3, 15), core.NewDate(2026, 4, 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checker.IsDue(tt.lastExecuted, tt.today, start); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetDuenessChecker(t *testing.T) {
	for _, f := range []core.Frequency{core.Daily, core.Weekly, core.Monthly, core.Yearly} {
		if _, err := GetDuenessChecker(f); err != nil {
			t.Errorf("GetDuenessChecker(%s): %v", f, err)
		}
	}
	if _, err := GetDuenessChecker("FORTNIGHTLY"); err == nil {
		t.Error("expected error for unknown frequency")
	}
}
