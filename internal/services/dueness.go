package services

import (
	"fmt"
	"time"

	"bilancio/internal/core"
)

// DuenessChecker decides whether a recurring template should materialize a
// transaction today. Each frequency has its own strategy.
type DuenessChecker interface {
	// IsDue reports whether the template is due given its last materialized
	// day, today, and the template's anchor start date.
	IsDue(lastExecuted, today, startDate core.Date) bool
}

type dailyChecker struct{}

// IsDue returns true once per calendar day.
func (dailyChecker) IsDue(lastExecuted, today, _ core.Date) bool {
	if lastExecuted.IsZero() {
		return true
	}
	return lastExecuted != today
}

type weeklyChecker struct{}

// IsDue returns true when 7 or more days have passed since the last run.
func (weeklyChecker) IsDue(lastExecuted, today, _ core.Date) bool {
	if lastExecuted.IsZero() {
		return true
	}
	return lastExecuted.DaysUntil(today) >= 7
}

type monthlyChecker struct{}

// IsDue returns true in a new month once the anchor day is reached. The
// anchor day is clamped to the month's last day, so a template anchored on
// the 31st still fires in February.
func (monthlyChecker) IsDue(lastExecuted, today, startDate core.Date) bool {
	if lastExecuted.IsZero() {
		return true
	}
	if lastExecuted.Year() == today.Year() && lastExecuted.Month() == today.Month() {
		return false
	}
	return today.Day() >= clampDay(startDate.Day(), today)
}

type yearlyChecker struct{}

// IsDue returns true in a new year once the anchor month and day are reached.
func (yearlyChecker) IsDue(lastExecuted, today, startDate core.Date) bool {
	if lastExecuted.IsZero() {
		return true
	}
	if lastExecuted.Year() == today.Year() {
		return false
	}
	switch {
	case today.Month() < startDate.Month():
		return false
	case today.Month() == startDate.Month():
		return today.Day() >= clampDay(startDate.Day(), today)
	default:
		return true
	}
}

// clampDay bounds an anchor day to the number of days in d's month.
func clampDay(day int, d core.Date) int {
	lastDayOfMonth := time.Date(d.Year(), d.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > lastDayOfMonth {
		return lastDayOfMonth
	}
	return day
}

var duenessStrategies = map[core.Frequency]DuenessChecker{
	core.Daily:   dailyChecker{},
	core.Weekly:  weeklyChecker{},
	core.Monthly: monthlyChecker{},
	core.Yearly:  yearlyChecker{},
}

// GetDuenessChecker returns the checker for a frequency.
func GetDuenessChecker(frequency core.Frequency) (DuenessChecker, error) {
	checker, ok := duenessStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", frequency)
	}
	return checker, nil
}
