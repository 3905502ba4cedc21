package core

import (
	"errors"
	"testing"
)

func TestDateHelpers(t *testing.T) {
	d := NewDate(2025, 1, 10)
	if got := d.String(); got != "2025-01-10" {
		t.Fatalf("expected 2025-01-10, got %s", got)
	}
	if d.DaysUntil(NewDate(2025, 1, 31)) != 21 {
		t.Fatalf("expected 21 days")
	}
	if NewDate(2025, 1, 31).DaysUntil(d) != -21 {
		t.Fatalf("expected -21 days")
	}
	if !d.OnOrBefore(d) || !d.OnOrAfter(d) {
		t.Fatalf("inclusive comparison should hold for equal dates")
	}

	parsed, err := ParseDate("2025-02-28")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != NewDate(2025, 2, 28) {
		t.Fatalf("unexpected parsed date %v", parsed)
	}
	if _, err := ParseDate("2025-13-01"); err == nil {
		t.Fatalf("expected error for invalid month")
	}
}

func TestTransactionDelta(t *testing.T) {
	amount := Money{Cents: 5000}
	income := Transaction{Type: Income, Amount: amount}
	expense := Transaction{Type: Expense, Amount: amount}
	if income.Delta().Cents != 5000 {
		t.Fatalf("income delta should be positive")
	}
	if expense.Delta().Cents != -5000 {
		t.Fatalf("expense delta should be negative")
	}
}

func TestTransactionValidate(t *testing.T) {
	today := NewDate(2025, 6, 15)
	good := Transaction{
		Type:        Expense,
		Amount:      Money{Cents: 100},
		Description: "groceries",
		Date:        NewDate(2025, 6, 14),
	}
	if err := good.Validate(today); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name string
		mut  func(*Transaction)
		want error
	}{
		{"future date", func(tx *Transaction) { tx.Date = NewDate(2025, 6, 16) }, ErrFutureDate},
		{"zero amount", func(tx *Transaction) { tx.Amount = Money{} }, ErrInvalidAmount},
		{"empty description", func(tx *Transaction) { tx.Description = "  " }, ErrEmptyDescription},
		{"zero date", func(tx *Transaction) { tx.Date = Date{} }, ErrInvalidDate},
	}
	for _, tc := range cases {
		tx := good
		tc.mut(&tx)
		err := tx.Validate(today)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	bad := good
	bad.Type = "TRANSFER"
	if err := bad.Validate(today); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestBudgetValidate(t *testing.T) {
	good := Budget{
		Name:      "Food June",
		Planned:   Money{Cents: 80000},
		StartDate: NewDate(2025, 6, 1),
		EndDate:   NewDate(2025, 6, 30),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	inverted := good
	inverted.StartDate, inverted.EndDate = inverted.EndDate, inverted.StartDate
	if err := inverted.Validate(); err == nil {
		t.Fatalf("expected error for inverted window")
	}

	long := good
	long.EndDate = long.StartDate.AddDays(MaxBudgetPeriodDays) // 367 inclusive days
	if err := long.Validate(); !errors.Is(err, ErrPeriodTooLong) {
		t.Fatalf("expected ErrPeriodTooLong, got %v", err)
	}

	// Exactly the maximum period is allowed.
	max := good
	max.EndDate = max.StartDate.AddDays(MaxBudgetPeriodDays - 1)
	if err := max.Validate(); err != nil {
		t.Fatalf("expected ok for %d-day window, got %v", MaxBudgetPeriodDays, err)
	}

	free := good
	free.Planned = Money{}
	if err := free.Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestBudgetWindow(t *testing.T) {
	b := Budget{StartDate: NewDate(2025, 1, 1), EndDate: NewDate(2025, 1, 31)}
	if !b.Window(NewDate(2025, 1, 1)) || !b.Window(NewDate(2025, 1, 31)) {
		t.Fatalf("window endpoints are inclusive")
	}
	if b.Window(NewDate(2024, 12, 31)) || b.Window(NewDate(2025, 2, 1)) {
		t.Fatalf("dates outside the window must not match")
	}
}
