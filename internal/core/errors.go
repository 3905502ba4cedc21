package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDate      = errors.New("invalid date")
	ErrFutureDate       = errors.New("transaction date cannot be in the future")
	ErrEmptyDescription = errors.New("empty description")

	// ErrOwnershipMismatch means a referenced entity belongs to a different
	// owner. Always fatal to the operation.
	ErrOwnershipMismatch = errors.New("entity belongs to a different owner")

	ErrInactiveAccount  = errors.New("account is inactive")
	ErrInactiveCategory = errors.New("category is inactive")

	ErrCategoryTypeMismatch = errors.New("category type does not match transaction type")

	// ErrBudgetOverlap means another active budget for the same owner and
	// category already covers part of the requested window.
	ErrBudgetOverlap = errors.New("overlapping budget for the same category")

	ErrPeriodTooLong = errors.New("budget period cannot be longer than one year")

	// ErrBudgetCategory means the budget references a category that is not an
	// active expense category.
	ErrBudgetCategory = errors.New("budgets require an active expense category")

	// ErrCategoryCycle means a parent assignment would make the category tree
	// cyclic. Rejected at write time; read-side traversal guards against
	// pre-existing cycles defensively.
	ErrCategoryCycle = errors.New("category parent assignment would create a cycle")

	ErrNotFound = errors.New("not found")
)

// ValidationError is a field-level invariant violation, surfaced to the
// caller for correction and never coerced.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Msg
}

// BalanceUpdateError wraps a failed account balance write. The enclosing
// unit of work must roll back so the ledger and the balance never diverge.
type BalanceUpdateError struct {
	TransactionID int64
	AccountID     int64
	Delta         Money
	Err           error
}

func (e *BalanceUpdateError) Error() string {
	return fmt.Sprintf("balance update failed (transaction=%d account=%d delta=%s): %v",
		e.TransactionID, e.AccountID, e.Delta, e.Err)
}

func (e *BalanceUpdateError) Unwrap() error {
	return e.Err
}

// AggregationError wraps a failed spent-amount recomputation. A previously
// valid cache entry is left untouched when this is returned.
type AggregationError struct {
	BudgetID int64
	Err      error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("budget aggregation failed (budget=%d): %v", e.BudgetID, e.Err)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is user-correctable input or invariant
// violation rather than an infrastructure failure.
func IsValidation(err error) bool {
	var ve ValidationError
	if errors.As(err, &ve) {
		return true
	}
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidDate),
		errors.Is(err, ErrFutureDate),
		errors.Is(err, ErrEmptyDescription),
		errors.Is(err, ErrInactiveAccount),
		errors.Is(err, ErrInactiveCategory),
		errors.Is(err, ErrCategoryTypeMismatch),
		errors.Is(err, ErrBudgetOverlap),
		errors.Is(err, ErrPeriodTooLong),
		errors.Is(err, ErrBudgetCategory),
		errors.Is(err, ErrCategoryCycle):
		return true
	}
	return false
}
