package core

// BudgetStatus describes spending progress relative to the plan and the
// period. EXCEEDED takes priority over COMPLETED.
type BudgetStatus string

const (
	StatusActive    BudgetStatus = "ACTIVE"
	StatusInactive  BudgetStatus = "INACTIVE"
	StatusCompleted BudgetStatus = "COMPLETED"
	StatusExceeded  BudgetStatus = "EXCEEDED"
)

// BudgetReport is the full set of derived budget metrics. Every field is a
// pure function of the spent amount, the budget parameters and today's date;
// nothing here is cached independently.
type BudgetReport struct {
	BudgetID          int64        `json:"budget_id"`
	Spent             Money        `json:"spent_amount"`
	Planned           Money        `json:"planned_amount"`
	PercentageUsed    float64      `json:"percentage_used"`
	Remaining         Money        `json:"remaining_amount"`
	OverBudget        bool         `json:"is_over_budget"`
	Status            BudgetStatus `json:"status"`
	DaysTotal         int          `json:"days_total"`
	DaysElapsed       int          `json:"days_elapsed"`
	DaysRemaining     int          `json:"days_remaining"`
	TimeProgress      float64      `json:"time_progress_percentage"`
	ProjectedSpending Money        `json:"projected_spending"`
}

// CategoryShare is one row of a budget's per-category spending breakdown.
type CategoryShare struct {
	CategoryID      int64   `json:"category_id"`
	CategoryName    string  `json:"category_name"`
	Spent           Money   `json:"amount_spent"`
	PercentOfBudget float64 `json:"percentage_of_budget"`
}

// DaysTotal is the inclusive length of the budget window in days.
func (b Budget) DaysTotal() int {
	return b.StartDate.DaysUntil(b.EndDate) + 1
}

// DaysElapsed is how many window days have passed as of today, inclusive of
// today itself: 0 before the window, DaysTotal after it.
func (b Budget) DaysElapsed(today Date) int {
	if today.Before(b.StartDate.Time) {
		return 0
	}
	if today.After(b.EndDate.Time) {
		return b.DaysTotal()
	}
	return b.StartDate.DaysUntil(today) + 1
}

// DaysRemaining is the day count from today to the window end, negative once
// the window has passed.
func (b Budget) DaysRemaining(today Date) int {
	return today.DaysUntil(b.EndDate)
}

// TimeProgress is the share of the window elapsed, as a percentage rounded
// half-up to two decimals and clamped to 100.
func (b Budget) TimeProgress(today Date) float64 {
	total := b.DaysTotal()
	if total <= 0 {
		return 100
	}
	p := PercentOf(Money{Cents: int64(b.DaysElapsed(today))}, Money{Cents: int64(total)})
	if p > 100 {
		return 100
	}
	return p
}

// Status computes the budget status given the spent amount.
func (b Budget) Status(spent Money, today Date) BudgetStatus {
	if !b.Active {
		return StatusInactive
	}
	if spent.Cents > b.Planned.Cents {
		return StatusExceeded
	}
	if today.After(b.EndDate.Time) {
		return StatusCompleted
	}
	return StatusActive
}

// ProjectedSpending extrapolates the full-period spend linearly from the
// current per-day pace: (spent / days elapsed) * days total, 0 before the
// window starts.
func (b Budget) ProjectedSpending(spent Money, today Date) Money {
	elapsed := b.DaysElapsed(today)
	if elapsed <= 0 {
		return Money{}
	}
	return Money{Cents: roundHalfUpDiv(spent.Cents*int64(b.DaysTotal()), int64(elapsed))}
}

// ComputeReport assembles all derived metrics for the budget.
func ComputeReport(b Budget, spent Money, today Date) BudgetReport {
	return BudgetReport{
		BudgetID:          b.ID,
		Spent:             spent,
		Planned:           b.Planned,
		PercentageUsed:    PercentOf(spent, b.Planned),
		Remaining:         b.Planned.Sub(spent),
		OverBudget:        spent.Cents > b.Planned.Cents,
		Status:            b.Status(spent, today),
		DaysTotal:         b.DaysTotal(),
		DaysElapsed:       b.DaysElapsed(today),
		DaysRemaining:     b.DaysRemaining(today),
		TimeProgress:      b.TimeProgress(today),
		ProjectedSpending: b.ProjectedSpending(spent, today),
	}
}
