package core

import (
	"strings"
	"time"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

const (
	Checking   AccountType = "checking"
	Savings    AccountType = "savings"
	CreditCard AccountType = "credit_card"
	Investment AccountType = "investment"
	Cash       AccountType = "cash"
)

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

type (
	TransactionType string

	AccountType string

	Frequency string

	// Date is a calendar day (UTC midnight). All ledger and budget window
	// comparisons are day-granular and inclusive.
	Date struct {
		time.Time
	}

	Account struct {
		ID        int64
		OwnerID   int64
		Name      string
		Type      AccountType
		Balance   Money
		Currency  string
		Active    bool
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Category is a node in the owner-scoped category tree. ParentID 0 means
	// a root category. Parent and child must share owner and type.
	Category struct {
		ID        int64
		OwnerID   int64
		Name      string
		Type      TransactionType
		ParentID  int64
		Active    bool
		CreatedAt time.Time
	}

	// Transaction is one ledger entry. Amount is always stored positive; the
	// sign applied to the account balance is derived from Type.
	Transaction struct {
		ID          int64
		OwnerID     int64
		AccountID   int64
		CategoryID  int64
		Type        TransactionType
		Amount      Money
		Description string
		Date        Date
		RecurringID int64 // template that materialized this entry, 0 if none
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// BudgetCache is the memoized aggregate for one budget. Both fields are
	// written together in a single store update; a budget either has a
	// complete cache entry or none.
	BudgetCache struct {
		Spent      Money
		ComputedAt time.Time
	}

	Budget struct {
		ID         int64
		OwnerID    int64
		CategoryID int64
		Name       string
		Planned    Money
		StartDate  Date
		EndDate    Date
		Active     bool
		Cache      *BudgetCache
		CreatedAt  time.Time
		UpdatedAt  time.Time
	}

	// RecurringTransaction is a template that the recurring processor
	// materializes into real ledger entries on schedule.
	RecurringTransaction struct {
		ID           int64
		OwnerID      int64
		AccountID    int64
		CategoryID   int64
		Type         TransactionType
		Amount       Money
		Description  string
		StartDate    Date
		EndDate      Date // zero = open-ended
		Every        Frequency
		LastExecuted Date // zero = never materialized
		Active       bool
	}

	// AuditEntry records one applied balance mutation, written by the audit
	// worker from the ledger event stream.
	AuditEntry struct {
		ID            int64
		Op            string
		TransactionID int64
		AccountID     int64
		Delta         Money
		RecordedAt    time.Time
	}
)

// MaxBudgetPeriodDays bounds a budget window (inclusive of both endpoints).
const MaxBudgetPeriodDays = 366

func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its UTC calendar day.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return NewDate(y, int(m), d)
}

func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// OnOrBefore reports d <= o at day granularity.
func (d Date) OnOrBefore(o Date) bool {
	return !d.Time.After(o.Time)
}

// OnOrAfter reports d >= o at day granularity.
func (d Date) OnOrAfter(o Date) bool {
	return !d.Time.Before(o.Time)
}

// DaysUntil returns the signed day count from d to o (positive when o is
// later).
func (d Date) DaysUntil(o Date) int {
	return int(o.Time.Sub(d.Time) / (24 * time.Hour))
}

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (t AccountType) Valid() bool {
	switch t {
	case Checking, Savings, CreditCard, Investment, Cash:
		return true
	}
	return false
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Delta is the signed balance impact of the transaction: +amount for income,
// -amount for expense.
func (t Transaction) Delta() Money {
	if t.Type == Income {
		return t.Amount
	}
	return Money{Cents: -t.Amount.Cents}
}

// Validate checks the transaction's intrinsic invariants. Cross-entity rules
// (ownership, active references, category type match) are enforced by the
// ledger service, which can see the referenced rows.
func (t Transaction) Validate(today Date) error {
	if !t.Type.Valid() {
		return ValidationError{Field: "type", Msg: "unknown transaction type"}
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return ValidationError{Field: "description", Msg: "too long (max 200 characters)"}
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if t.Date.After(today.Time) {
		return ErrFutureDate
	}
	return nil
}

func (a Account) Validate() error {
	if len(strings.TrimSpace(a.Name)) == 0 {
		return ValidationError{Field: "name", Msg: "account name cannot be empty"}
	}
	if !a.Type.Valid() {
		return ValidationError{Field: "type", Msg: "unknown account type"}
	}
	if len(a.Currency) != 3 {
		return ValidationError{Field: "currency", Msg: "currency must be an ISO 4217 code"}
	}
	return nil
}

func (c Category) Validate() error {
	if len(strings.TrimSpace(c.Name)) == 0 {
		return ValidationError{Field: "name", Msg: "category name cannot be empty"}
	}
	if !c.Type.Valid() {
		return ValidationError{Field: "type", Msg: "unknown category type"}
	}
	return nil
}

// Validate checks the budget's intrinsic invariants. Category suitability and
// overlap with sibling budgets are checked by the budget service.
func (b Budget) Validate() error {
	if len(strings.TrimSpace(b.Name)) == 0 {
		return ValidationError{Field: "name", Msg: "budget name cannot be empty"}
	}
	if err := b.Planned.Validate(); err != nil {
		return err
	}
	if err := b.StartDate.Validate(); err != nil {
		return err
	}
	if err := b.EndDate.Validate(); err != nil {
		return err
	}
	if b.EndDate.Before(b.StartDate.Time) {
		return ValidationError{Field: "end_date", Msg: "end date must be on or after start date"}
	}
	if b.DaysTotal() > MaxBudgetPeriodDays {
		return ErrPeriodTooLong
	}
	return nil
}

// Window reports whether the budget's inclusive date window contains d.
func (b Budget) Window(d Date) bool {
	return b.StartDate.OnOrBefore(d) && b.EndDate.OnOrAfter(d)
}

func (r RecurringTransaction) Validate() error {
	if !r.Type.Valid() {
		return ValidationError{Field: "type", Msg: "unknown transaction type"}
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(r.Description)) == 0 {
		return ErrEmptyDescription
	}
	if err := r.StartDate.Validate(); err != nil {
		return err
	}
	if !r.EndDate.IsZero() && r.EndDate.Before(r.StartDate.Time) {
		return ValidationError{Field: "end_date", Msg: "end date must be on or after start date"}
	}
	if !r.Every.Valid() {
		return ValidationError{Field: "every", Msg: "unknown frequency"}
	}
	return nil
}
