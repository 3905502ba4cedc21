// Package services implements the core of the tracker: the transaction write
// path with its balance-update protocol, the category hierarchy resolver, and
// the budget aggregation engine with its cache layer. Services consume the
// persistence layer through the store interfaces below and are exercised with
// either the SQLite repository or the in-memory repository.
package services

import (
	"context"

	"bilancio/internal/core"
)

// AccountStore persists accounts. Balance mutations go through AdjustBalance,
// which must be an atomic read-modify-write at the storage layer (never a
// bare read-then-write from application memory).
type AccountStore interface {
	GetAccount(ctx context.Context, id int64) (core.Account, error)
	CreateAccount(ctx context.Context, a core.Account) (int64, error)
	ListAccounts(ctx context.Context, ownerID int64) ([]core.Account, error)
	ListAllAccounts(ctx context.Context) ([]core.Account, error)

	// AdjustBalance adds deltaCents to the stored balance, touching only the
	// balance and updated-at columns.
	AdjustBalance(ctx context.Context, id int64, deltaCents int64) error

	// SetBalance overwrites the stored balance (reconciliation only).
	SetBalance(ctx context.Context, id int64, cents int64) error
}

// CategoryStore persists the category tree.
type CategoryStore interface {
	GetCategory(ctx context.Context, id int64) (core.Category, error)
	CreateCategory(ctx context.Context, c core.Category) (int64, error)
	UpdateCategory(ctx context.Context, c core.Category) error
	GetChildren(ctx context.Context, id int64) ([]core.Category, error)
}

// TransactionStore persists ledger entries and answers the filtered-sum
// queries the aggregation engine and the reconciler need.
type TransactionStore interface {
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	CreateTransaction(ctx context.Context, t core.Transaction) (int64, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error

	// SumExpenses totals all EXPENSE amounts for the owner across the given
	// categories within [from, to] inclusive.
	SumExpenses(ctx context.Context, ownerID int64, categoryIDs []int64, from, to core.Date) (int64, error)

	// SumAccountDelta totals the signed deltas of all transactions on the
	// account (income positive, expense negative).
	SumAccountDelta(ctx context.Context, accountID int64) (int64, error)
}

// BudgetStore persists budgets and their cache records.
type BudgetStore interface {
	GetBudget(ctx context.Context, id int64) (core.Budget, error)
	CreateBudget(ctx context.Context, b core.Budget) (int64, error)
	UpdateBudget(ctx context.Context, b core.Budget) error
	ListBudgets(ctx context.Context, ownerID int64, activeOnly bool) ([]core.Budget, error)

	// FindOverlapping returns active budgets for the same owner and category
	// whose windows intersect [start, end], excluding excludeID.
	FindOverlapping(ctx context.Context, ownerID, categoryID int64, start, end core.Date, excludeID int64) ([]core.Budget, error)

	// FindCovering returns active budgets for the owner whose category is in
	// categoryIDs and whose window contains date.
	FindCovering(ctx context.Context, ownerID int64, categoryIDs []int64, date core.Date) ([]core.Budget, error)

	// SetCache writes or clears the budget's cache record. Both cache fields
	// are updated in one atomic write; nil clears them together.
	SetCache(ctx context.Context, id int64, entry *core.BudgetCache) error
}

// RecurringStore persists recurring-transaction templates.
type RecurringStore interface {
	GetRecurring(ctx context.Context, id int64) (core.RecurringTransaction, error)
	CreateRecurring(ctx context.Context, r core.RecurringTransaction) (int64, error)
	ListActiveRecurring(ctx context.Context, asOf core.Date) ([]core.RecurringTransaction, error)
	SetLastExecuted(ctx context.Context, id int64, d core.Date) error
}

// AuditStore persists the audit trail written by the audit worker.
type AuditStore interface {
	AppendAudit(ctx context.Context, e core.AuditEntry) (int64, error)
	ListAudit(ctx context.Context, accountID int64, limit int) ([]core.AuditEntry, error)
}

// Store bundles every sub-store over one backend.
type Store interface {
	Accounts() AccountStore
	Categories() CategoryStore
	Transactions() TransactionStore
	Budgets() BudgetStore
	Recurring() RecurringStore
	Audit() AuditStore
}

// UnitOfWork is a Store that can run a function atomically: every store call
// made through the Store handed to fn commits or rolls back as one. Ledger
// mutations, their balance updates and their budget cache refreshes all run
// inside a single unit so partial application is never observable.
type UnitOfWork interface {
	Store
	RunInTx(ctx context.Context, fn func(Store) error) error
}
