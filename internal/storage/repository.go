// Package storage implements the SQLite-backed repository. All monetary
// values are stored as integer cents and all calendar dates as ISO text,
// so aggregation happens in integer arithmetic with no float involved.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/services"

	_ "modernc.org/sqlite"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// store runs the queries against either the pooled connection or an open
// transaction; RunInTx swaps the querier so every call inside the unit of
// work shares the same transaction.
type store struct {
	q querier
}

type SQLiteRepository struct {
	db *sql.DB
	store
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, store: store{q: db}}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// RunInTx executes fn inside a single SQLite transaction.
func (r *SQLiteRepository) RunInTx(ctx context.Context, fn func(services.Store) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(store{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s store) Accounts() services.AccountStore         { return s }
func (s store) Categories() services.CategoryStore      { return s }
func (s store) Transactions() services.TransactionStore { return s }
func (s store) Budgets() services.BudgetStore           { return s }
func (s store) Recurring() services.RecurringStore      { return s }
func (s store) Audit() services.AuditStore              { return s }

func notFound(kind string, id int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	return fmt.Errorf("get %s %d: %w", kind, id, err)
}

// --- accounts ---

const accountCols = `id, owner_id, name, type, balance_cents, currency, active, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (core.Account, error) {
	var a core.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Type, &a.Balance.Cents,
		&a.Currency, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s store) GetAccount(ctx context.Context, id int64) (core.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		return core.Account{}, notFound("account", id, err)
	}
	return a, nil
}

func (s store) CreateAccount(ctx context.Context, a core.Account) (int64, error) {
	now := time.Now()
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (owner_id, name, type, balance_cents, currency, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.OwnerID, a.Name, a.Type, a.Balance.Cents, a.Currency, a.Active, now, now)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	return res.LastInsertId()
}

func (s store) ListAccounts(ctx context.Context, ownerID int64) ([]core.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountCols+` FROM accounts WHERE owner_id = ? ORDER BY id`, ownerID)
}

func (s store) ListAllAccounts(ctx context.Context) ([]core.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY id`)
}

func (s store) queryAccounts(ctx context.Context, query string, args ...any) ([]core.Account, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AdjustBalance applies the delta as a relative UPDATE so concurrent writers
// never overwrite each other's increments.
func (s store) AdjustBalance(ctx context.Context, id int64, deltaCents int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ?`,
		deltaCents, time.Now(), id)
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	return requireRow(res, "account", id)
}

func (s store) SetBalance(ctx context.Context, id int64, cents int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE accounts SET balance_cents = ?, updated_at = ? WHERE id = ?`,
		cents, time.Now(), id)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return requireRow(res, "account", id)
}

func requireRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, core.ErrNotFound)
	}
	return nil
}

// --- categories ---

const categoryCols = `id, owner_id, name, type, parent_id, active, created_at`

func scanCategory(row interface{ Scan(...any) error }) (core.Category, error) {
	var c core.Category
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Type, &c.ParentID, &c.Active, &c.CreatedAt)
	return c, err
}

func (s store) GetCategory(ctx context.Context, id int64) (core.Category, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+categoryCols+` FROM categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if err != nil {
		return core.Category{}, notFound("category", id, err)
	}
	return c, nil
}

func (s store) CreateCategory(ctx context.Context, c core.Category) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO categories (owner_id, name, type, parent_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.OwnerID, c.Name, c.Type, c.ParentID, c.Active, time.Now())
	if err != nil {
		return 0, fmt.Errorf("create category: %w", err)
	}
	return res.LastInsertId()
}

func (s store) UpdateCategory(ctx context.Context, c core.Category) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE categories SET name = ?, parent_id = ?, active = ? WHERE id = ?`,
		c.Name, c.ParentID, c.Active, c.ID)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	return requireRow(res, "category", c.ID)
}

func (s store) GetChildren(ctx context.Context, id int64) ([]core.Category, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+categoryCols+` FROM categories WHERE parent_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- transactions ---

const transactionCols = `id, owner_id, account_id, category_id, type, amount_cents, description, date, recurring_id, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var t core.Transaction
	var date string
	err := row.Scan(&t.ID, &t.OwnerID, &t.AccountID, &t.CategoryID, &t.Type,
		&t.Amount.Cents, &t.Description, &date, &t.RecurringID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Date, err = core.ParseDate(date)
	return t, err
}

func (s store) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+transactionCols+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return core.Transaction{}, notFound("transaction", id, err)
	}
	return t, nil
}

func (s store) CreateTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	now := time.Now()
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions (owner_id, account_id, category_id, type, amount_cents, description, date, recurring_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OwnerID, t.AccountID, t.CategoryID, t.Type, t.Amount.Cents,
		t.Description, t.Date.String(), t.RecurringID, now, now)
	if err != nil {
		return 0, fmt.Errorf("create transaction: %w", err)
	}
	return res.LastInsertId()
}

func (s store) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE transactions
		SET account_id = ?, category_id = ?, type = ?, amount_cents = ?, description = ?, date = ?, updated_at = ?
		WHERE id = ?`,
		t.AccountID, t.CategoryID, t.Type, t.Amount.Cents, t.Description,
		t.Date.String(), time.Now(), t.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return requireRow(res, "transaction", t.ID)
}

func (s store) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return requireRow(res, "transaction", id)
}

// SumExpenses totals expense amounts for the category set inside the
// inclusive date window. It rides idx_transactions_aggregation.
func (s store) SumExpenses(ctx context.Context, ownerID int64, categoryIDs []int64, from, to core.Date) (int64, error) {
	if len(categoryIDs) == 0 {
		return 0, nil
	}
	args := []any{ownerID, string(core.Expense)}
	placeholders := make([]string, len(categoryIDs))
	for i, id := range categoryIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, from.String(), to.String())

	var total sql.NullInt64
	err := s.q.QueryRowContext(ctx, `
		SELECT SUM(amount_cents) FROM transactions
		WHERE owner_id = ? AND type = ? AND category_id IN (`+strings.Join(placeholders, ", ")+`)
		  AND date >= ? AND date <= ?`, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum expenses: %w", err)
	}
	return total.Int64, nil
}

func (s store) SumAccountDelta(ctx context.Context, accountID int64) (int64, error) {
	var total sql.NullInt64
	err := s.q.QueryRowContext(ctx, `
		SELECT SUM(CASE WHEN type = ? THEN amount_cents ELSE -amount_cents END)
		FROM transactions WHERE account_id = ?`,
		string(core.Income), accountID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum account delta: %w", err)
	}
	return total.Int64, nil
}

// --- budgets ---

const budgetCols = `id, owner_id, category_id, name, planned_cents, start_date, end_date, active, cached_spent_cents, cache_computed_at, created_at, updated_at`

func scanBudget(row interface{ Scan(...any) error }) (core.Budget, error) {
	var b core.Budget
	var start, end string
	var spent sql.NullInt64
	var computed sql.NullTime
	err := row.Scan(&b.ID, &b.OwnerID, &b.CategoryID, &b.Name, &b.Planned.Cents,
		&start, &end, &b.Active, &spent, &computed, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return core.Budget{}, err
	}
	if b.StartDate, err = core.ParseDate(start); err != nil {
		return core.Budget{}, err
	}
	if b.EndDate, err = core.ParseDate(end); err != nil {
		return core.Budget{}, err
	}
	if spent.Valid && computed.Valid {
		b.Cache = &core.BudgetCache{
			Spent:      core.Money{Cents: spent.Int64},
			ComputedAt: computed.Time,
		}
	}
	return b, nil
}

func (s store) GetBudget(ctx context.Context, id int64) (core.Budget, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+budgetCols+` FROM budgets WHERE id = ?`, id)
	b, err := scanBudget(row)
	if err != nil {
		return core.Budget{}, notFound("budget", id, err)
	}
	return b, nil
}

func (s store) CreateBudget(ctx context.Context, b core.Budget) (int64, error) {
	now := time.Now()
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO budgets (owner_id, category_id, name, planned_cents, start_date, end_date, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.OwnerID, b.CategoryID, b.Name, b.Planned.Cents,
		b.StartDate.String(), b.EndDate.String(), b.Active, now, now)
	if err != nil {
		return 0, fmt.Errorf("create budget: %w", err)
	}
	return res.LastInsertId()
}

// UpdateBudget writes the budget parameters only; the cache columns are
// managed through SetCache.
func (s store) UpdateBudget(ctx context.Context, b core.Budget) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE budgets
		SET category_id = ?, name = ?, planned_cents = ?, start_date = ?, end_date = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		b.CategoryID, b.Name, b.Planned.Cents, b.StartDate.String(),
		b.EndDate.String(), b.Active, time.Now(), b.ID)
	if err != nil {
		return fmt.Errorf("update budget: %w", err)
	}
	return requireRow(res, "budget", b.ID)
}

func (s store) ListBudgets(ctx context.Context, ownerID int64, activeOnly bool) ([]core.Budget, error) {
	query := `SELECT ` + budgetCols + ` FROM budgets WHERE owner_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY id`
	return s.queryBudgets(ctx, query, ownerID)
}

func (s store) FindOverlapping(ctx context.Context, ownerID, categoryID int64, start, end core.Date, excludeID int64) ([]core.Budget, error) {
	return s.queryBudgets(ctx, `
		SELECT `+budgetCols+` FROM budgets
		WHERE owner_id = ? AND category_id = ? AND active = 1 AND id != ?
		  AND start_date <= ? AND end_date >= ?
		ORDER BY id`,
		ownerID, categoryID, excludeID, end.String(), start.String())
}

func (s store) FindCovering(ctx context.Context, ownerID int64, categoryIDs []int64, date core.Date) ([]core.Budget, error) {
	if len(categoryIDs) == 0 {
		return nil, nil
	}
	args := []any{ownerID}
	placeholders := make([]string, len(categoryIDs))
	for i, id := range categoryIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, date.String(), date.String())
	return s.queryBudgets(ctx, `
		SELECT `+budgetCols+` FROM budgets
		WHERE owner_id = ? AND active = 1 AND category_id IN (`+strings.Join(placeholders, ", ")+`)
		  AND start_date <= ? AND end_date >= ?
		ORDER BY id`, args...)
}

func (s store) queryBudgets(ctx context.Context, query string, args ...any) ([]core.Budget, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s store) SetCache(ctx context.Context, id int64, entry *core.BudgetCache) error {
	var (
		spent    sql.NullInt64
		computed sql.NullTime
	)
	if entry != nil {
		spent = sql.NullInt64{Int64: entry.Spent.Cents, Valid: true}
		computed = sql.NullTime{Time: entry.ComputedAt, Valid: true}
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE budgets SET cached_spent_cents = ?, cache_computed_at = ? WHERE id = ?`,
		spent, computed, id)
	if err != nil {
		return fmt.Errorf("set budget cache: %w", err)
	}
	return requireRow(res, "budget", id)
}

// --- recurring templates ---

const recurringCols = `id, owner_id, account_id, category_id, type, amount_cents, description, start_date, end_date, frequency, last_executed, active`

func scanRecurring(row interface{ Scan(...any) error }) (core.RecurringTransaction, error) {
	var r core.RecurringTransaction
	var start string
	var end, last sql.NullString
	err := row.Scan(&r.ID, &r.OwnerID, &r.AccountID, &r.CategoryID, &r.Type,
		&r.Amount.Cents, &r.Description, &start, &end, &r.Every, &last, &r.Active)
	if err != nil {
		return core.RecurringTransaction{}, err
	}
	if r.StartDate, err = core.ParseDate(start); err != nil {
		return core.RecurringTransaction{}, err
	}
	if end.Valid {
		if r.EndDate, err = core.ParseDate(end.String); err != nil {
			return core.RecurringTransaction{}, err
		}
	}
	if last.Valid {
		if r.LastExecuted, err = core.ParseDate(last.String); err != nil {
			return core.RecurringTransaction{}, err
		}
	}
	return r, nil
}

func (s store) GetRecurring(ctx context.Context, id int64) (core.RecurringTransaction, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+recurringCols+` FROM recurring_transactions WHERE id = ?`, id)
	r, err := scanRecurring(row)
	if err != nil {
		return core.RecurringTransaction{}, notFound("recurring", id, err)
	}
	return r, nil
}

func (s store) CreateRecurring(ctx context.Context, r core.RecurringTransaction) (int64, error) {
	var end, last sql.NullString
	if !r.EndDate.IsZero() {
		end = sql.NullString{String: r.EndDate.String(), Valid: true}
	}
	if !r.LastExecuted.IsZero() {
		last = sql.NullString{String: r.LastExecuted.String(), Valid: true}
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO recurring_transactions (owner_id, account_id, category_id, type, amount_cents, description, start_date, end_date, frequency, last_executed, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.OwnerID, r.AccountID, r.CategoryID, r.Type, r.Amount.Cents,
		r.Description, r.StartDate.String(), end, r.Every, last, r.Active)
	if err != nil {
		return 0, fmt.Errorf("create recurring: %w", err)
	}
	return res.LastInsertId()
}

func (s store) ListActiveRecurring(ctx context.Context, asOf core.Date) ([]core.RecurringTransaction, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+recurringCols+` FROM recurring_transactions
		WHERE active = 1 AND start_date <= ? AND (end_date IS NULL OR end_date >= ?)
		ORDER BY id`, asOf.String(), asOf.String())
	if err != nil {
		return nil, fmt.Errorf("list active recurring: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringTransaction
	for rows.Next() {
		r, err := scanRecurring(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s store) SetLastExecuted(ctx context.Context, id int64, d core.Date) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE recurring_transactions SET last_executed = ? WHERE id = ?`,
		d.String(), id)
	if err != nil {
		return fmt.Errorf("set last executed: %w", err)
	}
	return requireRow(res, "recurring", id)
}

// --- audit ---

func (s store) AppendAudit(ctx context.Context, e core.AuditEntry) (int64, error) {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO audit_log (op, transaction_id, account_id, delta_cents, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.Op, e.TransactionID, e.AccountID, e.Delta.Cents, e.RecordedAt)
	if err != nil {
		return 0, fmt.Errorf("append audit: %w", err)
	}
	return res.LastInsertId()
}

func (s store) ListAudit(ctx context.Context, accountID int64, limit int) ([]core.AuditEntry, error) {
	query := `
		SELECT id, op, transaction_id, account_id, delta_cents, recorded_at
		FROM audit_log WHERE account_id = ? ORDER BY id DESC`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var e core.AuditEntry
		if err := rows.Scan(&e.ID, &e.Op, &e.TransactionID, &e.AccountID, &e.Delta.Cents, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
