// Package memory provides a mutex-guarded in-memory implementation of the
// service store interfaces. It backs the "memory" data backend and the
// service tests; semantics mirror the SQLite repository, including atomic
// units of work via snapshot and restore.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/services"
)

type state struct {
	seq          int64
	accounts     map[int64]core.Account
	categories   map[int64]core.Category
	transactions map[int64]core.Transaction
	budgets      map[int64]core.Budget
	recurring    map[int64]core.RecurringTransaction
	audit        []core.AuditEntry
}

func newState() state {
	return state{
		accounts:     make(map[int64]core.Account),
		categories:   make(map[int64]core.Category),
		transactions: make(map[int64]core.Transaction),
		budgets:      make(map[int64]core.Budget),
		recurring:    make(map[int64]core.RecurringTransaction),
	}
}

func (s *state) clone() state {
	c := state{
		seq:          s.seq,
		accounts:     make(map[int64]core.Account, len(s.accounts)),
		categories:   make(map[int64]core.Category, len(s.categories)),
		transactions: make(map[int64]core.Transaction, len(s.transactions)),
		budgets:      make(map[int64]core.Budget, len(s.budgets)),
		recurring:    make(map[int64]core.RecurringTransaction, len(s.recurring)),
		audit:        append([]core.AuditEntry(nil), s.audit...),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.budgets {
		if v.Cache != nil {
			cache := *v.Cache
			v.Cache = &cache
		}
		c.budgets[k] = v
	}
	for k, v := range s.recurring {
		c.recurring[k] = v
	}
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Repository implements services.UnitOfWork in memory. A single mutex
// serializes writers, which also gives the per-account and per-transaction
// ordering guarantees the write path needs.
type Repository struct {
	mu sync.Mutex
	s  state
}

func New() *Repository {
	return &Repository{s: newState()}
}

// view exposes the repository as the service store interfaces. Outside a
// unit of work every call locks individually; inside one, the RunInTx caller
// already holds the lock.
type view struct {
	r    *Repository
	inTx bool
}

func (v view) lock() func() {
	if v.inTx {
		return func() {}
	}
	v.r.mu.Lock()
	return v.r.mu.Unlock
}

func (r *Repository) Accounts() services.AccountStore         { return view{r: r} }
func (r *Repository) Categories() services.CategoryStore      { return view{r: r} }
func (r *Repository) Transactions() services.TransactionStore { return view{r: r} }
func (r *Repository) Budgets() services.BudgetStore           { return view{r: r} }
func (r *Repository) Recurring() services.RecurringStore      { return view{r: r} }
func (r *Repository) Audit() services.AuditStore              { return view{r: r} }

func (v view) Accounts() services.AccountStore         { return v }
func (v view) Categories() services.CategoryStore      { return v }
func (v view) Transactions() services.TransactionStore { return v }
func (v view) Budgets() services.BudgetStore           { return v }
func (v view) Recurring() services.RecurringStore      { return v }
func (v view) Audit() services.AuditStore              { return v }

// RunInTx executes fn atomically: the state is snapshotted up front and
// restored wholesale if fn fails.
func (r *Repository) RunInTx(_ context.Context, fn func(services.Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.s.clone()
	if err := fn(view{r: r, inTx: true}); err != nil {
		r.s = snapshot
		return err
	}
	return nil
}

// --- accounts ---

func (v view) GetAccount(_ context.Context, id int64) (core.Account, error) {
	defer v.lock()()
	a, ok := v.r.s.accounts[id]
	if !ok {
		return core.Account{}, fmt.Errorf("account %d: %w", id, core.ErrNotFound)
	}
	return a, nil
}

func (v view) CreateAccount(_ context.Context, a core.Account) (int64, error) {
	defer v.lock()()
	a.ID = v.r.s.nextID()
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	v.r.s.accounts[a.ID] = a
	return a.ID, nil
}

func (v view) ListAccounts(_ context.Context, ownerID int64) ([]core.Account, error) {
	defer v.lock()()
	var out []core.Account
	for _, a := range v.r.s.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (v view) ListAllAccounts(_ context.Context) ([]core.Account, error) {
	defer v.lock()()
	out := make([]core.Account, 0, len(v.r.s.accounts))
	for _, a := range v.r.s.accounts {
		out = append(out, a)
	}
	sortAccounts(out)
	return out, nil
}

func sortAccounts(as []core.Account) {
	sort.Slice(as, func(i, j int) bool { return as[i].ID < as[j].ID })
}

func (v view) AdjustBalance(_ context.Context, id int64, deltaCents int64) error {
	defer v.lock()()
	a, ok := v.r.s.accounts[id]
	if !ok {
		return fmt.Errorf("account %d: %w", id, core.ErrNotFound)
	}
	a.Balance.Cents += deltaCents
	a.UpdatedAt = time.Now()
	v.r.s.accounts[id] = a
	return nil
}

func (v view) SetBalance(_ context.Context, id int64, cents int64) error {
	defer v.lock()()
	a, ok := v.r.s.accounts[id]
	if !ok {
		return fmt.Errorf("account %d: %w", id, core.ErrNotFound)
	}
	a.Balance.Cents = cents
	a.UpdatedAt = time.Now()
	v.r.s.accounts[id] = a
	return nil
}

// --- categories ---

func (v view) GetCategory(_ context.Context, id int64) (core.Category, error) {
	defer v.lock()()
	c, ok := v.r.s.categories[id]
	if !ok {
		return core.Category{}, fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	return c, nil
}

func (v view) CreateCategory(_ context.Context, c core.Category) (int64, error) {
	defer v.lock()()
	c.ID = v.r.s.nextID()
	c.CreatedAt = time.Now()
	v.r.s.categories[c.ID] = c
	return c.ID, nil
}

func (v view) UpdateCategory(_ context.Context, c core.Category) error {
	defer v.lock()()
	if _, ok := v.r.s.categories[c.ID]; !ok {
		return fmt.Errorf("category %d: %w", c.ID, core.ErrNotFound)
	}
	v.r.s.categories[c.ID] = c
	return nil
}

func (v view) GetChildren(_ context.Context, id int64) ([]core.Category, error) {
	defer v.lock()()
	var out []core.Category
	for _, c := range v.r.s.categories {
		if c.ParentID == id {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- transactions ---

func (v view) GetTransaction(_ context.Context, id int64) (core.Transaction, error) {
	defer v.lock()()
	t, ok := v.r.s.transactions[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return t, nil
}

func (v view) CreateTransaction(_ context.Context, t core.Transaction) (int64, error) {
	defer v.lock()()
	t.ID = v.r.s.nextID()
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	v.r.s.transactions[t.ID] = t
	return t.ID, nil
}

func (v view) UpdateTransaction(_ context.Context, t core.Transaction) error {
	defer v.lock()()
	old, ok := v.r.s.transactions[t.ID]
	if !ok {
		return fmt.Errorf("transaction %d: %w", t.ID, core.ErrNotFound)
	}
	t.CreatedAt = old.CreatedAt
	t.UpdatedAt = time.Now()
	v.r.s.transactions[t.ID] = t
	return nil
}

func (v view) DeleteTransaction(_ context.Context, id int64) error {
	defer v.lock()()
	if _, ok := v.r.s.transactions[id]; !ok {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	delete(v.r.s.transactions, id)
	return nil
}

func (v view) SumExpenses(_ context.Context, ownerID int64, categoryIDs []int64, from, to core.Date) (int64, error) {
	defer v.lock()()
	ids := make(map[int64]struct{}, len(categoryIDs))
	for _, id := range categoryIDs {
		ids[id] = struct{}{}
	}
	var total int64
	for _, t := range v.r.s.transactions {
		if t.OwnerID != ownerID || t.Type != core.Expense {
			continue
		}
		if _, ok := ids[t.CategoryID]; !ok {
			continue
		}
		if t.Date.OnOrAfter(from) && t.Date.OnOrBefore(to) {
			total += t.Amount.Cents
		}
	}
	return total, nil
}

func (v view) SumAccountDelta(_ context.Context, accountID int64) (int64, error) {
	defer v.lock()()
	var total int64
	for _, t := range v.r.s.transactions {
		if t.AccountID == accountID {
			total += t.Delta().Cents
		}
	}
	return total, nil
}

// --- budgets ---

func (v view) GetBudget(_ context.Context, id int64) (core.Budget, error) {
	defer v.lock()()
	b, ok := v.r.s.budgets[id]
	if !ok {
		return core.Budget{}, fmt.Errorf("budget %d: %w", id, core.ErrNotFound)
	}
	if b.Cache != nil {
		cache := *b.Cache
		b.Cache = &cache
	}
	return b, nil
}

func (v view) CreateBudget(_ context.Context, b core.Budget) (int64, error) {
	defer v.lock()()
	b.ID = v.r.s.nextID()
	b.Cache = nil // new budgets start with an empty cache
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now
	v.r.s.budgets[b.ID] = b
	return b.ID, nil
}

func (v view) UpdateBudget(_ context.Context, b core.Budget) error {
	defer v.lock()()
	old, ok := v.r.s.budgets[b.ID]
	if !ok {
		return fmt.Errorf("budget %d: %w", b.ID, core.ErrNotFound)
	}
	// Cache fields are owned by SetCache; parameter updates keep the stored
	// entry as-is and the service clears it explicitly.
	b.Cache = old.Cache
	b.CreatedAt = old.CreatedAt
	b.UpdatedAt = time.Now()
	v.r.s.budgets[b.ID] = b
	return nil
}

func (v view) ListBudgets(_ context.Context, ownerID int64, activeOnly bool) ([]core.Budget, error) {
	defer v.lock()()
	var out []core.Budget
	for _, b := range v.r.s.budgets {
		if b.OwnerID != ownerID {
			continue
		}
		if activeOnly && !b.Active {
			continue
		}
		if b.Cache != nil {
			cache := *b.Cache
			b.Cache = &cache
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) FindOverlapping(_ context.Context, ownerID, categoryID int64, start, end core.Date, excludeID int64) ([]core.Budget, error) {
	defer v.lock()()
	var out []core.Budget
	for _, b := range v.r.s.budgets {
		if b.ID == excludeID || b.OwnerID != ownerID || b.CategoryID != categoryID || !b.Active {
			continue
		}
		if b.StartDate.OnOrBefore(end) && b.EndDate.OnOrAfter(start) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) FindCovering(_ context.Context, ownerID int64, categoryIDs []int64, date core.Date) ([]core.Budget, error) {
	defer v.lock()()
	ids := make(map[int64]struct{}, len(categoryIDs))
	for _, id := range categoryIDs {
		ids[id] = struct{}{}
	}
	var out []core.Budget
	for _, b := range v.r.s.budgets {
		if b.OwnerID != ownerID || !b.Active {
			continue
		}
		if _, ok := ids[b.CategoryID]; !ok {
			continue
		}
		if b.Window(date) {
			if b.Cache != nil {
				cache := *b.Cache
				b.Cache = &cache
			}
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) SetCache(_ context.Context, id int64, entry *core.BudgetCache) error {
	defer v.lock()()
	b, ok := v.r.s.budgets[id]
	if !ok {
		return fmt.Errorf("budget %d: %w", id, core.ErrNotFound)
	}
	if entry != nil {
		cache := *entry
		b.Cache = &cache
	} else {
		b.Cache = nil
	}
	v.r.s.budgets[id] = b
	return nil
}

// --- recurring templates ---

func (v view) GetRecurring(_ context.Context, id int64) (core.RecurringTransaction, error) {
	defer v.lock()()
	r, ok := v.r.s.recurring[id]
	if !ok {
		return core.RecurringTransaction{}, fmt.Errorf("recurring %d: %w", id, core.ErrNotFound)
	}
	return r, nil
}

func (v view) CreateRecurring(_ context.Context, r core.RecurringTransaction) (int64, error) {
	defer v.lock()()
	r.ID = v.r.s.nextID()
	v.r.s.recurring[r.ID] = r
	return r.ID, nil
}

func (v view) ListActiveRecurring(_ context.Context, asOf core.Date) ([]core.RecurringTransaction, error) {
	defer v.lock()()
	var out []core.RecurringTransaction
	for _, r := range v.r.s.recurring {
		if !r.Active || r.StartDate.After(asOf.Time) {
			continue
		}
		if !r.EndDate.IsZero() && r.EndDate.Before(asOf.Time) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) SetLastExecuted(_ context.Context, id int64, d core.Date) error {
	defer v.lock()()
	r, ok := v.r.s.recurring[id]
	if !ok {
		return fmt.Errorf("recurring %d: %w", id, core.ErrNotFound)
	}
	r.LastExecuted = d
	v.r.s.recurring[id] = r
	return nil
}

// --- audit ---

func (v view) AppendAudit(_ context.Context, e core.AuditEntry) (int64, error) {
	defer v.lock()()
	e.ID = v.r.s.nextID()
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	v.r.s.audit = append(v.r.s.audit, e)
	return e.ID, nil
}

func (v view) ListAudit(_ context.Context, accountID int64, limit int) ([]core.AuditEntry, error) {
	defer v.lock()()
	var out []core.AuditEntry
	for i := len(v.r.s.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if v.r.s.audit[i].AccountID == accountID {
			out = append(out, v.r.s.audit[i])
		}
	}
	return out, nil
}
