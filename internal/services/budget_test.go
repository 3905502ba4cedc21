package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/services"
	"bilancio/internal/storage/memory"
)

func (f fixture) budget(t *testing.T, ownerID, categoryID int64, planned int64, start, end core.Date) int64 {
	t.Helper()
	id, err := f.budgets.Create(context.Background(), core.Budget{
		OwnerID: ownerID, CategoryID: categoryID, Name: "budget",
		Planned: core.Money{Cents: planned}, StartDate: start, EndDate: end, Active: true,
	})
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}
	return id
}

func (f fixture) cache(t *testing.T, budgetID int64) *core.BudgetCache {
	t.Helper()
	b, err := f.repo.Budgets().GetBudget(context.Background(), budgetID)
	if err != nil {
		t.Fatalf("get budget: %v", err)
	}
	return b.Cache
}

func TestWindowAggregation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	today := core.Today()

	account := f.account(t, 1)
	cat := f.category(t, 1, 0, core.Expense)
	budget := f.budget(t, 1, cat, 10000, today.AddDays(-10), today)

	f.expense(t, 1, account, cat, 2500, today.AddDays(-5))
	f.expense(t, 1, account, cat, 5000, today)
	f.expense(t, 1, account, cat, 1000, today.AddDays(-15)) // outside the window

	spent, err := f.budgets.SpentAmount(ctx, 1, budget)
	if err != nil {
		t.Fatalf("spent: %v", err)
	}
	if spent.Cents != 7500 {
		t.Fatalf("spent = %d, want 7500 (window is inclusive, outside entries excluded)", spent.Cents)
	}
}

func TestHierarchyRollup(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	today := core.Today()

	account := f.account(t, 1)
	food := f.category(t, 1, 0, core.Expense)
	dining := f.category(t, 1, food, core.Expense)
	restaurants := f.category(t, 1, dining, core.Expense)
	unrelated := f.category(t, 1, 0, core.Expense)

	budget := f.budget(t, 1, food, 20000, today.AddDays(-10), today)

	f.expense(t, 1, account, food, 1000, today)
	f.expense(t, 1, account, dining, 2000, today)
	f.expense(t, 1, account, restaurants, 4000, today)
	f.expense(t, 1, account, unrelated, 8000, today)

	spent, err := f.budgets.SpentAmount(ctx, 1, budget)
	if err != nil {
		t.Fatalf("spent: %v", err)
	}
	if spent.Cents != 7000 {
		t.Fatalf("spent = %d, want 7000 (full subtree, unrelated excluded)", spent.Cents)
	}
}

func TestExpenseWriteRefreshesAncestorBudgets(t *testing.T) {
	f := newFixture()
	today := core.Today()

	account := f.account(t, 1)
	food := f.category(t, 1, 0, core.Expense)
	dining := f.category(t, 1, food, core.Expense)
	restaurants := f.category(t, 1, dining, core.Expense)

	// Budget sits on the grandparent; the expense lands on the leaf.
	budget := f.budget(t, 1, food, 20000, today.AddDays(-10), today)
	if f.cache(t, budget) != nil {
		t.Fatal("new budget should start with an empty cache")
	}

	f.expense(t, 1, account, restaurants, 4500, today)

	entry := f.cache(t, budget)
	if entry == nil {
		t.Fatal("expense write should have refreshed the ancestor budget cache")
	}
	if entry.Spent.Cents != 4500 {
		t.Fatalf("cached spent = %d, want 4500", entry.Spent.Cents)
	}
}

func TestCacheTimeoutBoundaries(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	today := core.Today()

	account := f.account(t, 1)
	cat := f.category(t, 1, 0, core.Expense)

	// The sentinel value proves which branch served the read: the planted
	// cache entry or a fresh recomputation.
	const sentinel = 11111

	t.Run("live window 5 minute timeout", func(t *testing.T) {
		budget := f.budget(t, 1, cat, 10000, today.AddDays(-10), today)
		f.expense(t, 1, account, cat, 2500, today)

		plant := func(age time.Duration) {
			err := f.repo.Budgets().SetCache(ctx, budget, &core.BudgetCache{
				Spent: core.Money{Cents: sentinel}, ComputedAt: time.Now().Add(-age),
			})
			if err != nil {
				t.Fatalf("set cache: %v", err)
			}
		}

		plant(4 * time.Minute)
		spent, err := f.budgets.SpentAmount(ctx, 1, budget)
		if err != nil {
			t.Fatalf("spent: %v", err)
		}
		if spent.Cents != sentinel {
			t.Fatalf("valid cache not served: got %d", spent.Cents)
		}

		plant(6 * time.Minute)
		spent, err = f.budgets.SpentAmount(ctx, 1, budget)
		if err != nil {
			t.Fatalf("spent: %v", err)
		}
		if spent.Cents != 2500 {
			t.Fatalf("stale cache should recompute: got %d, want 2500", spent.Cents)
		}
		// And the recomputed value was written through.
		if entry := f.cache(t, budget); entry == nil || entry.Spent.Cents != 2500 {
			t.Fatalf("write-through cache = %+v, want spent 2500", entry)
		}
	})

	t.Run("idle window 1 hour timeout", func(t *testing.T) {
		// Window entirely in the past: today is outside, so the long timeout
		// applies.
		budget := f.budget(t, 1, cat, 10000, today.AddDays(-30), today.AddDays(-20))
		f.expense(t, 1, account, cat, 900, today.AddDays(-25))

		plant := func(age time.Duration) {
			err := f.repo.Budgets().SetCache(ctx, budget, &core.BudgetCache{
				Spent: core.Money{Cents: sentinel}, ComputedAt: time.Now().Add(-age),
			})
			if err != nil {
				t.Fatalf("set cache: %v", err)
			}
		}

		plant(30 * time.Minute)
		spent, err := f.budgets.SpentAmount(ctx, 1, budget)
		if err != nil {
			t.Fatalf("spent: %v", err)
		}
		if spent.Cents != sentinel {
			t.Fatalf("30-minute-old entry should still be valid for an idle window: got %d", spent.Cents)
		}

		plant(61 * time.Minute)
		spent, err = f.budgets.SpentAmount(ctx, 1, budget)
		if err != nil {
			t.Fatalf("spent: %v", err)
		}
		if spent.Cents != 900 {
			t.Fatalf("hour-old entry should recompute: got %d, want 900", spent.Cents)
		}
	})
}

func TestBudgetOverlapRejected(t *testing.T) {
	f := newFixture()
	today := core.Today()

	cat := f.category(t, 1, 0, core.Expense)
	otherCat := f.category(t, 1, 0, core.Expense)
	f.budget(t, 1, cat, 10000, today.AddDays(-30), today)

	_, err := f.budgets.Create(context.Background(), core.Budget{
		OwnerID: 1, CategoryID: cat, Name: "colliding",
		Planned: core.Money{Cents: 5000}, StartDate: today.AddDays(-5), EndDate: today.AddDays(5), Active: true,
	})
	if !errors.Is(err, core.ErrBudgetOverlap) {
		t.Fatalf("overlapping create = %v, want ErrBudgetOverlap", err)
	}

	// Same category, adjacent window: fine.
	f.budget(t, 1, cat, 5000, today.AddDays(1), today.AddDays(10))
	// Overlapping window on a different category: fine.
	f.budget(t, 1, otherCat, 5000, today.AddDays(-5), today.AddDays(5))
}

func TestBudgetUpdateCacheInvalidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	today := core.Today()

	account := f.account(t, 1)
	cat := f.category(t, 1, 0, core.Expense)
	budgetID := f.budget(t, 1, cat, 10000, today.AddDays(-10), today)
	f.expense(t, 1, account, cat, 2500, today)

	if f.cache(t, budgetID) == nil {
		t.Fatal("expected a cache entry after the expense write")
	}

	b, err := f.repo.Budgets().GetBudget(ctx, budgetID)
	if err != nil {
		t.Fatalf("get budget: %v", err)
	}

	// Rename only: the cached aggregate is still correct.
	b.Name = "renamed"
	if err := f.budgets.Update(ctx, b); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if f.cache(t, budgetID) == nil {
		t.Fatal("rename should not clear the cache")
	}

	// Planned amount change invalidates.
	b.Planned = core.Money{Cents: 20000}
	if err := f.budgets.Update(ctx, b); err != nil {
		t.Fatalf("update planned: %v", err)
	}
	if f.cache(t, budgetID) != nil {
		t.Fatal("planned change should clear the cache")
	}
}

// flakySums fails SumExpenses on demand to simulate aggregation failures.
type flakySums struct {
	*memory.Repository
	fail *bool
}

func (u flakySums) Transactions() services.TransactionStore {
	return flakyTransactions{TransactionStore: u.Repository.Transactions(), fail: u.fail}
}

type flakyTransactions struct {
	services.TransactionStore
	fail *bool
}

func (s flakyTransactions) SumExpenses(ctx context.Context, ownerID int64, categoryIDs []int64, from, to core.Date) (int64, error) {
	if *s.fail {
		return 0, errors.New("query timeout")
	}
	return s.TransactionStore.SumExpenses(ctx, ownerID, categoryIDs, from, to)
}

func TestFailedAggregationPreservesCache(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	today := core.Today()

	fail := false
	uow := flakySums{Repository: f.repo, fail: &fail}
	budgets := services.NewBudgetService(uow, f.tree)

	cat := f.category(t, 1, 0, core.Expense)
	budgetID := f.budget(t, 1, cat, 10000, today.AddDays(-10), today)

	// Plant a stale entry, then make recomputation fail.
	stale := &core.BudgetCache{Spent: core.Money{Cents: 777}, ComputedAt: time.Now().Add(-10 * time.Minute)}
	if err := f.repo.Budgets().SetCache(ctx, budgetID, stale); err != nil {
		t.Fatalf("set cache: %v", err)
	}
	fail = true

	_, err := budgets.SpentAmount(ctx, 1, budgetID)
	var ae *core.AggregationError
	if !errors.As(err, &ae) {
		t.Fatalf("SpentAmount = %v, want AggregationError", err)
	}

	// The stale entry survived the failed refresh.
	entry := f.cache(t, budgetID)
	if entry == nil || entry.Spent.Cents != 777 {
		t.Fatalf("cache after failed aggregation = %+v, want the prior entry", entry)
	}

	// Once the store recovers the read succeeds and overwrites.
	fail = false
	spent, err := budgets.SpentAmount(ctx, 1, budgetID)
	if err != nil {
		t.Fatalf("recovered spent: %v", err)
	}
	if spent.Cents != 0 {
		t.Fatalf("spent = %d, want 0", spent.Cents)
	}
}

func TestRefreshAllAndClearAll(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	today := core.Today()

	account := f.account(t, 1)
	catA := f.category(t, 1, 0, core.Expense)
	catB := f.category(t, 1, 0, core.Expense)
	budgetA := f.budget(t, 1, catA, 10000, today.AddDays(-10), today)
	budgetB := f.budget(t, 1, catB, 10000, today.AddDays(-10), today)

	f.expense(t, 1, account, catA, 1500, today)
	f.expense(t, 1, account, catB, 2500, today)

	if err := f.budgets.ClearAll(ctx, 1); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if f.cache(t, budgetA) != nil || f.cache(t, budgetB) != nil {
		t.Fatal("clear all should empty every cache")
	}

	if err := f.budgets.RefreshAll(ctx, 1); err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	a, b := f.cache(t, budgetA), f.cache(t, budgetB)
	if a == nil || a.Spent.Cents != 1500 {
		t.Fatalf("budget A cache = %+v, want spent 1500", a)
	}
	if b == nil || b.Spent.Cents != 2500 {
		t.Fatalf("budget B cache = %+v, want spent 2500", b)
	}
}

func TestBudgetCategoryRules(t *testing.T) {
	f := newFixture()
	today := core.Today()

	incomeCat := f.category(t, 1, 0, core.Income)
	foreignCat := f.category(t, 2, 0, core.Expense)

	_, err := f.budgets.Create(context.Background(), core.Budget{
		OwnerID: 1, CategoryID: incomeCat, Name: "bad",
		Planned: core.Money{Cents: 100}, StartDate: today.AddDays(-1), EndDate: today, Active: true,
	})
	if !errors.Is(err, core.ErrBudgetCategory) {
		t.Fatalf("income category budget = %v, want ErrBudgetCategory", err)
	}

	_, err = f.budgets.Create(context.Background(), core.Budget{
		OwnerID: 1, CategoryID: foreignCat, Name: "bad",
		Planned: core.Money{Cents: 100}, StartDate: today.AddDays(-1), EndDate: today, Active: true,
	})
	if !errors.Is(err, core.ErrOwnershipMismatch) {
		t.Fatalf("foreign category budget = %v, want ErrOwnershipMismatch", err)
	}

	cat := f.category(t, 1, 0, core.Expense)
	_, err = f.budgets.Create(context.Background(), core.Budget{
		OwnerID: 1, CategoryID: cat, Name: "too long",
		Planned: core.Money{Cents: 100}, StartDate: today.AddDays(-400), EndDate: today, Active: true,
	})
	if !errors.Is(err, core.ErrPeriodTooLong) {
		t.Fatalf("over-long window = %v, want ErrPeriodTooLong", err)
	}
}
