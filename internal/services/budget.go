package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"bilancio/internal/core"
)

// Cache validity windows. A budget whose window contains today is "live" and
// sees new spending often; past and future windows change rarely.
const (
	liveCacheTimeout = 5 * time.Minute
	idleCacheTimeout = time.Hour
)

// refreshAllConcurrency bounds the parallel recomputations in RefreshAll.
const refreshAllConcurrency = 4

func cacheTimeout(b core.Budget, today core.Date) time.Duration {
	if b.Window(today) {
		return liveCacheTimeout
	}
	return idleCacheTimeout
}

// BudgetService owns budget writes and the spent-amount cache. Per budget the
// cache is a small state machine: empty (no entry), valid (entry younger than
// the timeout) or stale. Reads serve valid entries and recompute otherwise;
// expense writes refresh matching budgets synchronously inside the ledger's
// unit of work, so the user who just logged an expense sees it reflected
// immediately.
type BudgetService struct {
	uow  UnitOfWork
	tree *Hierarchy
}

func NewBudgetService(uow UnitOfWork, tree *Hierarchy) *BudgetService {
	return &BudgetService{uow: uow, tree: tree}
}

// Create validates and persists a new budget. Its cache starts empty.
func (s *BudgetService) Create(ctx context.Context, b core.Budget) (int64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := s.uow.RunInTx(ctx, func(store Store) error {
		if err := s.checkCategory(ctx, store, b); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, store, b, 0); err != nil {
			return err
		}
		var err error
		id, err = store.Budgets().CreateBudget(ctx, b)
		return err
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Budget created",
		"budget_id", id, "owner_id", b.OwnerID, "category_id", b.CategoryID,
		"planned_cents", b.Planned.Cents)
	return id, nil
}

// Update rewrites budget parameters. When a financially relevant field
// changes (category, window, planned amount) the cache is cleared so the next
// read recomputes.
func (s *BudgetService) Update(ctx context.Context, b core.Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}

	err := s.uow.RunInTx(ctx, func(store Store) error {
		old, err := store.Budgets().GetBudget(ctx, b.ID)
		if err != nil {
			return err
		}
		if old.OwnerID != b.OwnerID {
			return fmt.Errorf("budget %d: %w", b.ID, core.ErrOwnershipMismatch)
		}
		if err := s.checkCategory(ctx, store, b); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, store, b, b.ID); err != nil {
			return err
		}
		if err := store.Budgets().UpdateBudget(ctx, b); err != nil {
			return err
		}

		if old.CategoryID != b.CategoryID || old.StartDate != b.StartDate ||
			old.EndDate != b.EndDate || old.Planned != b.Planned {
			return store.Budgets().SetCache(ctx, b.ID, nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Budget updated", "budget_id", b.ID, "planned_cents", b.Planned.Cents)
	return nil
}

// SpentAmount returns the summed expense amounts inside the budget window,
// rolled up over the category subtree, served from cache when fresh.
func (s *BudgetService) SpentAmount(ctx context.Context, ownerID, budgetID int64) (core.Money, error) {
	b, err := s.getOwned(ctx, ownerID, budgetID)
	if err != nil {
		return core.Money{}, err
	}
	return s.spentAmount(ctx, s.uow, b)
}

func (s *BudgetService) spentAmount(ctx context.Context, store Store, b core.Budget) (core.Money, error) {
	if b.Cache != nil && time.Since(b.Cache.ComputedAt) < cacheTimeout(b, core.Today()) {
		return b.Cache.Spent, nil
	}

	// Empty or stale: recompute and write through. On failure the previous
	// entry is left untouched.
	spent, err := s.computeSpent(ctx, store, b)
	if err != nil {
		return core.Money{}, err
	}
	if err := store.Budgets().SetCache(ctx, b.ID, &core.BudgetCache{Spent: spent, ComputedAt: time.Now()}); err != nil {
		return core.Money{}, fmt.Errorf("store budget cache: %w", err)
	}
	return spent, nil
}

// computeSpent runs the aggregate ledger query, bypassing the cache.
func (s *BudgetService) computeSpent(ctx context.Context, store Store, b core.Budget) (core.Money, error) {
	ids, err := s.tree.Descendants(ctx, store.Categories(), b.CategoryID)
	if err != nil {
		return core.Money{}, &core.AggregationError{BudgetID: b.ID, Err: err}
	}
	cents, err := store.Transactions().SumExpenses(ctx, b.OwnerID, ids, b.StartDate, b.EndDate)
	if err != nil {
		return core.Money{}, &core.AggregationError{BudgetID: b.ID, Err: err}
	}
	return core.Money{Cents: cents}, nil
}

// Metrics returns the full progress report for one budget.
func (s *BudgetService) Metrics(ctx context.Context, ownerID, budgetID int64) (core.BudgetReport, error) {
	b, err := s.getOwned(ctx, ownerID, budgetID)
	if err != nil {
		return core.BudgetReport{}, err
	}
	spent, err := s.spentAmount(ctx, s.uow, b)
	if err != nil {
		return core.BudgetReport{}, err
	}
	return core.ComputeReport(b, spent, core.Today()), nil
}

// CategoryBreakdown reports spending per child category inside the budget
// window, descending by amount, each with its share of the planned amount.
// A budget whose category has no children reports the category itself.
func (s *BudgetService) CategoryBreakdown(ctx context.Context, ownerID, budgetID int64) ([]core.CategoryShare, error) {
	b, err := s.getOwned(ctx, ownerID, budgetID)
	if err != nil {
		return nil, err
	}

	children, err := s.uow.Categories().GetChildren(ctx, b.CategoryID)
	if err != nil {
		return nil, err
	}

	if len(children) == 0 {
		self, err := s.uow.Categories().GetCategory(ctx, b.CategoryID)
		if err != nil {
			return nil, err
		}
		spent, err := s.spentAmount(ctx, s.uow, b)
		if err != nil {
			return nil, err
		}
		return []core.CategoryShare{{
			CategoryID:      b.CategoryID,
			CategoryName:    self.Name,
			Spent:           spent,
			PercentOfBudget: core.PercentOf(spent, b.Planned),
		}}, nil
	}

	var out []core.CategoryShare
	for _, child := range children {
		ids, err := s.tree.Descendants(ctx, s.uow.Categories(), child.ID)
		if err != nil {
			return nil, &core.AggregationError{BudgetID: b.ID, Err: err}
		}
		cents, err := s.uow.Transactions().SumExpenses(ctx, b.OwnerID, ids, b.StartDate, b.EndDate)
		if err != nil {
			return nil, &core.AggregationError{BudgetID: b.ID, Err: err}
		}
		if cents == 0 {
			continue
		}
		spent := core.Money{Cents: cents}
		out = append(out, core.CategoryShare{
			CategoryID:      child.ID,
			CategoryName:    child.Name,
			Spent:           spent,
			PercentOfBudget: core.PercentOf(spent, b.Planned),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Spent.Cents != out[j].Spent.Cents {
			return out[i].Spent.Cents > out[j].Spent.Cents
		}
		return out[i].CategoryName < out[j].CategoryName
	})
	return out, nil
}

// Refresh forces a recomputation now.
func (s *BudgetService) Refresh(ctx context.Context, ownerID, budgetID int64) (core.Money, error) {
	b, err := s.getOwned(ctx, ownerID, budgetID)
	if err != nil {
		return core.Money{}, err
	}
	spent, err := s.computeSpent(ctx, s.uow, b)
	if err != nil {
		return core.Money{}, err
	}
	if err := s.uow.Budgets().SetCache(ctx, budgetID, &core.BudgetCache{Spent: spent, ComputedAt: time.Now()}); err != nil {
		return core.Money{}, fmt.Errorf("store budget cache: %w", err)
	}
	return spent, nil
}

// Clear drops the cache entry without recomputing; the next read recomputes.
func (s *BudgetService) Clear(ctx context.Context, ownerID, budgetID int64) error {
	if _, err := s.getOwned(ctx, ownerID, budgetID); err != nil {
		return err
	}
	return s.uow.Budgets().SetCache(ctx, budgetID, nil)
}

// RefreshAll recomputes every active budget of one owner, a few at a time.
func (s *BudgetService) RefreshAll(ctx context.Context, ownerID int64) error {
	budgets, err := s.uow.Budgets().ListBudgets(ctx, ownerID, true)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshAllConcurrency)
	for _, b := range budgets {
		g.Go(func() error {
			_, err := s.Refresh(ctx, ownerID, b.ID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Refreshed all budget caches", "owner_id", ownerID, "count", len(budgets))
	return nil
}

// ClearAll empties every budget cache of one owner.
func (s *BudgetService) ClearAll(ctx context.Context, ownerID int64) error {
	budgets, err := s.uow.Budgets().ListBudgets(ctx, ownerID, false)
	if err != nil {
		return err
	}
	for _, b := range budgets {
		if err := s.uow.Budgets().SetCache(ctx, b.ID, nil); err != nil {
			return err
		}
	}
	slog.InfoContext(ctx, "Cleared all budget caches", "owner_id", ownerID, "count", len(budgets))
	return nil
}

// refreshForSnapshots recomputes every active budget affected by the given
// transaction snapshots (the before and after states of a write). A budget is
// affected when its category equals the snapshot's category or any of its
// ancestors and its window contains the snapshot's date. Runs inside the
// ledger's unit of work.
func (s *BudgetService) refreshForSnapshots(ctx context.Context, store Store, snapshots ...core.Transaction) error {
	seen := make(map[int64]bool)
	for _, t := range snapshots {
		if t.Type != core.Expense {
			continue
		}

		chain, err := s.tree.Ancestors(ctx, store.Categories(), t.CategoryID)
		if err != nil {
			return err
		}
		chain = append([]int64{t.CategoryID}, chain...)

		budgets, err := store.Budgets().FindCovering(ctx, t.OwnerID, chain, t.Date)
		if err != nil {
			return err
		}
		for _, b := range budgets {
			if seen[b.ID] {
				continue
			}
			seen[b.ID] = true

			spent, err := s.computeSpent(ctx, store, b)
			if err != nil {
				return err
			}
			if err := store.Budgets().SetCache(ctx, b.ID, &core.BudgetCache{Spent: spent, ComputedAt: time.Now()}); err != nil {
				return fmt.Errorf("store budget cache: %w", err)
			}
		}
	}
	return nil
}

func (s *BudgetService) getOwned(ctx context.Context, ownerID, budgetID int64) (core.Budget, error) {
	b, err := s.uow.Budgets().GetBudget(ctx, budgetID)
	if err != nil {
		return core.Budget{}, err
	}
	if ownerID != 0 && b.OwnerID != ownerID {
		return core.Budget{}, fmt.Errorf("budget %d: %w", budgetID, core.ErrOwnershipMismatch)
	}
	return b, nil
}

// checkCategory requires an active expense category owned by the budget's
// owner.
func (s *BudgetService) checkCategory(ctx context.Context, store Store, b core.Budget) error {
	category, err := store.Categories().GetCategory(ctx, b.CategoryID)
	if err != nil {
		return fmt.Errorf("budget category: %w", err)
	}
	if category.OwnerID != b.OwnerID {
		return fmt.Errorf("category %d: %w", b.CategoryID, core.ErrOwnershipMismatch)
	}
	if !category.Active || category.Type != core.Expense {
		return fmt.Errorf("category %d: %w", b.CategoryID, core.ErrBudgetCategory)
	}
	return nil
}

func (s *BudgetService) checkOverlap(ctx context.Context, store Store, b core.Budget, excludeID int64) error {
	if !b.Active {
		return nil
	}
	overlapping, err := store.Budgets().FindOverlapping(ctx, b.OwnerID, b.CategoryID, b.StartDate, b.EndDate, excludeID)
	if err != nil {
		return err
	}
	if len(overlapping) > 0 {
		return fmt.Errorf("budget window %s..%s collides with budget %d: %w",
			b.StartDate, b.EndDate, overlapping[0].ID, core.ErrBudgetOverlap)
	}
	return nil
}
