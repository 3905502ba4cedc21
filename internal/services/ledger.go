package services

import (
	"context"
	"fmt"
	"log/slog"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
)

// EventPublisher is the post-commit sink for ledger events. Publishing is
// best-effort: a failure is logged, never surfaced to the caller.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, op string, transactionID, accountID, deltaCents int64) error
}

// ReconcileResult reports a balance reconciliation: the stored balance before,
// the recomputed one after, and their difference.
type ReconcileResult struct {
	AccountID int64      `json:"account_id"`
	Old       core.Money `json:"old_balance"`
	New       core.Money `json:"new_balance"`
	Diff      core.Money `json:"diff"`
}

// BalanceDiscrepancy is one account whose stored balance disagrees with the
// sum of its transaction deltas.
type BalanceDiscrepancy struct {
	AccountID int64      `json:"account_id"`
	Name      string     `json:"name"`
	Stored    core.Money `json:"stored"`
	Expected  core.Money `json:"expected"`
	Diff      core.Money `json:"diff"`
}

// LedgerService owns the transaction write path. Every lifecycle operation
// runs inside one unit of work: validate, persist the ledger row, apply the
// signed balance delta(s), refresh matching budget caches. A failure anywhere
// rolls the whole unit back, so a ledger row and its balance effect are never
// observable apart.
type LedgerService struct {
	uow       UnitOfWork
	budgets   *BudgetService
	publisher EventPublisher
}

// NewLedgerService wires the write path. publisher may be nil, in which case
// no events are emitted.
func NewLedgerService(uow UnitOfWork, budgets *BudgetService, publisher EventPublisher) *LedgerService {
	return &LedgerService{uow: uow, budgets: budgets, publisher: publisher}
}

// CreateAccount validates and persists a new account.
func (s *LedgerService) CreateAccount(ctx context.Context, a core.Account) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := s.uow.RunInTx(ctx, func(store Store) error {
		var err error
		id, err = store.Accounts().CreateAccount(ctx, a)
		return err
	})
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "Account created", "account_id", id, "owner_id", a.OwnerID, "type", a.Type)
	return id, nil
}

// CreateTransaction persists a ledger entry and applies its delta to the
// account balance.
func (s *LedgerService) CreateTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	if err := t.Validate(core.Today()); err != nil {
		return 0, err
	}

	var id int64
	err := s.uow.RunInTx(ctx, func(store Store) error {
		if err := s.checkReferences(ctx, store, t); err != nil {
			return err
		}

		var err error
		id, err = store.Transactions().CreateTransaction(ctx, t)
		if err != nil {
			return err
		}
		t.ID = id

		delta := t.Delta()
		if err := store.Accounts().AdjustBalance(ctx, t.AccountID, delta.Cents); err != nil {
			return &core.BalanceUpdateError{TransactionID: id, AccountID: t.AccountID, Delta: delta, Err: err}
		}

		return s.budgets.refreshForSnapshots(ctx, store, t)
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Transaction created",
		"transaction_id", id,
		"account_id", t.AccountID,
		"category_id", t.CategoryID,
		"type", t.Type,
		"delta_cents", t.Delta().Cents)
	s.publish(ctx, amqp.OpCreate, id, t.AccountID, t.Delta().Cents)
	return id, nil
}

// UpdateTransaction rewrites a ledger entry. The previous state is captured
// inside the same unit of work immediately before the write; its delta is
// reversed and the new one applied, covering amount, type and account moves.
func (s *LedgerService) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	if err := t.Validate(core.Today()); err != nil {
		return err
	}

	var old core.Transaction
	err := s.uow.RunInTx(ctx, func(store Store) error {
		var err error
		old, err = store.Transactions().GetTransaction(ctx, t.ID)
		if err != nil {
			return err
		}
		if old.OwnerID != t.OwnerID {
			return fmt.Errorf("transaction %d: %w", t.ID, core.ErrOwnershipMismatch)
		}
		if err := s.checkReferences(ctx, store, t); err != nil {
			return err
		}

		if err := store.Transactions().UpdateTransaction(ctx, t); err != nil {
			return err
		}

		switch {
		case old.AccountID != t.AccountID:
			// Account moved: reverse on the old account, apply on the new.
			if err := store.Accounts().AdjustBalance(ctx, old.AccountID, -old.Delta().Cents); err != nil {
				return &core.BalanceUpdateError{TransactionID: t.ID, AccountID: old.AccountID, Delta: old.Delta().Neg(), Err: err}
			}
			if err := store.Accounts().AdjustBalance(ctx, t.AccountID, t.Delta().Cents); err != nil {
				return &core.BalanceUpdateError{TransactionID: t.ID, AccountID: t.AccountID, Delta: t.Delta(), Err: err}
			}
		case old.Amount != t.Amount || old.Type != t.Type:
			net := t.Delta().Cents - old.Delta().Cents
			if err := store.Accounts().AdjustBalance(ctx, t.AccountID, net); err != nil {
				return &core.BalanceUpdateError{TransactionID: t.ID, AccountID: t.AccountID, Delta: core.Money{Cents: net}, Err: err}
			}
		}

		return s.budgets.refreshForSnapshots(ctx, store, old, t)
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Transaction updated",
		"transaction_id", t.ID,
		"account_id", t.AccountID,
		"old_account_id", old.AccountID,
		"delta_cents", t.Delta().Cents)
	s.publish(ctx, amqp.OpUpdate, t.ID, t.AccountID, t.Delta().Cents)
	return nil
}

// DeleteTransaction removes a ledger entry and reverses its delta.
func (s *LedgerService) DeleteTransaction(ctx context.Context, ownerID, id int64) error {
	var t core.Transaction
	err := s.uow.RunInTx(ctx, func(store Store) error {
		var err error
		t, err = store.Transactions().GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if t.OwnerID != ownerID {
			return fmt.Errorf("transaction %d: %w", id, core.ErrOwnershipMismatch)
		}

		if err := store.Transactions().DeleteTransaction(ctx, id); err != nil {
			return err
		}
		if err := store.Accounts().AdjustBalance(ctx, t.AccountID, -t.Delta().Cents); err != nil {
			return &core.BalanceUpdateError{TransactionID: id, AccountID: t.AccountID, Delta: t.Delta().Neg(), Err: err}
		}

		return s.budgets.refreshForSnapshots(ctx, store, t)
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Transaction deleted",
		"transaction_id", id,
		"account_id", t.AccountID,
		"delta_cents", -t.Delta().Cents)
	s.publish(ctx, amqp.OpDelete, id, t.AccountID, -t.Delta().Cents)
	return nil
}

// ReconcileAccountBalance recomputes the account balance from its ledger
// entries and overwrites the stored value when they disagree. Idempotent: on
// a consistent account the diff is zero and nothing is written.
func (s *LedgerService) ReconcileAccountBalance(ctx context.Context, accountID int64) (ReconcileResult, error) {
	var res ReconcileResult
	err := s.uow.RunInTx(ctx, func(store Store) error {
		account, err := store.Accounts().GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		expected, err := store.Transactions().SumAccountDelta(ctx, accountID)
		if err != nil {
			return err
		}

		res = ReconcileResult{
			AccountID: accountID,
			Old:       account.Balance,
			New:       core.Money{Cents: expected},
			Diff:      core.Money{Cents: expected - account.Balance.Cents},
		}
		if res.Diff.Cents == 0 {
			return nil
		}
		return store.Accounts().SetBalance(ctx, accountID, expected)
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	if res.Diff.Cents != 0 {
		slog.WarnContext(ctx, "Account balance reconciled",
			"account_id", accountID,
			"old_cents", res.Old.Cents,
			"new_cents", res.New.Cents,
			"diff_cents", res.Diff.Cents)
	}
	return res, nil
}

// ValidateAccountBalances scans accounts, optionally scoped to one owner
// (ownerID 0 means all), and reports every stored balance that disagrees
// with the recomputed transaction sum. Read-only.
func (s *LedgerService) ValidateAccountBalances(ctx context.Context, ownerID int64) ([]BalanceDiscrepancy, error) {
	var out []BalanceDiscrepancy
	err := s.uow.RunInTx(ctx, func(store Store) error {
		var (
			accounts []core.Account
			err      error
		)
		if ownerID != 0 {
			accounts, err = store.Accounts().ListAccounts(ctx, ownerID)
		} else {
			accounts, err = store.Accounts().ListAllAccounts(ctx)
		}
		if err != nil {
			return err
		}

		for _, a := range accounts {
			expected, err := store.Transactions().SumAccountDelta(ctx, a.ID)
			if err != nil {
				return fmt.Errorf("recompute account %d: %w", a.ID, err)
			}
			if expected != a.Balance.Cents {
				out = append(out, BalanceDiscrepancy{
					AccountID: a.ID,
					Name:      a.Name,
					Stored:    a.Balance,
					Expected:  core.Money{Cents: expected},
					Diff:      core.Money{Cents: expected - a.Balance.Cents},
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, d := range out {
		slog.WarnContext(ctx, "Account balance discrepancy",
			"account_id", d.AccountID,
			"stored_cents", d.Stored.Cents,
			"expected_cents", d.Expected.Cents,
			"diff_cents", d.Diff.Cents)
	}
	return out, nil
}

// checkReferences validates the account and category a transaction points at:
// both must belong to the transaction's owner and be active, and the category
// type must match the transaction type.
func (s *LedgerService) checkReferences(ctx context.Context, store Store, t core.Transaction) error {
	account, err := store.Accounts().GetAccount(ctx, t.AccountID)
	if err != nil {
		return fmt.Errorf("transaction account: %w", err)
	}
	if account.OwnerID != t.OwnerID {
		return fmt.Errorf("account %d: %w", t.AccountID, core.ErrOwnershipMismatch)
	}
	if !account.Active {
		return fmt.Errorf("account %d: %w", t.AccountID, core.ErrInactiveAccount)
	}

	category, err := store.Categories().GetCategory(ctx, t.CategoryID)
	if err != nil {
		return fmt.Errorf("transaction category: %w", err)
	}
	if category.OwnerID != t.OwnerID {
		return fmt.Errorf("category %d: %w", t.CategoryID, core.ErrOwnershipMismatch)
	}
	if !category.Active {
		return fmt.Errorf("category %d: %w", t.CategoryID, core.ErrInactiveCategory)
	}
	if category.Type != t.Type {
		return fmt.Errorf("category %d is %s: %w", t.CategoryID, category.Type, core.ErrCategoryTypeMismatch)
	}
	return nil
}

func (s *LedgerService) publish(ctx context.Context, op string, transactionID, accountID, deltaCents int64) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLedgerEvent(ctx, op, transactionID, accountID, deltaCents); err != nil {
		slog.WarnContext(ctx, "Failed to publish ledger event",
			"error", err, "op", op, "transaction_id", transactionID)
	}
}
