package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bilancio/internal/core"
)

// RecurringProcessor materializes due recurring templates into real ledger
// entries. Creation goes through the LedgerService, so balance deltas and
// budget cache refreshes happen through the normal write path.
type RecurringProcessor struct {
	uow    UnitOfWork
	ledger *LedgerService
}

func NewRecurringProcessor(uow UnitOfWork, ledger *LedgerService) *RecurringProcessor {
	return &RecurringProcessor{uow: uow, ledger: ledger}
}

// CreateTemplate validates and persists a new recurring template.
func (p *RecurringProcessor) CreateTemplate(ctx context.Context, r core.RecurringTransaction) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := p.uow.RunInTx(ctx, func(store Store) error {
		var err error
		id, err = store.Recurring().CreateRecurring(ctx, r)
		return err
	})
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "Recurring template created",
		"recurring_id", id, "owner_id", r.OwnerID, "frequency", r.Every)
	return id, nil
}

// ProcessDue walks active templates and materializes the ones due as of now.
// One failing template is logged and skipped; the rest still run.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	today := core.DateOf(now)

	templates, err := p.uow.Recurring().ListActiveRecurring(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("list active templates: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring templates",
		"total_active", len(templates),
		"processing_date", today.String())

	processed := 0
	for _, r := range templates {
		checker, err := GetDuenessChecker(r.Every)
		if err != nil {
			slog.ErrorContext(ctx, "Skipping recurring template",
				"recurring_id", r.ID, "error", err)
			continue
		}
		if !checker.IsDue(r.LastExecuted, today, r.StartDate) {
			continue
		}

		t := core.Transaction{
			OwnerID:     r.OwnerID,
			AccountID:   r.AccountID,
			CategoryID:  r.CategoryID,
			Type:        r.Type,
			Amount:      r.Amount,
			Description: r.Description,
			Date:        today,
			RecurringID: r.ID,
		}
		id, err := p.ledger.CreateTransaction(ctx, t)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to materialize recurring template",
				"recurring_id", r.ID,
				"description", r.Description,
				"error", err)
			continue
		}

		if err := p.uow.Recurring().SetLastExecuted(ctx, r.ID, today); err != nil {
			// The transaction exists; next run would double-post. Surface it.
			return processed, fmt.Errorf("advance template %d after transaction %d: %w", r.ID, id, err)
		}

		processed++
		slog.InfoContext(ctx, "Materialized recurring template",
			"recurring_id", r.ID,
			"transaction_id", id,
			"amount_cents", r.Amount.Cents,
			"frequency", r.Every)
	}

	slog.InfoContext(ctx, "Recurring processing complete",
		"processed", processed,
		"total_checked", len(templates))

	return processed, nil
}
