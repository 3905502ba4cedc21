// Package worker runs the background consumers: the audit trail writer fed
// by ledger events and the periodic balance validator.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/services"
)

// EventSource delivers ledger events to a handler until the context ends.
type EventSource interface {
	ConsumeLedgerEvents(ctx context.Context, handler func(*amqp.LedgerEventMessage) error) error
}

// AuditWorker appends one audit entry per consumed ledger event and
// periodically cross-checks stored account balances against the ledger.
type AuditWorker struct {
	source           EventSource
	uow              services.UnitOfWork
	ledger           *services.LedgerService
	validateInterval time.Duration
}

func NewAuditWorker(source EventSource, uow services.UnitOfWork, ledger *services.LedgerService, validateInterval time.Duration) *AuditWorker {
	return &AuditWorker{
		source:           source,
		uow:              uow,
		ledger:           ledger,
		validateInterval: validateInterval,
	}
}

// Run blocks until ctx is cancelled or either loop fails.
func (w *AuditWorker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.source.ConsumeLedgerEvents(ctx, func(msg *amqp.LedgerEventMessage) error {
			return w.HandleEvent(ctx, msg)
		})
	})

	g.Go(func() error {
		ticker := time.NewTicker(w.validateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				w.validateBalances(ctx)
			}
		}
	})

	return g.Wait()
}

// HandleEvent records one ledger event in the audit log.
func (w *AuditWorker) HandleEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	entry := core.AuditEntry{
		Op:            msg.Op,
		TransactionID: msg.TransactionID,
		AccountID:     msg.AccountID,
		Delta:         core.Money{Cents: msg.DeltaCents},
		RecordedAt:    msg.Timestamp,
	}

	id, err := w.uow.Audit().AppendAudit(ctx, entry)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	slog.InfoContext(ctx, "Audit entry recorded",
		"audit_id", id,
		"op", msg.Op,
		"transaction_id", msg.TransactionID,
		"account_id", msg.AccountID,
		"delta_cents", msg.DeltaCents)
	return nil
}

func (w *AuditWorker) validateBalances(ctx context.Context) {
	discrepancies, err := w.ledger.ValidateAccountBalances(ctx, 0)
	if err != nil {
		slog.ErrorContext(ctx, "Balance validation failed", "error", err)
		return
	}
	if len(discrepancies) == 0 {
		slog.DebugContext(ctx, "Balance validation clean")
		return
	}
	slog.WarnContext(ctx, "Balance validation found drift", "accounts", len(discrepancies))
}
