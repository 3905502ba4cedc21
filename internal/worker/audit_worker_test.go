package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/services"
	"bilancio/internal/storage/memory"
)

type fakeSource struct {
	msgs []*amqp.LedgerEventMessage
}

func (f *fakeSource) ConsumeLedgerEvents(ctx context.Context, handler func(*amqp.LedgerEventMessage) error) error {
	for _, msg := range f.msgs {
		if err := handler(msg); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func newTestWorker(repo *memory.Repository, source EventSource) *AuditWorker {
	tree := services.NewHierarchy()
	budgets := services.NewBudgetService(repo, tree)
	ledger := services.NewLedgerService(repo, budgets, nil)
	return NewAuditWorker(source, repo, ledger, time.Hour)
}

func TestHandleEventAppendsAuditEntry(t *testing.T) {
	repo := memory.New()
	w := newTestWorker(repo, &fakeSource{})
	ctx := context.Background()

	msg := amqp.NewLedgerEventMessage(amqp.OpCreate, 42, 7, -2500)
	if err := w.HandleEvent(ctx, msg); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	entries, err := repo.Audit().ListAudit(ctx, 7, 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Op != amqp.OpCreate || e.TransactionID != 42 || e.AccountID != 7 || e.Delta.Cents != -2500 {
		t.Errorf("entry = %+v, want op=create txn=42 account=7 delta=-2500", e)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	repo := memory.New()
	source := &fakeSource{msgs: []*amqp.LedgerEventMessage{
		amqp.NewLedgerEventMessage(amqp.OpCreate, 1, 3, 1000),
		amqp.NewLedgerEventMessage(amqp.OpDelete, 1, 3, -1000),
	}}
	w := newTestWorker(repo, source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the consumer loop a moment to drain the fake source.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	entries, err := repo.Audit().ListAudit(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d audit entries, want 2", len(entries))
	}
}
