package services_test

import (
	"context"
	"testing"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/services"
)

func TestProcessDueMaterializesTemplates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	now := time.Now()
	today := core.DateOf(now)

	account := f.account(t, 1)
	cat := f.category(t, 1, 0, core.Expense)
	budget := f.budget(t, 1, cat, 10000, today.AddDays(-10), today.AddDays(10))

	processor := services.NewRecurringProcessor(f.repo, f.ledger)

	templateID, err := processor.CreateTemplate(ctx, core.RecurringTransaction{
		OwnerID: 1, AccountID: account, CategoryID: cat,
		Type: core.Expense, Amount: core.Money{Cents: 999},
		Description: "gym membership", StartDate: today.AddDays(-30),
		Every: core.Daily, Active: true,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	count, err := processor.ProcessDue(ctx, now)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if count != 1 {
		t.Fatalf("processed = %d, want 1", count)
	}

	// Materialization went through the normal write path: balance moved and
	// the covering budget cache was refreshed.
	if got := f.balance(t, account); got != -999 {
		t.Fatalf("balance = %d, want -999", got)
	}
	entry := f.cache(t, budget)
	if entry == nil || entry.Spent.Cents != 999 {
		t.Fatalf("budget cache = %+v, want spent 999", entry)
	}

	// The template advanced, so the same day does not double-post.
	tmpl, err := f.repo.Recurring().GetRecurring(ctx, templateID)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if tmpl.LastExecuted != today {
		t.Fatalf("last executed = %s, want %s", tmpl.LastExecuted, today)
	}

	count, err = processor.ProcessDue(ctx, now)
	if err != nil {
		t.Fatalf("process due again: %v", err)
	}
	if count != 0 {
		t.Fatalf("second run processed = %d, want 0", count)
	}
	if got := f.balance(t, account); got != -999 {
		t.Fatalf("balance after second run = %d, want -999", got)
	}
}

func TestProcessDueSkipsInactiveAndOutOfWindow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	now := time.Now()
	today := core.DateOf(now)

	account := f.account(t, 1)
	cat := f.category(t, 1, 0, core.Expense)
	processor := services.NewRecurringProcessor(f.repo, f.ledger)

	templates := []core.RecurringTransaction{
		{OwnerID: 1, AccountID: account, CategoryID: cat, Type: core.Expense,
			Amount: core.Money{Cents: 100}, Description: "inactive",
			StartDate: today.AddDays(-10), Every: core.Daily, Active: false},
		{OwnerID: 1, AccountID: account, CategoryID: cat, Type: core.Expense,
			Amount: core.Money{Cents: 100}, Description: "not started",
			StartDate: today.AddDays(5), Every: core.Daily, Active: true},
		{OwnerID: 1, AccountID: account, CategoryID: cat, Type: core.Expense,
			Amount: core.Money{Cents: 100}, Description: "ended",
			StartDate: today.AddDays(-20), EndDate: today.AddDays(-3),
			Every: core.Daily, Active: true},
	}
	for _, tmpl := range templates {
		if _, err := f.repo.Recurring().CreateRecurring(ctx, tmpl); err != nil {
			t.Fatalf("seed template: %v", err)
		}
	}

	count, err := processor.ProcessDue(ctx, now)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if count != 0 {
		t.Fatalf("processed = %d, want 0", count)
	}
	if got := f.balance(t, account); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
}

func TestProcessDueContinuesPastFailingTemplate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	now := time.Now()
	today := core.DateOf(now)

	account := f.account(t, 1)
	cat := f.category(t, 1, 0, core.Expense)
	inactiveCat := f.category(t, 1, 0, core.Expense)
	processor := services.NewRecurringProcessor(f.repo, f.ledger)

	// Deactivate the category after template creation: materialization of the
	// first template fails reference checks, the second still runs.
	bad, err := f.repo.Categories().GetCategory(ctx, inactiveCat)
	if err != nil {
		t.Fatalf("get category: %v", err)
	}
	bad.Active = false
	if err := f.repo.Categories().UpdateCategory(ctx, bad); err != nil {
		t.Fatalf("deactivate category: %v", err)
	}
	f.tree.Invalidate()

	seed := func(categoryID int64, desc string) {
		t.Helper()
		_, err := f.repo.Recurring().CreateRecurring(ctx, core.RecurringTransaction{
			OwnerID: 1, AccountID: account, CategoryID: categoryID, Type: core.Expense,
			Amount: core.Money{Cents: 500}, Description: desc,
			StartDate: today.AddDays(-10), Every: core.Daily, Active: true,
		})
		if err != nil {
			t.Fatalf("seed template: %v", err)
		}
	}
	seed(inactiveCat, "doomed")
	seed(cat, "healthy")

	count, err := processor.ProcessDue(ctx, now)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if count != 1 {
		t.Fatalf("processed = %d, want 1 (failing template skipped)", count)
	}
	if got := f.balance(t, account); got != -500 {
		t.Fatalf("balance = %d, want -500", got)
	}
}
