package service_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/boddenberg/retail-ledger/internal/infra/lock"
	"github.com/boddenberg/retail-ledger/internal/infra/observability"
	"github.com/boddenberg/retail-ledger/internal/service"
)

func TestReconcile_ConsistentAfterOperations(t *testing.T) {
	f := newFixture(t, "100.00", fixtureOpt{})
	f.debitCard(t, "500.00")
	populate(t, f)
	m := observability.NewMetrics()
	r := service.NewReconciler(f.store, lock.NewLocal(), f.clock, m, zap.NewNop())

	res, err := r.ReconcileAccount(context.Background(), "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Consistent || !res.Difference.IsZero() || res.EntryCount != 4 {
		t.Errorf("expected a consistent ledger, got %+v", res)
	}
	if res.LedgerBalance.String() != "198.00" {
		t.Errorf("expected opening plus entries 198.00, got %s", res.LedgerBalance)
	}
	if m.GetLedgerSnapshot().ReconcileFailures != 0 {
		t.Error("mismatch counted for a consistent ledger")
	}
}

func TestReconcile_DetectsDrift(t *testing.T) {
	f := newFixture(t, "100.00", fixtureOpt{})
	ctx := context.Background()
	if err := f.store.CreateAccount(ctx, &domain.Account{ID: "acc-2", CustomerID: "cus-1", Active: true}); err != nil {
		t.Fatal(err)
	}

	// Commit an entry of 10.00 while moving the balance by 15.00.
	acc, err := f.store.LoadAccount(ctx, "acc-2")
	if err != nil {
		t.Fatal(err)
	}
	acc.Balance = money("15.00")
	e := &domain.LedgerEntry{
		ID: "e-1", AccountID: "acc-2", Type: domain.EntryDeposit,
		Amount: money("10.00"), BalanceAfter: money("15.00"),
		Reference: "TXN-2024-00000042", Status: domain.StatusCompleted, CreatedAt: f.clock.Now(),
	}
	if err := f.store.AppendEntryAndUpdateAccount(ctx, e, acc, acc.Version); err != nil {
		t.Fatal(err)
	}

	m := observability.NewMetrics()
	r := service.NewReconciler(f.store, lock.NewLocal(), f.clock, m, zap.NewNop())

	mismatches, err := r.ReconcileAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(mismatches) != 1 || mismatches[0].AccountID != "acc-2" {
		t.Fatalf("expected acc-2 to drift, got %+v", mismatches)
	}
	if mismatches[0].Difference.String() != "5.00" {
		t.Errorf("expected difference 5.00, got %s", mismatches[0].Difference)
	}
	if got := m.GetLedgerSnapshot().ReconcileFailures; got != 1 {
		t.Errorf("expected 1 reconcile failure, got %v", got)
	}
}

// The reconciler below does not share the writer's lock, as when several
// instances run with local locks against one database.
func TestReconcile_ConsistentWhileAnotherWriterAppends(t *testing.T) {
	f := newFixture(t, "100.00", fixtureOpt{})
	m := observability.NewMetrics()
	r := service.NewReconciler(f.store, noLock{}, f.clock, m, zap.NewNop())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 200; i++ {
			if _, err := f.svc.Deposit(ctx, service.DepositRequest{AccountID: "acc-1", Amount: money("1.00")}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for i := 0; i < 200; i++ {
		res, err := r.ReconcileAccount(ctx, "acc-1")
		if err != nil {
			t.Fatal(err)
		}
		if !res.Consistent {
			t.Fatalf("false mismatch while entries were being appended: %+v", res)
		}
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := m.GetLedgerSnapshot().ReconcileFailures; got != 0 {
		t.Errorf("expected no reconcile failures, got %v", got)
	}
}
