package service

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/boddenberg/retail-ledger/internal/infra/observability"
	"github.com/boddenberg/retail-ledger/internal/port"
)

const reconcileParallelism = 4

// Reconciler checks that every balance equals its opening balance plus the
// net amounts of its entries. Only the coordinator moves balances, so any
// difference means the store lost or duplicated a write.
type Reconciler struct {
	reader  port.StatementReader
	locker  port.AccountLocker
	clock   port.Clock
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewReconciler creates a reconciler. It takes the account lock so that an
// operation in flight is never half-counted.
func NewReconciler(reader port.StatementReader, locker port.AccountLocker, clock port.Clock, metrics *observability.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{reader: reader, locker: locker, clock: clock, metrics: metrics, logger: logger}
}

// ReconcileAccount compares one account's stored balance with its history.
func (r *Reconciler) ReconcileAccount(ctx context.Context, accountID string) (*domain.ReconciliationResult, error) {
	ctx, span := statementTracer.Start(ctx, "Reconciler.ReconcileAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	var res *domain.ReconciliationResult
	err := r.locker.WithLock(ctx, accountID, func(ctx context.Context) error {
		totals, err := r.reader.AccountTotals(ctx, accountID)
		if err != nil {
			return err
		}
		account, n := totals.Account, totals.Entries
		expected := account.Opening.Add(totals.Net)
		res = &domain.ReconciliationResult{
			AccountID:     accountID,
			StoredBalance: account.Balance,
			LedgerBalance: expected,
			Difference:    account.Balance.Sub(expected),
			EntryCount:    n,
			Consistent:    account.Balance.Equal(expected),
			CheckedAt:     r.clock.Now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !res.Consistent {
		r.metrics.IncrReconcileMismatch()
		r.logger.Error("ledger out of balance",
			zap.String("account_id", accountID),
			zap.Stringer("stored_balance", res.StoredBalance),
			zap.Stringer("ledger_balance", res.LedgerBalance),
			zap.Stringer("difference", res.Difference),
		)
	}
	return res, nil
}

// ReconcileAll checks every account and returns the inconsistent ones.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]domain.ReconciliationResult, error) {
	ctx, span := statementTracer.Start(ctx, "Reconciler.ReconcileAll")
	defer span.End()

	ids, err := r.reader.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu         sync.Mutex
		mismatches []domain.ReconciliationResult
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileParallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			res, err := r.ReconcileAccount(gCtx, id)
			if err != nil {
				return err
			}
			if !res.Consistent {
				mu.Lock()
				mismatches = append(mismatches, *res)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.Info("reconciliation finished",
		zap.Int("accounts", len(ids)),
		zap.Int("mismatches", len(mismatches)),
	)
	return mismatches, nil
}

// Run is the scheduled entry point.
func (r *Reconciler) Run(ctx context.Context) {
	if _, err := r.ReconcileAll(ctx); err != nil {
		r.logger.Error("reconciliation failed", zap.Error(err))
	}
}
