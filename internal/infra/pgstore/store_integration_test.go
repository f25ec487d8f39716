//go:build integration

package pgstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/boddenberg/retail-ledger/internal/infra/observability"
	"github.com/boddenberg/retail-ledger/internal/infra/pgstore"
)

var t0 = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *pgstore.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("ledger"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, pgstore.Migrate(dsn, zap.NewNop()))
	// Second run is a no-op.
	require.NoError(t, pgstore.Migrate(dsn, zap.NewNop()))

	s, err := pgstore.Open(ctx, dsn, 4, observability.NewMetrics(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.CreateCustomer(ctx, &domain.Customer{ID: "cus-1", Name: "Ana", Active: true, CreatedAt: t0}))
	require.NoError(t, s.CreateAccount(ctx, &domain.Account{ID: "acc-1", CustomerID: "cus-1", Currency: "EUR", Active: true, CreatedAt: t0}))
	require.NoError(t, s.CreateCard(ctx, &domain.Card{
		ID: "card-1", AccountID: "acc-1", Type: domain.CardDebit, Active: true,
		DailyWithdrawalLimit: domain.MoneyPtr(domain.MustParseMoney("200.00")),
	}))
	return s
}

func appendEntry(t *testing.T, s *pgstore.Store, e *domain.LedgerEntry) {
	t.Helper()
	ctx := context.Background()
	acc, err := s.LoadAccount(ctx, e.AccountID)
	require.NoError(t, err)
	acc.Balance = acc.Balance.Add(e.NetAmount())
	e.BalanceAfter = acc.Balance
	if e.Status == "" {
		e.Status = domain.StatusCompleted
	}
	require.NoError(t, s.AppendEntryAndUpdateAccount(ctx, e, acc, acc.Version))
}

func TestIntegration_LoadRecords(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	card, err := s.LoadCard(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CardDebit, card.Type)
	require.NotNil(t, card.DailyWithdrawalLimit)
	assert.Equal(t, "200.00", card.DailyWithdrawalLimit.String())
	assert.Nil(t, card.CreditLimit)

	_, err = s.LoadAccount(ctx, "missing")
	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)

	err = s.CreateCard(ctx, &domain.Card{ID: "c-x", AccountID: "ghost", Type: domain.CardDebit})
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, domain.ResourceAccount, nf.Resource)
}

func TestIntegration_AppendVersionAndCollision(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	appendEntry(t, s, &domain.LedgerEntry{ID: "e1", AccountID: "acc-1", Type: domain.EntryDeposit, Amount: domain.MustParseMoney("100.00"), Reference: "TXN-2024-00000001", CreatedAt: t0})

	acc, err := s.LoadAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), acc.Version)
	assert.Equal(t, "100.00", acc.Balance.String())

	stale := &domain.LedgerEntry{ID: "e2", AccountID: "acc-1", Type: domain.EntryDeposit, Amount: domain.MustParseMoney("1.00"), Reference: "TXN-2024-00000002", CreatedAt: t0, Status: domain.StatusCompleted}
	err = s.AppendEntryAndUpdateAccount(ctx, stale, acc, 0)
	var conflict *domain.ErrVersionConflict
	require.ErrorAs(t, err, &conflict)

	dup := &domain.LedgerEntry{ID: "e3", AccountID: "acc-1", Type: domain.EntryDeposit, Amount: domain.MustParseMoney("1.00"), Reference: "TXN-2024-00000001", CreatedAt: t0, Status: domain.StatusCompleted}
	acc.Balance = acc.Balance.Add(dup.Amount)
	err = s.AppendEntryAndUpdateAccount(ctx, dup, acc, acc.Version)
	var collision *domain.ErrReferenceCollision
	require.ErrorAs(t, err, &collision)

	after, err := s.LoadAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", after.Balance.String(), "rolled back transaction must not move the balance")
	assert.Equal(t, int64(1), after.Version)
}

func TestIntegration_QueriesAndTotals(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	appendEntry(t, s, &domain.LedgerEntry{ID: "d", AccountID: "acc-1", Type: domain.EntryDeposit, Amount: domain.MustParseMoney("500.00"), Reference: "R-1", CreatedAt: t0.Add(-24 * time.Hour)})
	appendEntry(t, s, &domain.LedgerEntry{ID: "w1", AccountID: "acc-1", Type: domain.EntryWithdrawal, Amount: domain.MustParseMoney("-40.00"), Commission: domain.MustParseMoney("2.00"), ExternalATM: true, Reference: "R-2", CreatedAt: t0})
	appendEntry(t, s, &domain.LedgerEntry{ID: "w2", AccountID: "acc-1", Type: domain.EntryWithdrawal, Amount: domain.MustParseMoney("-20.00"), Reference: "R-3", CreatedAt: t0.Add(time.Hour)})

	sum, err := s.SumWithdrawals(ctx, "acc-1", domain.DayOf(t0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "60.00", sum.String())

	entries, total, err := s.ListEntries(ctx, "acc-1", domain.EntryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, entries, 2)
	assert.Equal(t, "R-3", entries[0].Reference)

	fees, total, err := s.ListEntries(ctx, "acc-1", domain.EntryFilter{WithCommission: true, ExternalATM: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "R-2", fees[0].Reference)

	e, err := s.FindEntryByReference(ctx, "R-2")
	require.NoError(t, err)
	assert.Equal(t, "-40.00", e.Amount.String())
	assert.Equal(t, "2.00", e.Commission.String())

	totals, err := s.AccountTotals(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, totals.Entries)
	acc, err := s.LoadAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, acc.Version, totals.Account.Version)
	assert.True(t, totals.Account.Balance.Equal(totals.Net), "balance %s vs ledger %s", totals.Account.Balance, totals.Net)

	_, err = s.AccountTotals(ctx, "missing")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestIntegration_SequenceReferences(t *testing.T) {
	s := setupStore(t)
	refs := pgstore.NewSequenceReferences(s)
	ctx := context.Background()

	a, err := refs.Next(ctx, t0)
	require.NoError(t, err)
	b, err := refs.Next(ctx, t0)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	year, _, err := domain.ParseReference(a)
	require.NoError(t, err)
	assert.Equal(t, 2024, year)
}

func TestIntegration_DeleteCustomerCascades(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	appendEntry(t, s, &domain.LedgerEntry{ID: "d", AccountID: "acc-1", Type: domain.EntryDeposit, Amount: domain.MustParseMoney("5.00"), Reference: "R-1", CreatedAt: t0})

	refs, err := s.DeleteCustomer(ctx, "cus-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"R-1"}, refs)

	var nf *domain.ErrNotFound
	_, err = s.LoadCard(ctx, "card-1")
	assert.ErrorAs(t, err, &nf)
	_, err = s.FindEntryByReference(ctx, "R-1")
	assert.ErrorAs(t, err, &nf)
	_, err = s.DeleteCustomer(ctx, "cus-1")
	assert.ErrorAs(t, err, &nf)
}
