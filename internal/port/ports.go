// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/retail-ledger/internal/domain"
)

// LedgerStore is everything the transaction coordinator needs from persistence.
type LedgerStore interface {
	// LoadAccount returns a copy of the account or *domain.ErrNotFound.
	LoadAccount(ctx context.Context, accountID string) (*domain.Account, error)
	// LoadCard returns a copy of the card or *domain.ErrNotFound.
	LoadCard(ctx context.Context, cardID string) (*domain.Card, error)
	// SumWithdrawals returns the absolute principal withdrawn from the
	// account during day. Commissions are not included.
	SumWithdrawals(ctx context.Context, accountID string, day domain.Day) (domain.Money, error)
	// AppendEntryAndUpdateAccount stores entry and the new account state
	// atomically. It fails with *domain.ErrVersionConflict when the stored
	// version differs from expectedVersion and with
	// *domain.ErrReferenceCollision when entry.Reference already exists.
	// On success the stored version is expectedVersion+1.
	AppendEntryAndUpdateAccount(ctx context.Context, entry *domain.LedgerEntry, account *domain.Account, expectedVersion int64) error
}

// StatementReader is the read side used by statements and reconciliation.
type StatementReader interface {
	LoadAccount(ctx context.Context, accountID string) (*domain.Account, error)
	// ListEntries returns entries newest first and the total matching count.
	ListEntries(ctx context.Context, accountID string, filter domain.EntryFilter) ([]domain.LedgerEntry, int, error)
	FindEntryByReference(ctx context.Context, reference string) (*domain.LedgerEntry, error)
	// AccountTotals loads the account and sums the net amount of its entries
	// in one consistent read.
	AccountTotals(ctx context.Context, accountID string) (*domain.AccountTotals, error)
	ListAccountIDs(ctx context.Context) ([]string, error)
}

// AccountLocker serialises operations on one account.
type AccountLocker interface {
	// WithLock runs fn while holding the lock for key.
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// ReferenceGenerator produces candidate entry references. The store is the
// authority on uniqueness.
type ReferenceGenerator interface {
	Next(ctx context.Context, at time.Time) (string, error)
}

// Clock is injected so "today" never comes from ambient system time.
type Clock interface {
	Now() time.Time
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// HealthChecker is implemented by backends that /readyz probes.
type HealthChecker interface {
	Name() string
	Ping(ctx context.Context) error
}
