package port

import (
	"context"

	"github.com/boddenberg/retail-ledger/internal/domain"
)

// AdminStore creates and removes the records the ledger operates on. It is
// only used by seeding and dev tooling; balances still move exclusively
// through LedgerStore.
type AdminStore interface {
	CreateCustomer(ctx context.Context, c *domain.Customer) error
	CreateAccount(ctx context.Context, a *domain.Account) error
	CreateCard(ctx context.Context, c *domain.Card) error
	// DeleteCustomer cascades to accounts, cards and entries and returns the
	// references of the removed entries.
	DeleteCustomer(ctx context.Context, customerID string) ([]string, error)
}
