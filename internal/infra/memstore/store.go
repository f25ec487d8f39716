// Package memstore is an in-memory implementation of the ledger ports.
// Records live in maps keyed by id; accounts, cards and entries refer to
// each other by id only. One mutex guards everything, so each call is
// atomic with respect to every other call.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/boddenberg/retail-ledger/internal/domain"
)

// Store implements port.LedgerStore, port.StatementReader and port.AdminStore.
type Store struct {
	mu sync.RWMutex

	customers map[string]*domain.Customer
	accounts  map[string]*domain.Account
	cards     map[string]*domain.Card
	entries   map[string]*domain.LedgerEntry

	byReference map[string]string   // reference -> entry id
	byAccount   map[string][]string // account id -> entry ids, oldest first
}

// New returns an empty store.
func New() *Store {
	return &Store{
		customers:   make(map[string]*domain.Customer),
		accounts:    make(map[string]*domain.Account),
		cards:       make(map[string]*domain.Card),
		entries:     make(map[string]*domain.LedgerEntry),
		byReference: make(map[string]string),
		byAccount:   make(map[string][]string),
	}
}

// ============================================================
// LedgerStore
// ============================================================

func (s *Store) LoadAccount(_ context.Context, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: domain.ResourceAccount, ID: accountID}
	}
	return a.Clone(), nil
}

func (s *Store) LoadCard(_ context.Context, cardID string) (*domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cards[cardID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: domain.ResourceCard, ID: cardID}
	}
	cp := *c
	return &cp, nil
}

func (s *Store) SumWithdrawals(_ context.Context, accountID string, day domain.Day) (domain.Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := domain.Zero
	for _, id := range s.byAccount[accountID] {
		e := s.entries[id]
		if e.Type == domain.EntryWithdrawal && e.Status == domain.StatusCompleted && day.Contains(e.CreatedAt) {
			total = total.Add(e.Amount.Abs())
		}
	}
	return total, nil
}

func (s *Store) AppendEntryAndUpdateAccount(_ context.Context, entry *domain.LedgerEntry, account *domain.Account, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[account.ID]
	if !ok {
		return &domain.ErrNotFound{Resource: domain.ResourceAccount, ID: account.ID}
	}
	if current.Version != expectedVersion {
		return &domain.ErrVersionConflict{AccountID: account.ID, Expected: expectedVersion}
	}
	if _, taken := s.byReference[entry.Reference]; taken {
		return &domain.ErrReferenceCollision{Reference: entry.Reference}
	}

	stored := account.Clone()
	stored.Version = expectedVersion + 1
	account.Version = stored.Version
	s.accounts[stored.ID] = stored

	e := *entry
	s.entries[e.ID] = &e
	s.byReference[e.Reference] = e.ID
	s.byAccount[e.AccountID] = append(s.byAccount[e.AccountID], e.ID)
	return nil
}

// ============================================================
// StatementReader
// ============================================================

func (s *Store) ListEntries(_ context.Context, accountID string, f domain.EntryFilter) ([]domain.LedgerEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byAccount[accountID]
	matched := make([]domain.LedgerEntry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		e := s.entries[ids[i]]
		if matches(e, f) {
			matched = append(matched, *e)
		}
	}
	// Appends happen in commit order; stable sort keeps it for equal timestamps.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []domain.LedgerEntry{}, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func matches(e *domain.LedgerEntry, f domain.EntryFilter) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.CreatedAt.Before(f.Until) {
		return false
	}
	if f.CounterpartyIBAN != "" && e.CounterpartyIBAN != f.CounterpartyIBAN {
		return false
	}
	if f.WithCommission && !e.Commission.IsPositive() {
		return false
	}
	if f.ExternalATM && !e.ExternalATM {
		return false
	}
	return true
}

func (s *Store) FindEntryByReference(_ context.Context, reference string) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byReference[reference]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: domain.ResourceEntry, ID: reference}
	}
	e := *s.entries[id]
	return &e, nil
}

func (s *Store) AccountTotals(_ context.Context, accountID string) (*domain.AccountTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: domain.ResourceAccount, ID: accountID}
	}
	sum := domain.Zero
	ids := s.byAccount[accountID]
	for _, id := range ids {
		sum = sum.Add(s.entries[id].NetAmount())
	}
	return &domain.AccountTotals{Account: *a.Clone(), Net: sum, Entries: len(ids)}, nil
}

func (s *Store) ListAccountIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ============================================================
// AdminStore
// ============================================================

func (s *Store) CreateCustomer(_ context.Context, c *domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[c.ID]; exists {
		return &domain.ErrValidation{Field: "customer_id", Message: "already exists"}
	}
	cp := *c
	s.customers[c.ID] = &cp
	return nil
}

func (s *Store) CreateAccount(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[a.CustomerID]; !ok {
		return &domain.ErrNotFound{Resource: domain.ResourceCustomer, ID: a.CustomerID}
	}
	if _, exists := s.accounts[a.ID]; exists {
		return &domain.ErrValidation{Field: "account_id", Message: "already exists"}
	}
	s.accounts[a.ID] = a.Clone()
	return nil
}

func (s *Store) CreateCard(_ context.Context, c *domain.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[c.AccountID]; !ok {
		return &domain.ErrNotFound{Resource: domain.ResourceAccount, ID: c.AccountID}
	}
	if _, exists := s.cards[c.ID]; exists {
		return &domain.ErrValidation{Field: "card_id", Message: "already exists"}
	}
	cp := *c
	s.cards[c.ID] = &cp
	return nil
}

func (s *Store) DeleteCustomer(_ context.Context, customerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[customerID]; !ok {
		return nil, &domain.ErrNotFound{Resource: domain.ResourceCustomer, ID: customerID}
	}
	var refs []string
	for accID, a := range s.accounts {
		if a.CustomerID != customerID {
			continue
		}
		for cardID, c := range s.cards {
			if c.AccountID == accID {
				delete(s.cards, cardID)
			}
		}
		for _, id := range s.byAccount[accID] {
			refs = append(refs, s.entries[id].Reference)
			delete(s.byReference, s.entries[id].Reference)
			delete(s.entries, id)
		}
		delete(s.byAccount, accID)
		delete(s.accounts, accID)
	}
	delete(s.customers, customerID)
	return refs, nil
}

func (s *Store) Name() string { return "memory" }

// Ping implements port.HealthChecker.
func (s *Store) Ping(context.Context) error { return nil }
