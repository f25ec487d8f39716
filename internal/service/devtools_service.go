package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/boddenberg/retail-ledger/internal/port"
)

var devTracer = otel.Tracer("service/devtools")

const (
	bcryptCost    = 12
	cardBIN       = "491761"
	cardNumberLen = 16
	// defaultDevDailyLimit applies to seeded DEBIT cards without an explicit limit.
	defaultDevDailyLimit = 60000
)

// ============================================================
// Dev Tools
// ============================================================

// DevToolsService seeds and removes test customers. Only mounted when
// DEV_TOOLS is enabled.
type DevToolsService struct {
	admin   port.AdminStore
	ledger  *LedgerService
	clock   port.Clock
	entries port.Cache[*domain.LedgerEntry]
	logger  *zap.Logger
}

// DevToolsOption configures a DevToolsService.
type DevToolsOption func(*DevToolsService)

// WithEntryCache evicts the entries of deleted customers from c, the cache
// StatementService serves lookups by reference from.
func WithEntryCache(c port.Cache[*domain.LedgerEntry]) DevToolsOption {
	return func(s *DevToolsService) { s.entries = c }
}

// NewDevToolsService creates the dev tools service.
func NewDevToolsService(admin port.AdminStore, ledger *LedgerService, clock port.Clock, logger *zap.Logger, opts ...DevToolsOption) *DevToolsService {
	s := &DevToolsService{admin: admin, ledger: ledger, clock: clock, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed creates a customer with one account and one card. A positive opening
// balance is recorded as a DEPOSIT so the ledger stays reconcilable.
func (s *DevToolsService) Seed(ctx context.Context, req *domain.DevSeedRequest) (*domain.DevSeedResponse, error) {
	ctx, span := devTracer.Start(ctx, "DevToolsService.Seed")
	defer span.End()

	if strings.TrimSpace(req.CustomerName) == "" {
		return nil, &domain.ErrValidation{Field: "customerName", Message: "required"}
	}
	cardType := domain.CardDebit
	if req.CardType != "" {
		t, err := domain.ParseCardType(req.CardType)
		if err != nil {
			return nil, err
		}
		cardType = t
	}
	if len(req.PIN) != 4 || strings.Trim(req.PIN, "0123456789") != "" {
		return nil, &domain.ErrValidation{Field: "pin", Message: "must be 4 digits"}
	}
	if req.OpeningBalance != nil && req.OpeningBalance.IsNegative() {
		return nil, &domain.ErrValidation{Field: "openingBalance", Message: "must not be negative"}
	}

	now := s.clock.Now()
	customer := &domain.Customer{
		ID:        uuid.NewString(),
		Number:    randomDigits(10),
		Name:      strings.TrimSpace(req.CustomerName),
		Email:     req.Email,
		Active:    true,
		CreatedAt: now,
	}
	accountNumber := randomDigits(10)
	account := &domain.Account{
		ID:         uuid.NewString(),
		CustomerID: customer.ID,
		Number:     accountNumber,
		IBAN:       devIBAN(s.ledger.fees.BankCode, accountNumber),
		Currency:   "EUR",
		Active:     true,
		CreatedAt:  now,
	}

	number := cardBIN + randomDigits(cardNumberLen-len(cardBIN))
	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}
	card := &domain.Card{
		ID:           uuid.NewString(),
		AccountID:    account.ID,
		MaskedNumber: domain.MaskCardNumber(number),
		SecretHash:   string(hash),
		Type:         cardType,
		Active:       true,
	}
	switch cardType {
	case domain.CardDebit:
		limit := domain.MoneyFromCents(defaultDevDailyLimit)
		if req.DailyLimit != nil {
			limit = *req.DailyLimit
		}
		card.DailyWithdrawalLimit = &limit
	case domain.CardCredit:
		card.CreditLimit = req.CreditLimit
		card.DailyWithdrawalLimit = req.DailyLimit
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}

	if err := s.admin.CreateCustomer(ctx, customer); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	if err := s.admin.CreateAccount(ctx, account); err != nil {
		s.discard(ctx, customer.ID)
		return nil, fmt.Errorf("create account: %w", err)
	}
	if err := s.admin.CreateCard(ctx, card); err != nil {
		s.discard(ctx, customer.ID)
		return nil, fmt.Errorf("create card: %w", err)
	}

	resp := &domain.DevSeedResponse{
		Customer: customer,
		Account:  account,
		Card:     card,
		Message:  fmt.Sprintf("customer %s seeded with a %s card", customer.Name, cardType),
	}

	if req.OpeningBalance != nil && req.OpeningBalance.IsPositive() {
		entry, err := s.ledger.Deposit(ctx, DepositRequest{AccountID: account.ID, Amount: *req.OpeningBalance})
		if err != nil {
			s.discard(ctx, customer.ID)
			return nil, fmt.Errorf("opening deposit: %w", err)
		}
		resp.Opening = entry
		account.Balance = entry.BalanceAfter
		account.Version++
	}

	s.logger.Info("DEV: customer seeded",
		zap.String("customer_id", customer.ID),
		zap.String("account_id", account.ID),
		zap.String("card_id", card.ID),
		zap.String("card_type", string(cardType)),
	)
	return resp, nil
}

// DeleteCustomer removes a customer with its accounts, cards and entries.
func (s *DevToolsService) DeleteCustomer(ctx context.Context, customerID string) (*domain.DevDeleteCustomerResponse, error) {
	ctx, span := devTracer.Start(ctx, "DevToolsService.DeleteCustomer")
	defer span.End()

	if customerID == "" {
		return nil, &domain.ErrValidation{Field: "customerId", Message: "required"}
	}
	refs, err := s.admin.DeleteCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	s.evict(refs)

	s.logger.Info("DEV: customer deleted",
		zap.String("customer_id", customerID),
		zap.Int("entries", len(refs)),
	)
	return &domain.DevDeleteCustomerResponse{
		Success: true,
		Message: fmt.Sprintf("customer %s deleted", customerID),
	}, nil
}

// discard removes a partially seeded customer. The cleanup runs on a fresh
// context so a cancelled request still rolls back.
func (s *DevToolsService) discard(ctx context.Context, customerID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	refs, err := s.admin.DeleteCustomer(ctx, customerID)
	if err != nil {
		s.logger.Error("DEV: failed to discard partial seed",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return
	}
	s.evict(refs)
	s.logger.Warn("DEV: partial seed discarded", zap.String("customer_id", customerID))
}

func (s *DevToolsService) evict(refs []string) {
	if s.entries == nil {
		return
	}
	for _, ref := range refs {
		s.entries.Delete(ref)
	}
}

// randomDigits returns n uniformly random decimal digits.
func randomDigits(n int) string {
	var b strings.Builder
	b.Grow(n)
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			panic(fmt.Sprintf("crypto/rand: %v", err))
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String()
}

// devIBAN builds a Spanish-format IBAN for seeded accounts. The check digits
// are not computed; nothing in the ledger validates them.
func devIBAN(bankCode, accountNumber string) string {
	if len(bankCode) != 4 {
		bankCode = "0000"
	}
	return "ES00" + bankCode + "0000" + "00" + accountNumber
}
