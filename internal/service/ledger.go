package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/boddenberg/retail-ledger/internal/infra/observability"
	"github.com/boddenberg/retail-ledger/internal/infra/resilience"
	"github.com/boddenberg/retail-ledger/internal/port"
)

var ledgerTracer = otel.Tracer("service/ledger")

// ============================================================
// Requests
// ============================================================

// WithdrawalRequest takes cash out of an account with one of its cards.
type WithdrawalRequest struct {
	AccountID   string       `json:"-"`
	CardID      string       `json:"card_id"`
	Amount      domain.Money `json:"amount"`
	ExternalATM bool         `json:"external_atm"`
	ATMID       string       `json:"atm_id,omitempty"`
	ATMLocation string       `json:"atm_location,omitempty"`
}

// DepositRequest pays cash into an account. CardID is optional.
type DepositRequest struct {
	AccountID string       `json:"-"`
	CardID    string       `json:"card_id,omitempty"`
	Amount    domain.Money `json:"amount"`
}

// TransferOutRequest sends money to another IBAN.
type TransferOutRequest struct {
	AccountID       string       `json:"-"`
	Amount          domain.Money `json:"amount"`
	DestinationIBAN string       `json:"destination_iban"`
	DestinationName string       `json:"destination_name"`
}

// TransferInRequest records money received from another IBAN.
type TransferInRequest struct {
	AccountID  string       `json:"-"`
	Amount     domain.Money `json:"amount"`
	OriginIBAN string       `json:"origin_iban"`
	OriginName string       `json:"origin_name"`
}

// ============================================================
// Coordinator
// ============================================================

// LedgerService is the transaction coordinator. Every operation runs
// Validate, Authorize, Compute, Apply and Record under the account lock,
// and ends either with one committed entry or with an error and no change.
type LedgerService struct {
	store   port.LedgerStore
	locker  port.AccountLocker
	refs    port.ReferenceGenerator
	clock   port.Clock
	loc     *time.Location
	limits  LimitPolicy
	fees    CommissionSchedule
	retry   resilience.Config
	newID   func() string
	metrics *observability.Metrics
	logger  *zap.Logger
}

// LedgerOption configures a LedgerService.
type LedgerOption func(*LedgerService)

// WithLocation sets the timezone that defines "today" for daily limits.
func WithLocation(loc *time.Location) LedgerOption {
	return func(s *LedgerService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithCommissionSchedule replaces the default fees.
func WithCommissionSchedule(c CommissionSchedule) LedgerOption {
	return func(s *LedgerService) { s.fees = c }
}

// WithRetry bounds restarts after version conflicts and reference collisions.
func WithRetry(cfg resilience.Config) LedgerOption {
	return func(s *LedgerService) { s.retry = cfg }
}

// WithIDGenerator replaces uuid-based entry ids.
func WithIDGenerator(fn func() string) LedgerOption {
	return func(s *LedgerService) { s.newID = fn }
}

// NewLedgerService creates the coordinator.
func NewLedgerService(
	store port.LedgerStore,
	locker port.AccountLocker,
	refs port.ReferenceGenerator,
	clock port.Clock,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...LedgerOption,
) *LedgerService {
	s := &LedgerService{
		store:   store,
		locker:  locker,
		refs:    refs,
		clock:   clock,
		loc:     time.UTC,
		fees:    DefaultCommissionSchedule(),
		retry:   resilience.Config{MaxRetries: 3, InitialBackoff: 10 * time.Millisecond},
		newID:   uuid.NewString,
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Withdraw takes cash out with a card. DEBIT cards are checked for funds
// first, then against the daily limit; CREDIT cards may dip below zero up
// to their credit limit.
func (s *LedgerService) Withdraw(ctx context.Context, req WithdrawalRequest) (*domain.LedgerEntry, error) {
	return s.run(ctx, domain.EntryWithdrawal, req.AccountID, req.Amount, func(ctx context.Context) (*domain.LedgerEntry, error) {
		// ── Validate ──
		if err := requirePositive(req.Amount); err != nil {
			return nil, err
		}
		if req.CardID == "" {
			return nil, &domain.ErrValidation{Field: "card_id", Message: "required"}
		}
		account, err := s.loadActiveAccount(ctx, req.AccountID)
		if err != nil {
			return nil, err
		}
		card, err := s.loadAccountCard(ctx, req.CardID, req.AccountID)
		if err != nil {
			return nil, err
		}

		// ── Compute commission (needed by the funds and credit checks) ──
		commission := s.fees.ForWithdrawal(req.ExternalATM)
		total := req.Amount.Add(commission)

		// ── Authorize ──
		if card.Type == domain.CardDebit && !account.CanWithdraw(total) {
			return nil, &domain.ErrInsufficientFunds{
				AccountID: account.ID,
				Available: account.Balance.Sub(account.Floor),
				Required:  total,
			}
		}
		now := s.clock.Now()
		used, err := s.store.SumWithdrawals(ctx, account.ID, domain.DayOf(now, s.loc))
		if err != nil {
			return nil, err
		}
		if err := s.limits.Check(card, LimitInput{
			AccountID:  account.ID,
			Amount:     req.Amount,
			Commission: commission,
			TodayTotal: used,
			Balance:    account.Balance,
		}); err != nil {
			return nil, err
		}

		// ── Apply ──
		working := account.Clone()
		balance, err := working.Withdraw(total, s.limits.WithdrawOptions(card)...)
		if err != nil {
			return nil, err
		}

		// ── Record ──
		draft, err := s.draft(ctx, account.ID, balance, now)
		if err != nil {
			return nil, err
		}
		entry := domain.NewWithdrawalEntry(draft, card.ID, req.Amount, commission, req.ExternalATM, req.ATMID, req.ATMLocation)
		return s.record(ctx, entry, working, account.Version)
	})
}

// Deposit pays cash into the account.
func (s *LedgerService) Deposit(ctx context.Context, req DepositRequest) (*domain.LedgerEntry, error) {
	return s.run(ctx, domain.EntryDeposit, req.AccountID, req.Amount, func(ctx context.Context) (*domain.LedgerEntry, error) {
		if err := requirePositive(req.Amount); err != nil {
			return nil, err
		}
		account, err := s.loadActiveAccount(ctx, req.AccountID)
		if err != nil {
			return nil, err
		}
		if req.CardID != "" {
			if _, err := s.loadAccountCard(ctx, req.CardID, req.AccountID); err != nil {
				return nil, err
			}
		}

		working := account.Clone()
		balance, err := working.Deposit(req.Amount)
		if err != nil {
			return nil, err
		}

		draft, err := s.draft(ctx, account.ID, balance, s.clock.Now())
		if err != nil {
			return nil, err
		}
		entry := domain.NewDepositEntry(draft, req.CardID, req.Amount)
		return s.record(ctx, entry, working, account.Version)
	})
}

// TransferOut sends money to another IBAN. Transfers to another bank may
// carry a commission, which must also be covered by the balance.
func (s *LedgerService) TransferOut(ctx context.Context, req TransferOutRequest) (*domain.LedgerEntry, error) {
	return s.run(ctx, domain.EntryTransferOut, req.AccountID, req.Amount, func(ctx context.Context) (*domain.LedgerEntry, error) {
		if err := requirePositive(req.Amount); err != nil {
			return nil, err
		}
		if err := validateCounterparty("destination", req.DestinationIBAN, req.DestinationName); err != nil {
			return nil, err
		}
		account, err := s.loadActiveAccount(ctx, req.AccountID)
		if err != nil {
			return nil, err
		}

		iban := NormalizeIBAN(req.DestinationIBAN)
		commission := s.fees.ForTransferOut(req.Amount, iban)

		working := account.Clone()
		balance, err := working.Withdraw(req.Amount.Add(commission))
		if err != nil {
			return nil, err
		}

		draft, err := s.draft(ctx, account.ID, balance, s.clock.Now())
		if err != nil {
			return nil, err
		}
		entry := domain.NewTransferOutEntry(draft, req.Amount, commission, iban, req.DestinationName)
		return s.record(ctx, entry, working, account.Version)
	})
}

// TransferIn records money received from another IBAN.
func (s *LedgerService) TransferIn(ctx context.Context, req TransferInRequest) (*domain.LedgerEntry, error) {
	return s.run(ctx, domain.EntryTransferIn, req.AccountID, req.Amount, func(ctx context.Context) (*domain.LedgerEntry, error) {
		if err := requirePositive(req.Amount); err != nil {
			return nil, err
		}
		if err := validateCounterparty("origin", req.OriginIBAN, req.OriginName); err != nil {
			return nil, err
		}
		account, err := s.loadActiveAccount(ctx, req.AccountID)
		if err != nil {
			return nil, err
		}

		working := account.Clone()
		balance, err := working.Deposit(req.Amount)
		if err != nil {
			return nil, err
		}

		draft, err := s.draft(ctx, account.ID, balance, s.clock.Now())
		if err != nil {
			return nil, err
		}
		entry := domain.NewTransferInEntry(draft, req.Amount, NormalizeIBAN(req.OriginIBAN), req.OriginName)
		return s.record(ctx, entry, working, account.Version)
	})
}

// Location returns the timezone used for daily limits.
func (s *LedgerService) Location() *time.Location { return s.loc }

// ============================================================
// Helpers
// ============================================================

// run wraps one attempt function with the account lock, retries, tracing,
// metrics and logging. The attempt restarts from scratch on retryable errors.
func (s *LedgerService) run(
	ctx context.Context,
	entryType domain.EntryType,
	accountID string,
	amount domain.Money,
	attempt func(ctx context.Context) (*domain.LedgerEntry, error),
) (*domain.LedgerEntry, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService."+string(entryType))
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", accountID),
		attribute.String("entry.type", string(entryType)),
		attribute.String("amount", amount.String()),
	)

	start := time.Now()

	retry := s.retry
	retry.ShouldRetry = domain.IsRetryable
	retry.OnRetry = func(n int, err error) {
		s.metrics.IncrRetry(entryType)
		s.logger.Debug("retrying ledger operation",
			zap.String("account_id", accountID),
			zap.String("type", string(entryType)),
			zap.Int("attempt", n),
			zap.Error(err),
		)
	}

	var entry *domain.LedgerEntry
	err := s.locker.WithLock(ctx, accountID, func(ctx context.Context) error {
		return resilience.RetryWithBackoff(ctx, retry, func() error {
			var err error
			entry, err = attempt(ctx)
			return err
		})
	})

	if err != nil {
		s.metrics.RecordOperation(entryType, observability.OutcomeRejected, time.Since(start))
		s.metrics.IncrRejection(rejectionReason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, rejectionReason(err))

		fields := []zap.Field{
			zap.String("account_id", accountID),
			zap.String("type", string(entryType)),
			zap.Stringer("amount", amount),
			zap.Error(err),
		}
		if domain.IsBusinessError(err) {
			s.logger.Info("ledger operation rejected", fields...)
		} else {
			s.logger.Error("ledger operation failed", fields...)
		}
		return nil, err
	}

	s.metrics.RecordOperation(entryType, observability.OutcomeCommitted, time.Since(start))
	s.metrics.AddCommission(entryType, entry.Commission)
	span.SetAttributes(attribute.String("entry.reference", entry.Reference))

	s.logger.Info("ledger entry committed",
		zap.String("account_id", accountID),
		zap.String("type", string(entryType)),
		zap.String("reference", entry.Reference),
		zap.Stringer("amount", entry.Amount),
		zap.Stringer("commission", entry.Commission),
		zap.Stringer("balance_after", entry.BalanceAfter),
	)
	return entry, nil
}

func (s *LedgerService) loadActiveAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	if accountID == "" {
		return nil, &domain.ErrValidation{Field: "account_id", Message: "required"}
	}
	account, err := s.store.LoadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, &domain.ErrAccountInactive{AccountID: account.ID}
	}
	return account, nil
}

// loadAccountCard returns the card when it exists, is active and belongs to accountID.
func (s *LedgerService) loadAccountCard(ctx context.Context, cardID, accountID string) (*domain.Card, error) {
	card, err := s.store.LoadCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if !card.Active {
		return nil, &domain.ErrCardInactive{CardID: card.ID}
	}
	if card.AccountID != accountID {
		return nil, &domain.ErrCardAccountMismatch{CardID: card.ID, AccountID: accountID}
	}
	return card, nil
}

func (s *LedgerService) draft(ctx context.Context, accountID string, balance domain.Money, now time.Time) (domain.EntryDraft, error) {
	ref, err := s.refs.Next(ctx, now.In(s.loc))
	if err != nil {
		return domain.EntryDraft{}, err
	}
	return domain.EntryDraft{
		ID:           s.newID(),
		AccountID:    accountID,
		Reference:    ref,
		BalanceAfter: balance,
		CreatedAt:    now,
	}, nil
}

func (s *LedgerService) record(ctx context.Context, entry *domain.LedgerEntry, account *domain.Account, expectedVersion int64) (*domain.LedgerEntry, error) {
	if err := s.store.AppendEntryAndUpdateAccount(ctx, entry, account, expectedVersion); err != nil {
		return nil, err
	}
	return entry, nil
}

func requirePositive(amount domain.Money) error {
	if !amount.IsPositive() {
		return &domain.ErrInvalidAmount{Amount: amount.String(), Reason: "must be positive"}
	}
	return nil
}

func validateCounterparty(side, iban, name string) error {
	n := NormalizeIBAN(iban)
	if n == "" {
		return &domain.ErrValidation{Field: side + "_iban", Message: "required"}
	}
	if len(n) < 15 || len(n) > 34 {
		return &domain.ErrValidation{Field: side + "_iban", Message: "must be between 15 and 34 characters"}
	}
	if name == "" {
		return &domain.ErrValidation{Field: side + "_name", Message: "required"}
	}
	return nil
}

// rejectionReason maps an error to a low-cardinality metric label.
func rejectionReason(err error) string {
	var (
		notFound   *domain.ErrNotFound
		amount     *domain.ErrInvalidAmount
		funds      *domain.ErrInsufficientFunds
		inactive   *domain.ErrCardInactive
		config     *domain.ErrInvalidCardConfiguration
		daily      *domain.ErrDailyLimitExceeded
		credit     *domain.ErrCreditLimitExceeded
		mismatch   *domain.ErrCardAccountMismatch
		closed     *domain.ErrAccountInactive
		conflict   *domain.ErrVersionConflict
		collision  *domain.ErrReferenceCollision
		validation *domain.ErrValidation
		open       *domain.ErrCircuitOpen
	)
	switch {
	case errors.As(err, &notFound):
		return notFound.Resource + "_not_found"
	case errors.As(err, &amount):
		return "invalid_amount"
	case errors.As(err, &funds):
		return "insufficient_funds"
	case errors.As(err, &inactive):
		return "card_inactive"
	case errors.As(err, &config):
		return "invalid_card_configuration"
	case errors.As(err, &daily):
		return "daily_limit_exceeded"
	case errors.As(err, &credit):
		return "credit_limit_exceeded"
	case errors.As(err, &mismatch):
		return "card_account_mismatch"
	case errors.As(err, &closed):
		return "account_inactive"
	case errors.As(err, &conflict):
		return "version_conflict"
	case errors.As(err, &collision):
		return "reference_collision"
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &open):
		return "circuit_open"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal"
}
