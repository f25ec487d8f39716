package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/boddenberg/retail-ledger/internal/infra/observability"
	"github.com/boddenberg/retail-ledger/internal/port"
)

var statementTracer = otel.Tracer("service/statement")

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// MaxPage keeps (page-1)*pageSize inside a Postgres int4 OFFSET.
	MaxPage = math.MaxInt32 / maxPageSize
)

// StatementService is the read-only query layer over the ledger.
type StatementService struct {
	reader  port.StatementReader
	usage   port.LedgerStore
	cache   port.Cache[*domain.LedgerEntry]
	clock   port.Clock
	loc     *time.Location
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewStatementService creates the statement service. Entries are immutable,
// so lookups by reference are cached for the cache's TTL. The cache holds its
// own copies; callers may modify what they get back.
func NewStatementService(
	reader port.StatementReader,
	usage port.LedgerStore,
	cache port.Cache[*domain.LedgerEntry],
	clock port.Clock,
	loc *time.Location,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *StatementService {
	if loc == nil {
		loc = time.UTC
	}
	return &StatementService{
		reader:  reader,
		usage:   usage,
		cache:   cache,
		clock:   clock,
		loc:     loc,
		metrics: metrics,
		logger:  logger,
	}
}

// Balance returns the current balance together with the size of the history.
func (s *StatementService) Balance(ctx context.Context, accountID string) (*domain.BalanceView, error) {
	ctx, span := statementTracer.Start(ctx, "StatementService.Balance")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	var (
		account *domain.Account
		count   int
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := s.reader.LoadAccount(gCtx, accountID)
		if err != nil {
			return err
		}
		account = a
		return nil
	})
	g.Go(func() error {
		_, n, err := s.reader.ListEntries(gCtx, accountID, domain.EntryFilter{Limit: 1})
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &domain.BalanceView{
		AccountID:     account.ID,
		AccountNumber: account.Number,
		IBAN:          account.IBAN,
		Currency:      account.Currency,
		Balance:       account.Balance,
		Available:     account.Balance.Sub(account.Floor).Max(domain.Zero),
		EntryCount:    count,
		AsOf:          s.clock.Now().In(s.loc),
	}, nil
}

// Entries returns one page of history, newest first. page starts at 1.
func (s *StatementService) Entries(ctx context.Context, accountID string, filter domain.EntryFilter, page, pageSize int) (*domain.ListResponse[domain.LedgerEntry], error) {
	ctx, span := statementTracer.Start(ctx, "StatementService.Entries")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID), attribute.Int("page", page))

	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		return nil, &domain.ErrValidation{Field: "page", Message: fmt.Sprintf("must be at most %d", MaxPage)}
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && !filter.Until.After(filter.Since) {
		return nil, &domain.ErrValidation{Field: "until", Message: "must be after since"}
	}
	if filter.CounterpartyIBAN != "" {
		filter.CounterpartyIBAN = NormalizeIBAN(filter.CounterpartyIBAN)
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	if _, err := s.reader.LoadAccount(ctx, accountID); err != nil {
		return nil, err
	}
	entries, total, err := s.reader.ListEntries(ctx, accountID, filter)
	if err != nil {
		return nil, err
	}
	return &domain.ListResponse[domain.LedgerEntry]{
		Data:     entries,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  filter.Offset+len(entries) < total,
	}, nil
}

// LatestEntries returns the n most recent entries.
func (s *StatementService) LatestEntries(ctx context.Context, accountID string, n int) ([]domain.LedgerEntry, error) {
	ctx, span := statementTracer.Start(ctx, "StatementService.LatestEntries")
	defer span.End()

	if n <= 0 {
		n = 10
	}
	if n > maxPageSize {
		n = maxPageSize
	}
	if _, err := s.reader.LoadAccount(ctx, accountID); err != nil {
		return nil, err
	}
	entries, _, err := s.reader.ListEntries(ctx, accountID, domain.EntryFilter{Limit: n})
	return entries, err
}

// CountSince counts entries created at or after since.
func (s *StatementService) CountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	ctx, span := statementTracer.Start(ctx, "StatementService.CountSince")
	defer span.End()

	if _, err := s.reader.LoadAccount(ctx, accountID); err != nil {
		return 0, err
	}
	_, total, err := s.reader.ListEntries(ctx, accountID, domain.EntryFilter{Since: since, Limit: 1})
	return total, err
}

// EntryByReference looks an entry up by its reference.
func (s *StatementService) EntryByReference(ctx context.Context, reference string) (*domain.LedgerEntry, error) {
	ctx, span := statementTracer.Start(ctx, "StatementService.EntryByReference")
	defer span.End()
	span.SetAttributes(attribute.String("entry.reference", reference))

	if _, _, err := domain.ParseReference(reference); err != nil {
		return nil, err
	}
	if e, ok := s.cache.Get(reference); ok {
		s.metrics.IncrCacheHit("entries")
		out := *e
		return &out, nil
	}
	s.metrics.IncrCacheMiss("entries")

	e, err := s.reader.FindEntryByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	cached := *e
	s.cache.Set(reference, &cached)
	return e, nil
}

// TodayUsage reports how much principal was withdrawn today and, when a
// card is given, how much of its daily limit remains.
func (s *StatementService) TodayUsage(ctx context.Context, accountID, cardID string) (*domain.DailyUsage, error) {
	ctx, span := statementTracer.Start(ctx, "StatementService.TodayUsage")
	defer span.End()

	day := domain.DayOf(s.clock.Now(), s.loc)

	var (
		used domain.Money
		card *domain.Card
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := s.reader.LoadAccount(gCtx, accountID); err != nil {
			return err
		}
		m, err := s.usage.SumWithdrawals(gCtx, accountID, day)
		if err != nil {
			return err
		}
		used = m
		return nil
	})
	if cardID != "" {
		g.Go(func() error {
			c, err := s.usage.LoadCard(gCtx, cardID)
			if err != nil {
				return err
			}
			card = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &domain.DailyUsage{
		AccountID: accountID,
		CardID:    cardID,
		Day:       day.Start.Format(time.DateOnly),
		Withdrawn: used,
	}
	if card != nil {
		if card.AccountID != accountID {
			return nil, &domain.ErrCardAccountMismatch{CardID: card.ID, AccountID: accountID}
		}
		if card.DailyWithdrawalLimit != nil {
			limit := *card.DailyWithdrawalLimit
			remaining := limit.Sub(used).Max(domain.Zero)
			out.Limit = &limit
			out.Remaining = &remaining
		}
	}
	return out, nil
}
