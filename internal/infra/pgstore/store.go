// Package pgstore is the PostgreSQL implementation of the ledger ports.
// Every call goes through a circuit breaker; an entry, its account update and
// its event log row are committed in one transaction.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/boddenberg/retail-ledger/internal/infra/observability"
	"github.com/boddenberg/retail-ledger/internal/infra/resilience"
)

var tracer = otel.Tracer("infra/pgstore")

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	referenceConstraint   = "ledger_entries_reference_key"
)

// Store implements port.LedgerStore, port.StatementReader and port.AdminStore.
type Store struct {
	pool    *pgxpool.Pool
	cb      *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	logger  *zap.Logger
}

// Open connects a pool to dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string, maxConns int32, metrics *observability.Metrics, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool, metrics, logger), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, metrics *observability.Metrics, logger *zap.Logger) *Store {
	return &Store{
		pool:    pool,
		cb:      resilience.NewCircuitBreaker("postgres"),
		metrics: metrics,
		logger:  logger,
	}
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) Name() string { return "postgres" }

// Ping implements port.HealthChecker.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// call runs fn through the breaker. Domain errors pass through unchanged;
// anything else is counted and wrapped in *domain.ErrPersistence.
func call[T any](s *Store, op string, fn func() (T, error)) (T, error) {
	v, err := resilience.Execute(s.cb, fn)
	if err == nil {
		return v, nil
	}
	var zero T
	var open *domain.ErrCircuitOpen
	if domain.IsBusinessError(err) || errors.As(err, &open) {
		return zero, err
	}
	s.metrics.IncrStoreError("postgres")
	s.logger.Error("postgres call failed", zap.String("op", op), zap.Error(err))
	return zero, &domain.ErrPersistence{Op: op, Err: err}
}

func pgCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// ============================================================
// LedgerStore
// ============================================================

const accountColumns = `id, customer_id, account_number, iban, currency,
	balance::text, opening_balance::text, floor::text, active, version, created_at`

// scanAccount reads accountColumns, then any extra trailing columns into extra.
func scanAccount(row pgx.Row, extra ...any) (*domain.Account, error) {
	var (
		a                       domain.Account
		balance, opening, floor string
	)
	dest := append([]any{&a.ID, &a.CustomerID, &a.Number, &a.IBAN, &a.Currency,
		&balance, &opening, &floor, &a.Active, &a.Version, &a.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	var err error
	if a.Balance, err = domain.ParseMoney(balance); err != nil {
		return nil, err
	}
	if a.Opening, err = domain.ParseMoney(opening); err != nil {
		return nil, err
	}
	if a.Floor, err = domain.ParseMoney(floor); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) LoadAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "pgstore.LoadAccount")
	defer span.End()

	return call(s, "load_account", func() (*domain.Account, error) {
		a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: domain.ResourceAccount, ID: accountID}
		}
		return a, err
	})
}

func (s *Store) LoadCard(ctx context.Context, cardID string) (*domain.Card, error) {
	ctx, span := tracer.Start(ctx, "pgstore.LoadCard")
	defer span.End()

	return call(s, "load_card", func() (*domain.Card, error) {
		var (
			c                  domain.Card
			cardType           string
			daily, creditLimit *string
		)
		err := s.pool.QueryRow(ctx,
			`SELECT id, account_id, masked_number, secret_hash, card_type,
				daily_limit::text, credit_limit::text, active, pin_changed
			FROM cards WHERE id = $1`, cardID,
		).Scan(&c.ID, &c.AccountID, &c.MaskedNumber, &c.SecretHash, &cardType, &daily, &creditLimit, &c.Active, &c.PinChanged)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: domain.ResourceCard, ID: cardID}
		}
		if err != nil {
			return nil, err
		}
		c.Type = domain.CardType(cardType)
		if c.DailyWithdrawalLimit, err = optionalMoney(daily); err != nil {
			return nil, err
		}
		if c.CreditLimit, err = optionalMoney(creditLimit); err != nil {
			return nil, err
		}
		return &c, nil
	})
}

func optionalMoney(s *string) (*domain.Money, error) {
	if s == nil {
		return nil, nil
	}
	m, err := domain.ParseMoney(*s)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func nullableMoney(m *domain.Money) *string {
	if m == nil {
		return nil
	}
	v := m.String()
	return &v
}

func (s *Store) SumWithdrawals(ctx context.Context, accountID string, day domain.Day) (domain.Money, error) {
	ctx, span := tracer.Start(ctx, "pgstore.SumWithdrawals")
	defer span.End()

	return call(s, "sum_withdrawals", func() (domain.Money, error) {
		var total string
		err := s.pool.QueryRow(ctx,
			`SELECT COALESCE(SUM(ABS(amount)), 0)::numeric(18,2)::text
			FROM ledger_entries
			WHERE account_id = $1 AND entry_type = $2 AND status = $3
			  AND created_at >= $4 AND created_at < $5`,
			accountID, string(domain.EntryWithdrawal), string(domain.StatusCompleted), day.Start, day.End,
		).Scan(&total)
		if err != nil {
			return domain.Zero, err
		}
		return domain.ParseMoney(total)
	})
}

// AppendEntryAndUpdateAccount commits the entry, the new balance and an
// ENTRY_POSTED event in one ReadCommitted transaction.
func (s *Store) AppendEntryAndUpdateAccount(ctx context.Context, entry *domain.LedgerEntry, account *domain.Account, expectedVersion int64) error {
	ctx, span := tracer.Start(ctx, "pgstore.AppendEntryAndUpdateAccount")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", account.ID),
		attribute.String("entry.reference", entry.Reference),
	)

	_, err := call(s, "append_entry", func() (struct{}, error) {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
			IsoLevel:   pgx.ReadCommitted,
			AccessMode: pgx.ReadWrite,
		})
		if err != nil {
			return struct{}{}, err
		}
		defer tx.Rollback(ctx)

		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET balance = $2::numeric, version = version + 1
			WHERE id = $1 AND version = $3`,
			account.ID, account.Balance.String(), expectedVersion,
		)
		if err != nil {
			return struct{}{}, err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, account.ID).Scan(&exists); err != nil {
				return struct{}{}, err
			}
			if !exists {
				return struct{}{}, &domain.ErrNotFound{Resource: domain.ResourceAccount, ID: account.ID}
			}
			return struct{}{}, &domain.ErrVersionConflict{AccountID: account.ID, Expected: expectedVersion}
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries(
				id, account_id, card_id, entry_type, amount, commission, balance_after, description,
				created_at, counterparty_iban, counterparty_name, external_atm, reference, status,
				atm_id, atm_location
			) VALUES($1,$2,$3,$4,$5::numeric,$6::numeric,$7::numeric,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			entry.ID, entry.AccountID, entry.CardID, string(entry.Type), entry.Amount.String(),
			entry.Commission.String(), entry.BalanceAfter.String(), entry.Description, entry.CreatedAt,
			entry.CounterpartyIBAN, entry.CounterpartyName, entry.ExternalATM, entry.Reference,
			string(entry.Status), entry.ATMID, entry.ATMLocation,
		)
		if err != nil {
			if code, constraint := pgCode(err); code == pgUniqueViolation && constraint == referenceConstraint {
				return struct{}{}, &domain.ErrReferenceCollision{Reference: entry.Reference}
			}
			return struct{}{}, err
		}

		payload := entryPostedPayload{
			EntryID:      entry.ID,
			AccountID:    entry.AccountID,
			Reference:    entry.Reference,
			Type:         string(entry.Type),
			Amount:       entry.Amount.String(),
			Commission:   entry.Commission.String(),
			BalanceAfter: entry.BalanceAfter.String(),
			Version:      expectedVersion + 1,
		}
		if err := insertEvent(ctx, tx, eventEntryPosted, account.ID, payload); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, tx.Commit(ctx)
	})
	if err != nil {
		return err
	}
	account.Version = expectedVersion + 1
	return nil
}

// ============================================================
// StatementReader
// ============================================================

const entryColumns = `id, account_id, card_id, entry_type, amount::text, commission::text,
	balance_after::text, description, created_at, counterparty_iban, counterparty_name,
	external_atm, reference, status, atm_id, atm_location`

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var (
		e                                domain.LedgerEntry
		entryType, status                string
		amount, commission, balanceAfter string
	)
	if err := row.Scan(&e.ID, &e.AccountID, &e.CardID, &entryType, &amount, &commission,
		&balanceAfter, &e.Description, &e.CreatedAt, &e.CounterpartyIBAN, &e.CounterpartyName,
		&e.ExternalATM, &e.Reference, &status, &e.ATMID, &e.ATMLocation); err != nil {
		return nil, err
	}
	e.Type = domain.EntryType(entryType)
	e.Status = domain.EntryStatus(status)
	var err error
	if e.Amount, err = domain.ParseMoney(amount); err != nil {
		return nil, err
	}
	if e.Commission, err = domain.ParseMoney(commission); err != nil {
		return nil, err
	}
	if e.BalanceAfter, err = domain.ParseMoney(balanceAfter); err != nil {
		return nil, err
	}
	return &e, nil
}

// entryWhere renders the filter as a WHERE clause with positional args.
func entryWhere(accountID string, f domain.EntryFilter) (string, []any) {
	clauses := []string{"account_id = $1"}
	args := []any{accountID}
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Type != "" {
		add("entry_type = $%d", string(f.Type))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at < $%d", f.Until)
	}
	if f.CounterpartyIBAN != "" {
		add("counterparty_iban = $%d", f.CounterpartyIBAN)
	}
	if f.WithCommission {
		clauses = append(clauses, "commission > 0")
	}
	if f.ExternalATM {
		clauses = append(clauses, "external_atm")
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListEntries(ctx context.Context, accountID string, f domain.EntryFilter) ([]domain.LedgerEntry, int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListEntries")
	defer span.End()

	type page struct {
		entries []domain.LedgerEntry
		total   int
	}
	p, err := call(s, "list_entries", func() (page, error) {
		where, args := entryWhere(accountID, f)

		var total int
		if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM ledger_entries`+where, args...).Scan(&total); err != nil {
			return page{}, err
		}

		q := `SELECT ` + entryColumns + ` FROM ledger_entries` + where + ` ORDER BY created_at DESC, seq DESC`
		if f.Limit > 0 {
			args = append(args, f.Limit)
			q += fmt.Sprintf(" LIMIT $%d", len(args))
		}
		if f.Offset > 0 {
			args = append(args, f.Offset)
			q += fmt.Sprintf(" OFFSET $%d", len(args))
		}
		rows, err := s.pool.Query(ctx, q, args...)
		if err != nil {
			return page{}, err
		}
		defer rows.Close()

		out := page{entries: []domain.LedgerEntry{}, total: total}
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return page{}, err
			}
			out.entries = append(out.entries, *e)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return p.entries, p.total, nil
}

func (s *Store) FindEntryByReference(ctx context.Context, reference string) (*domain.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "pgstore.FindEntryByReference")
	defer span.End()

	return call(s, "find_entry", func() (*domain.LedgerEntry, error) {
		e, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE reference = $1`, reference))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: domain.ResourceEntry, ID: reference}
		}
		return e, err
	})
}

// AccountTotals reads the account row and its entry totals in a single
// statement, so both come from one snapshot even while other instances
// append entries.
func (s *Store) AccountTotals(ctx context.Context, accountID string) (*domain.AccountTotals, error) {
	ctx, span := tracer.Start(ctx, "pgstore.AccountTotals")
	defer span.End()

	return call(s, "account_totals", func() (*domain.AccountTotals, error) {
		var (
			net   string
			count int
		)
		a, err := scanAccount(s.pool.QueryRow(ctx,
			`SELECT `+accountColumns+`, t.net::text, t.n
			FROM accounts
			CROSS JOIN LATERAL (
				SELECT COALESCE(SUM(e.amount - e.commission), 0)::numeric(18,2) AS net, count(*) AS n
				FROM ledger_entries e WHERE e.account_id = accounts.id
			) t
			WHERE accounts.id = $1`, accountID,
		), &net, &count)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.ErrNotFound{Resource: domain.ResourceAccount, ID: accountID}
		}
		if err != nil {
			return nil, err
		}
		m, err := domain.ParseMoney(net)
		if err != nil {
			return nil, err
		}
		return &domain.AccountTotals{Account: *a, Net: m, Entries: count}, nil
	})
}

func (s *Store) ListAccountIDs(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListAccountIDs")
	defer span.End()

	return call(s, "list_accounts", func() ([]string, error) {
		rows, err := s.pool.Query(ctx, `SELECT id FROM accounts ORDER BY id`)
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, pgx.RowTo[string])
	})
}
