package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/boddenberg/retail-ledger/internal/domain"
)

// ============================================================
// AdminStore
// ============================================================

func (s *Store) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	ctx, span := tracer.Start(ctx, "pgstore.CreateCustomer")
	defer span.End()

	_, err := call(s, "create_customer", func() (struct{}, error) {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO customers(id, customer_number, name, email, phone, active, created_at)
			VALUES($1,$2,$3,$4,$5,$6,$7)`,
			c.ID, c.Number, c.Name, c.Email, c.Phone, c.Active, c.CreatedAt,
		)
		if code, _ := pgCode(err); code == pgUniqueViolation {
			return struct{}{}, &domain.ErrValidation{Field: "customer_id", Message: "already exists"}
		}
		return struct{}{}, err
	})
	return err
}

// CreateAccount inserts the account and an ACCOUNT_OPENED event.
func (s *Store) CreateAccount(ctx context.Context, a *domain.Account) error {
	ctx, span := tracer.Start(ctx, "pgstore.CreateAccount")
	defer span.End()

	_, err := call(s, "create_account", func() (struct{}, error) {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
		if err != nil {
			return struct{}{}, err
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO accounts(id, customer_id, account_number, iban, currency, balance,
				opening_balance, floor, active, version, created_at)
			VALUES($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8::numeric,$9,$10,$11)`,
			a.ID, a.CustomerID, a.Number, a.IBAN, a.Currency, a.Balance.String(),
			a.Opening.String(), a.Floor.String(), a.Active, a.Version, a.CreatedAt,
		)
		switch code, _ := pgCode(err); code {
		case "":
		case pgForeignKeyViolation:
			return struct{}{}, &domain.ErrNotFound{Resource: domain.ResourceCustomer, ID: a.CustomerID}
		case pgUniqueViolation:
			return struct{}{}, &domain.ErrValidation{Field: "account_id", Message: "already exists"}
		}
		if err != nil {
			return struct{}{}, err
		}

		payload := accountOpenedPayload{
			AccountID:  a.ID,
			CustomerID: a.CustomerID,
			IBAN:       a.IBAN,
			Currency:   a.Currency,
			Opening:    a.Opening.String(),
		}
		if err := insertEvent(ctx, tx, eventAccountOpened, a.ID, payload); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, tx.Commit(ctx)
	})
	return err
}

func (s *Store) CreateCard(ctx context.Context, c *domain.Card) error {
	ctx, span := tracer.Start(ctx, "pgstore.CreateCard")
	defer span.End()

	_, err := call(s, "create_card", func() (struct{}, error) {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO cards(id, account_id, masked_number, secret_hash, card_type,
				daily_limit, credit_limit, active, pin_changed)
			VALUES($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8,$9)`,
			c.ID, c.AccountID, c.MaskedNumber, c.SecretHash, string(c.Type),
			nullableMoney(c.DailyWithdrawalLimit), nullableMoney(c.CreditLimit), c.Active, c.PinChanged,
		)
		switch code, _ := pgCode(err); code {
		case pgForeignKeyViolation:
			return struct{}{}, &domain.ErrNotFound{Resource: domain.ResourceAccount, ID: c.AccountID}
		case pgUniqueViolation:
			return struct{}{}, &domain.ErrValidation{Field: "card_id", Message: "already exists"}
		}
		return struct{}{}, err
	})
	return err
}

// DeleteCustomer relies on ON DELETE CASCADE for accounts, cards and entries.
// It returns the references of the entries that went with them.
func (s *Store) DeleteCustomer(ctx context.Context, customerID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "pgstore.DeleteCustomer")
	defer span.End()

	return call(s, "delete_customer", func() ([]string, error) {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadWrite})
		if err != nil {
			return nil, err
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx,
			`SELECT e.reference FROM ledger_entries e
			JOIN accounts a ON a.id = e.account_id
			WHERE a.customer_id = $1`, customerID)
		if err != nil {
			return nil, err
		}
		refs, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil, err
		}

		tag, err := tx.Exec(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			return nil, &domain.ErrNotFound{Resource: domain.ResourceCustomer, ID: customerID}
		}
		return refs, tx.Commit(ctx)
	})
}
