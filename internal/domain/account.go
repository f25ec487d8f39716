package domain

import "time"

// ============================================================
// Accounts
// ============================================================

// Account is the balance-holding aggregate. Cards and entries reference it by
// ID; the account itself holds no object graph. Opening is the balance the
// account was created with, so Balance always equals Opening plus the net
// amounts of its entries.
type Account struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Number     string    `json:"account_number"`
	IBAN       string    `json:"iban"`
	Currency   string    `json:"currency"`
	Balance    Money     `json:"balance"`
	Opening    Money     `json:"opening_balance"`
	Floor      Money     `json:"floor"`
	Active     bool      `json:"active"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
}

// WithdrawOption adjusts how far below its floor a withdrawal may take the balance.
type WithdrawOption func(*withdrawOptions)

type withdrawOptions struct {
	creditLine Money
}

// WithCreditLine lets a withdrawal go below the floor by at most limit.
// Used for withdrawals made through a CREDIT card.
func WithCreditLine(limit Money) WithdrawOption {
	return func(o *withdrawOptions) {
		if limit.IsPositive() {
			o.creditLine = limit
		}
	}
}

func (a *Account) lowestAllowed(opts []WithdrawOption) Money {
	var o withdrawOptions
	for _, opt := range opts {
		opt(&o)
	}
	return a.Floor.Sub(o.creditLine)
}

// CanWithdraw reports whether amount can leave the account without breaking
// the floor. With no options and a zero floor it is balance >= amount.
func (a *Account) CanWithdraw(amount Money, opts ...WithdrawOption) bool {
	return a.Balance.Sub(amount).Cmp(a.lowestAllowed(opts)) >= 0
}

// Deposit adds a positive amount and returns the new balance.
func (a *Account) Deposit(amount Money) (Money, error) {
	if !amount.IsPositive() {
		return a.Balance, &ErrInvalidAmount{Amount: amount.String(), Reason: "must be positive"}
	}
	next := a.Balance.Add(amount)
	if !next.InRange() {
		return a.Balance, &ErrInvalidAmount{Amount: amount.String(), Reason: "balance would exceed the storable maximum"}
	}
	a.Balance = next
	return a.Balance, nil
}

// Withdraw removes a positive amount and returns the new balance. On
// insufficient funds the balance is left unchanged.
func (a *Account) Withdraw(amount Money, opts ...WithdrawOption) (Money, error) {
	if !amount.IsPositive() {
		return a.Balance, &ErrInvalidAmount{Amount: amount.String(), Reason: "must be positive"}
	}
	if !a.CanWithdraw(amount, opts...) {
		return a.Balance, &ErrInsufficientFunds{AccountID: a.ID, Available: a.Balance.Sub(a.Floor), Required: amount}
	}
	a.Balance = a.Balance.Sub(amount)
	return a.Balance, nil
}

// CreditOutstanding is the part of the balance below zero, i.e. credit in use.
func (a *Account) CreditOutstanding() Money {
	if a.Balance.IsNegative() {
		return a.Balance.Neg()
	}
	return Zero
}

// Clone returns a working copy for an operation to mutate.
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}
