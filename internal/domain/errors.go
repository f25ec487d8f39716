package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the ledger.
// Validation and authorization errors are terminal for an attempt; only
// version conflicts and reference collisions may be retried, and only by
// restarting the whole operation.

// Resource names used by ErrNotFound.
const (
	ResourceAccount  = "account"
	ResourceCard     = "card"
	ResourceEntry    = "entry"
	ResourceCustomer = "customer"
)

// ErrNotFound indicates a resource was not found (AccountNotFound, CardNotFound).
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrInvalidAmount indicates a non-positive amount or one that cannot be
// represented at the fixed money scale.
type ErrInvalidAmount struct {
	Amount string
	Reason string
}

func (e *ErrInvalidAmount) Error() string {
	return fmt.Sprintf("invalid amount %q: %s", e.Amount, e.Reason)
}

// ErrInsufficientFunds indicates not enough balance for the operation.
type ErrInsufficientFunds struct {
	AccountID string
	Available Money
	Required  Money
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds on account %s: available=%s required=%s", e.AccountID, e.Available, e.Required)
}

// ErrCardInactive indicates the card cannot be used.
type ErrCardInactive struct {
	CardID string
}

func (e *ErrCardInactive) Error() string {
	return fmt.Sprintf("card %s is inactive", e.CardID)
}

// ErrInvalidCardConfiguration indicates a card whose limits do not match its type.
type ErrInvalidCardConfiguration struct {
	CardID string
	Reason string
}

func (e *ErrInvalidCardConfiguration) Error() string {
	return fmt.Sprintf("invalid configuration for card %s: %s", e.CardID, e.Reason)
}

// ErrDailyLimitExceeded indicates the day's withdrawals would pass the card's daily limit.
type ErrDailyLimitExceeded struct {
	AccountID string
	CardID    string
	Limit     Money
	UsedToday Money
	Attempted Money
}

func (e *ErrDailyLimitExceeded) Error() string {
	return fmt.Sprintf("daily withdrawal limit exceeded on account %s: limit=%s used_today=%s attempted=%s",
		e.AccountID, e.Limit, e.UsedToday, e.Attempted)
}

// ErrCreditLimitExceeded indicates a credit card withdrawal would pass the credit limit.
type ErrCreditLimitExceeded struct {
	AccountID   string
	CardID      string
	Limit       Money
	Outstanding Money
	Attempted   Money
}

func (e *ErrCreditLimitExceeded) Error() string {
	return fmt.Sprintf("credit limit exceeded on account %s: limit=%s outstanding=%s attempted=%s",
		e.AccountID, e.Limit, e.Outstanding, e.Attempted)
}

// ErrCardAccountMismatch indicates the card is not attached to the account.
type ErrCardAccountMismatch struct {
	CardID    string
	AccountID string
}

func (e *ErrCardAccountMismatch) Error() string {
	return fmt.Sprintf("card %s does not belong to account %s", e.CardID, e.AccountID)
}

// ErrAccountInactive indicates the account is closed or blocked.
type ErrAccountInactive struct {
	AccountID string
}

func (e *ErrAccountInactive) Error() string {
	return fmt.Sprintf("account %s is inactive", e.AccountID)
}

// ErrVersionConflict indicates the account changed between read and commit.
type ErrVersionConflict struct {
	AccountID string
	Expected  int64
}

func (e *ErrVersionConflict) Error() string {
	return fmt.Sprintf("version conflict on account %s: expected version %d", e.AccountID, e.Expected)
}

// ErrReferenceCollision indicates the generated reference already exists
// (ReferenceGenerationFailure).
type ErrReferenceCollision struct {
	Reference string
}

func (e *ErrReferenceCollision) Error() string {
	return fmt.Sprintf("reference already in use: %s", e.Reference)
}

// ErrPersistence indicates the store failed; nothing was committed.
type ErrPersistence struct {
	Op  string
	Err error
}

func (e *ErrPersistence) Error() string {
	return fmt.Sprintf("persistence failure [%s]: %v", e.Op, e.Err)
}

func (e *ErrPersistence) Unwrap() error {
	return e.Err
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrUnauthorized indicates a missing or invalid caller token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// IsRetryable reports whether err may be retried by restarting the operation.
func IsRetryable(err error) bool {
	var conflict *ErrVersionConflict
	var collision *ErrReferenceCollision
	return errors.As(err, &conflict) || errors.As(err, &collision)
}

// IsBusinessError reports whether err is a domain outcome rather than an
// infrastructure failure. Circuit breakers use it to avoid tripping on
// ordinary rejections.
func IsBusinessError(err error) bool {
	var (
		notFound   *ErrNotFound
		amount     *ErrInvalidAmount
		funds      *ErrInsufficientFunds
		inactive   *ErrCardInactive
		config     *ErrInvalidCardConfiguration
		daily      *ErrDailyLimitExceeded
		credit     *ErrCreditLimitExceeded
		mismatch   *ErrCardAccountMismatch
		closed     *ErrAccountInactive
		validation *ErrValidation
	)
	return IsRetryable(err) ||
		errors.As(err, &notFound) ||
		errors.As(err, &amount) ||
		errors.As(err, &funds) ||
		errors.As(err, &inactive) ||
		errors.As(err, &config) ||
		errors.As(err, &daily) ||
		errors.As(err, &credit) ||
		errors.As(err, &mismatch) ||
		errors.As(err, &closed) ||
		errors.As(err, &validation)
}
