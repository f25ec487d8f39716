package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntryType is the closed set of ledger entry kinds.
type EntryType string

const (
	EntryWithdrawal  EntryType = "WITHDRAWAL"
	EntryDeposit     EntryType = "DEPOSIT"
	EntryTransferOut EntryType = "TRANSFER_OUT"
	EntryTransferIn  EntryType = "TRANSFER_IN"
	EntryFee         EntryType = "FEE"
	EntryCommission  EntryType = "COMMISSION"
)

// ParseEntryType validates an entry type read from storage or a request.
func ParseEntryType(s string) (EntryType, error) {
	switch t := EntryType(strings.ToUpper(strings.TrimSpace(s))); t {
	case EntryWithdrawal, EntryDeposit, EntryTransferOut, EntryTransferIn, EntryFee, EntryCommission:
		return t, nil
	}
	return "", &ErrValidation{Field: "type", Message: fmt.Sprintf("unknown entry type %q", s)}
}

// IsOutflow reports whether entries of this type carry a negative amount.
func (t EntryType) IsOutflow() bool {
	switch t {
	case EntryWithdrawal, EntryTransferOut, EntryFee, EntryCommission:
		return true
	}
	return false
}

// EntryStatus is the closed set of entry states.
type EntryStatus string

const (
	StatusCompleted EntryStatus = "COMPLETED"
	StatusPending   EntryStatus = "PENDING"
	StatusFailed    EntryStatus = "FAILED"
	StatusCancelled EntryStatus = "CANCELLED"
)

// ParseEntryStatus validates a status at the boundary.
func ParseEntryStatus(s string) (EntryStatus, error) {
	switch st := EntryStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusCompleted, StatusPending, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", &ErrValidation{Field: "status", Message: fmt.Sprintf("unknown entry status %q", s)}
}

// LedgerEntry is the immutable record of one balance-changing event.
// Amount is signed (negative for outflows) and excludes the commission,
// which is tracked separately; NetAmount is what moved the balance.
type LedgerEntry struct {
	ID               string      `json:"id"`
	AccountID        string      `json:"account_id"`
	CardID           string      `json:"card_id,omitempty"`
	Type             EntryType   `json:"type"`
	Amount           Money       `json:"amount"`
	BalanceAfter     Money       `json:"balance_after"`
	Description      string      `json:"description"`
	CreatedAt        time.Time   `json:"created_at"`
	CounterpartyIBAN string      `json:"counterparty_iban,omitempty"`
	CounterpartyName string      `json:"counterparty_name,omitempty"`
	Commission       Money       `json:"commission"`
	ExternalATM      bool        `json:"external_atm"`
	Reference        string      `json:"reference"`
	Status           EntryStatus `json:"status"`
	ATMID            string      `json:"atm_id,omitempty"`
	ATMLocation      string      `json:"atm_location,omitempty"`
}

// NetAmount is the signed effect on the balance: amount minus commission.
func (e LedgerEntry) NetAmount() Money {
	return e.Amount.Sub(e.Commission)
}

func (e LedgerEntry) IsWithdrawal() bool { return e.Type == EntryWithdrawal }
func (e LedgerEntry) IsDeposit() bool    { return e.Type == EntryDeposit }
func (e LedgerEntry) IsTransfer() bool {
	return e.Type == EntryTransferIn || e.Type == EntryTransferOut
}

// EntryDraft carries what every entry factory needs.
type EntryDraft struct {
	ID           string
	AccountID    string
	Reference    string
	BalanceAfter Money
	CreatedAt    time.Time
}

func (d EntryDraft) entry(t EntryType, amount Money, description string) *LedgerEntry {
	return &LedgerEntry{
		ID:           d.ID,
		AccountID:    d.AccountID,
		Type:         t,
		Amount:       amount,
		BalanceAfter: d.BalanceAfter,
		Description:  description,
		CreatedAt:    d.CreatedAt,
		Reference:    d.Reference,
		Status:       StatusCompleted,
	}
}

func withCommissionNote(desc string, commission Money) string {
	if commission.IsPositive() {
		return fmt.Sprintf("%s (commission: %s EUR)", desc, commission)
	}
	return desc
}

// NewWithdrawalEntry records cash taken out with a card.
func NewWithdrawalEntry(d EntryDraft, cardID string, amount, commission Money, externalATM bool, atmID, atmLocation string) *LedgerEntry {
	desc := "Withdrawal at own ATM"
	if externalATM {
		desc = "Withdrawal at external ATM"
	}
	e := d.entry(EntryWithdrawal, amount.Abs().Neg(), withCommissionNote(desc, commission))
	e.CardID = cardID
	e.Commission = commission
	e.ExternalATM = externalATM
	e.ATMID = atmID
	e.ATMLocation = atmLocation
	return e
}

// NewDepositEntry records cash paid in, optionally with a card.
func NewDepositEntry(d EntryDraft, cardID string, amount Money) *LedgerEntry {
	e := d.entry(EntryDeposit, amount.Abs(), "ATM deposit")
	e.CardID = cardID
	return e
}

// NewTransferOutEntry records money sent to another IBAN.
func NewTransferOutEntry(d EntryDraft, amount, commission Money, destinationIBAN, destinationName string) *LedgerEntry {
	desc := fmt.Sprintf("Transfer to %s (%s)", destinationName, destinationIBAN)
	e := d.entry(EntryTransferOut, amount.Abs().Neg(), withCommissionNote(desc, commission))
	e.Commission = commission
	e.CounterpartyIBAN = destinationIBAN
	e.CounterpartyName = destinationName
	return e
}

// NewTransferInEntry records money received from another IBAN.
func NewTransferInEntry(d EntryDraft, amount Money, originIBAN, originName string) *LedgerEntry {
	e := d.entry(EntryTransferIn, amount.Abs(), fmt.Sprintf("Transfer from %s (%s)", originName, originIBAN))
	e.CounterpartyIBAN = originIBAN
	e.CounterpartyName = originName
	return e
}
