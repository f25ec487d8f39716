package service

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/retail-ledger/internal/domain"
)

// CommissionSchedule prices the operations that carry a fee.
type CommissionSchedule struct {
	// ExternalATMFee is charged on every withdrawal at another bank's ATM.
	ExternalATMFee domain.Money
	// TransferRate is applied to outgoing transfers to another bank.
	TransferRate decimal.Decimal
	// TransferMinFee is the floor for a non-zero transfer commission.
	TransferMinFee domain.Money
	// BankCode identifies our own IBANs. Empty means every IBAN is ours.
	BankCode string
}

// DefaultCommissionSchedule charges 2.00 at external ATMs and nothing on transfers.
func DefaultCommissionSchedule() CommissionSchedule {
	return CommissionSchedule{ExternalATMFee: domain.MoneyFromCents(200)}
}

// ForWithdrawal returns the commission for a cash withdrawal.
func (c CommissionSchedule) ForWithdrawal(externalATM bool) domain.Money {
	if !externalATM {
		return domain.Zero
	}
	return c.ExternalATMFee
}

// ForTransferOut returns the commission for sending amount to iban.
func (c CommissionSchedule) ForTransferOut(amount domain.Money, iban string) domain.Money {
	if !c.IsExternalIBAN(iban) || !c.TransferRate.IsPositive() {
		return domain.Zero
	}
	return amount.MulRate(c.TransferRate).Max(c.TransferMinFee)
}

// IsExternalIBAN reports whether iban belongs to another bank.
func (c CommissionSchedule) IsExternalIBAN(iban string) bool {
	if c.BankCode == "" {
		return false
	}
	code := IBANBankCode(iban)
	return code != "" && code != c.BankCode
}

// IBANBankCode returns the four characters after the country code and check
// digits, or "" for an IBAN too short to carry one.
func IBANBankCode(iban string) string {
	n := NormalizeIBAN(iban)
	if len(n) < 8 {
		return ""
	}
	return n[4:8]
}

// NormalizeIBAN strips spaces and upper-cases.
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(iban), " ", ""))
}
