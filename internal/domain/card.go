package domain

import (
	"fmt"
	"strings"
)

// CardType is the closed set of card kinds.
type CardType string

const (
	CardDebit  CardType = "DEBIT"
	CardCredit CardType = "CREDIT"
)

// ParseCardType validates a card type at the boundary.
func ParseCardType(s string) (CardType, error) {
	switch t := CardType(strings.ToUpper(strings.TrimSpace(s))); t {
	case CardDebit, CardCredit:
		return t, nil
	}
	return "", &ErrValidation{Field: "card_type", Message: fmt.Sprintf("unknown card type %q", s)}
}

// Card is a debit or credit card attached to one account.
type Card struct {
	ID                   string   `json:"id"`
	AccountID            string   `json:"account_id"`
	MaskedNumber         string   `json:"masked_number"`
	SecretHash           string   `json:"-"`
	Type                 CardType `json:"type"`
	DailyWithdrawalLimit *Money   `json:"daily_withdrawal_limit,omitempty"`
	CreditLimit          *Money   `json:"credit_limit,omitempty"`
	Active               bool     `json:"active"`
	PinChanged           bool     `json:"pin_changed"`
}

// Validate checks the limits required by the card type. A DEBIT card's
// credit limit is ignored.
func (c *Card) Validate() error {
	switch c.Type {
	case CardDebit:
		if c.DailyWithdrawalLimit == nil {
			return &ErrInvalidCardConfiguration{CardID: c.ID, Reason: "debit card requires a daily withdrawal limit"}
		}
		if c.DailyWithdrawalLimit.IsNegative() {
			return &ErrInvalidCardConfiguration{CardID: c.ID, Reason: "daily withdrawal limit is negative"}
		}
	case CardCredit:
		if c.CreditLimit == nil {
			return &ErrInvalidCardConfiguration{CardID: c.ID, Reason: "credit card requires a credit limit"}
		}
		if c.CreditLimit.IsNegative() {
			return &ErrInvalidCardConfiguration{CardID: c.ID, Reason: "credit limit is negative"}
		}
		if c.DailyWithdrawalLimit != nil && c.DailyWithdrawalLimit.IsNegative() {
			return &ErrInvalidCardConfiguration{CardID: c.ID, Reason: "daily withdrawal limit is negative"}
		}
	default:
		return &ErrInvalidCardConfiguration{CardID: c.ID, Reason: fmt.Sprintf("unknown card type %q", c.Type)}
	}
	return nil
}

// MaskCardNumber keeps the last four digits.
func MaskCardNumber(number string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	if len(digits) < 4 {
		return "****"
	}
	return "**** **** **** " + digits[len(digits)-4:]
}
