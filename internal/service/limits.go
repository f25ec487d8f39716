package service

import "github.com/boddenberg/retail-ledger/internal/domain"

// LimitPolicy decides whether a card may withdraw a given amount today.
// It is pure: callers supply today's total and the current balance.
type LimitPolicy struct{}

// LimitInput is what the policy needs besides the card.
type LimitInput struct {
	AccountID string
	// Amount is the requested principal.
	Amount domain.Money
	// Commission is added to Amount for the credit check only.
	Commission domain.Money
	// TodayTotal is the absolute principal already withdrawn today.
	TodayTotal domain.Money
	Balance    domain.Money
}

// Check applies, in order: card active, card configuration, then the
// type-specific limits. Daily limits count principal only.
func (LimitPolicy) Check(card *domain.Card, in LimitInput) error {
	if !card.Active {
		return &domain.ErrCardInactive{CardID: card.ID}
	}
	if err := card.Validate(); err != nil {
		return err
	}

	switch card.Type {
	case domain.CardDebit:
		return checkDaily(card, in.AccountID, in.Amount, in.TodayTotal)
	case domain.CardCredit:
		if err := checkCredit(card, in.AccountID, in.Amount.Add(in.Commission), in.Balance); err != nil {
			return err
		}
		if card.DailyWithdrawalLimit != nil {
			return checkDaily(card, in.AccountID, in.Amount, in.TodayTotal)
		}
	}
	return nil
}

func checkDaily(card *domain.Card, accountID string, amount, todayTotal domain.Money) error {
	limit := *card.DailyWithdrawalLimit
	if todayTotal.Add(amount).GreaterThan(limit) {
		return &domain.ErrDailyLimitExceeded{
			AccountID: accountID,
			CardID:    card.ID,
			Limit:     limit,
			UsedToday: todayTotal,
			Attempted: amount,
		}
	}
	return nil
}

// checkCredit allows the withdrawal while the credit in use after it stays
// within the card's credit limit.
func checkCredit(card *domain.Card, accountID string, amount, balance domain.Money) error {
	outstanding := balance.Neg().Max(domain.Zero)
	shortfall := amount.Sub(balance.Max(domain.Zero)).Max(domain.Zero)
	limit := *card.CreditLimit
	if outstanding.Add(shortfall).GreaterThan(limit) {
		return &domain.ErrCreditLimitExceeded{
			AccountID:   accountID,
			CardID:      card.ID,
			Limit:       limit,
			Outstanding: outstanding,
			Attempted:   amount,
		}
	}
	return nil
}

// WithdrawOptions returns the aggregate options the card grants.
func (LimitPolicy) WithdrawOptions(card *domain.Card) []domain.WithdrawOption {
	if card != nil && card.Type == domain.CardCredit && card.CreditLimit != nil {
		return []domain.WithdrawOption{domain.WithCreditLine(*card.CreditLimit)}
	}
	return nil
}
