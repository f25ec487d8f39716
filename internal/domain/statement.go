package domain

import "time"

// ============================================================
// Statement views (read side)
// ============================================================

// BalanceView is returned by GET /v1/accounts/{accountId}/balance.
type BalanceView struct {
	AccountID     string    `json:"account_id"`
	AccountNumber string    `json:"account_number"`
	IBAN          string    `json:"iban"`
	Currency      string    `json:"currency"`
	Balance       Money     `json:"balance"`
	Available     Money     `json:"available"`
	EntryCount    int       `json:"entry_count"`
	AsOf          time.Time `json:"as_of"`
}

// EntryFilter narrows a history query. Zero values mean "no filter".
// Since is inclusive and Until is exclusive.
type EntryFilter struct {
	Type             EntryType
	Since            time.Time
	Until            time.Time
	CounterpartyIBAN string
	WithCommission   bool
	ExternalATM      bool
	Limit            int
	Offset           int
}

// DailyUsage is today's withdrawal usage for an account and, optionally, a card.
type DailyUsage struct {
	AccountID string `json:"account_id"`
	CardID    string `json:"card_id,omitempty"`
	Day       string `json:"day"`
	Withdrawn Money  `json:"withdrawn"`
	Limit     *Money `json:"limit,omitempty"`
	Remaining *Money `json:"remaining,omitempty"`
}

// AccountTotals is an account read together with the net sum and count of
// its entries, all from the same snapshot.
type AccountTotals struct {
	Account Account
	Net     Money
	Entries int
}

// ReconciliationResult compares the stored balance with the entry history.
type ReconciliationResult struct {
	AccountID     string    `json:"account_id"`
	StoredBalance Money     `json:"stored_balance"`
	LedgerBalance Money     `json:"ledger_balance"`
	Difference    Money     `json:"difference"`
	EntryCount    int       `json:"entry_count"`
	Consistent    bool      `json:"consistent"`
	CheckedAt     time.Time `json:"checked_at"`
}
