package domain

// ============================================================
// Dev Tools: endpoints for development/testing
// ============================================================

// DevSeedRequest is the body for POST /v1/dev/seed.
type DevSeedRequest struct {
	CustomerName   string `json:"customerName"`
	Email          string `json:"email,omitempty"`
	CardType       string `json:"cardType"`
	PIN            string `json:"pin"`
	OpeningBalance *Money `json:"openingBalance,omitempty"`
	DailyLimit     *Money `json:"dailyLimit,omitempty"`
	CreditLimit    *Money `json:"creditLimit,omitempty"`
}

// DevSeedResponse is returned by POST /v1/dev/seed.
type DevSeedResponse struct {
	Customer *Customer    `json:"customer"`
	Account  *Account     `json:"account"`
	Card     *Card        `json:"card"`
	Opening  *LedgerEntry `json:"opening,omitempty"`
	Message  string       `json:"message"`
}

// DevDeleteCustomerResponse is returned by DELETE /v1/dev/customers/{customerId}.
type DevDeleteCustomerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
