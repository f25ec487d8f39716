package domain

import "time"

// ============================================================
// Customers
// ============================================================

// Customer owns accounts. Deleting a customer removes its accounts, their
// cards and their entries.
type Customer struct {
	ID        string    `json:"id"`
	Number    string    `json:"customer_number"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
