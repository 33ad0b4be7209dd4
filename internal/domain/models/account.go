package models

import (
	"time"
)

type Account struct {
	ID        string    `json:"id" db:"id"`
	Balance   int64     `json:"balance" db:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transfer is the audit record of one balance movement between two accounts.
type Transfer struct {
	ID        string    `json:"id" db:"id"`
	FromID    string    `json:"from_id" db:"from_id"`
	ToID      string    `json:"to_id" db:"to_id"`
	Amount    int64     `json:"amount" db:"amount"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TransferRequest moves Amount from FromID to ToID. ID is an optional
// idempotency key; a new one is generated when empty.
type TransferRequest struct {
	ID     string `json:"id,omitempty"`
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Amount int64  `json:"amount"`
}
