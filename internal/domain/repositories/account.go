package repositories

import (
	"context"

	"txscope/internal/domain/models"
)

// AccountRepository defines data access operations for ledger accounts
type AccountRepository interface {
	// EnsureSchema creates the account and transfer tables if missing
	EnsureSchema(ctx context.Context) error

	// DropSchema drops the transfer and account tables
	DropSchema(ctx context.Context) error

	// Create inserts an account or resets the balance of an existing one
	Create(ctx context.Context, account *models.Account) error

	// GetByID retrieves an account by ID
	GetByID(ctx context.Context, id string) (*models.Account, error)

	// AddBalance adds delta to the balance and returns the new balance
	AddBalance(ctx context.Context, id string, delta int64) (int64, error)

	// RecordTransfer stores the audit row of a transfer
	RecordTransfer(ctx context.Context, transfer *models.Transfer) error

	// TotalBalance sums all balances
	TotalBalance(ctx context.Context) (int64, error)
}
