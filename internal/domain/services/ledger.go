package services

import (
	"context"

	"txscope/internal/domain/models"
)

// LedgerService moves money between accounts inside retrying transactions
type LedgerService interface {
	// OpenAccount creates an account with an initial balance, or resets it
	OpenAccount(ctx context.Context, id string, balance int64) (*models.Account, error)

	// GetAccount retrieves an account by ID
	GetAccount(ctx context.Context, id string) (*models.Account, error)

	// Transfer debits one account and credits another atomically
	Transfer(ctx context.Context, req *models.TransferRequest) (*models.Transfer, error)

	// TotalBalance sums every account, which transfers never change
	TotalBalance(ctx context.Context) (int64, error)
}
