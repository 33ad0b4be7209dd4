package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"txscope/internal/config"
	"txscope/internal/domain"
	"txscope/internal/domain/models"
	"txscope/internal/domain/repositories"
	"txscope/internal/domain/services"
)

// service implements the LedgerService interface
type service struct {
	accounts repositories.AccountRepository
	txm      repositories.TransactionManager
	// auditInSavepoint is set when nested transactions use savepoints, so a
	// failed audit insert can be rolled back without losing the transfer.
	auditInSavepoint bool
	logger           *slog.Logger
}

// NewService creates a new ledger service
func NewService(
	accounts repositories.AccountRepository,
	txm repositories.TransactionManager,
	auditInSavepoint bool,
	logger *slog.Logger,
) services.LedgerService {
	return &service{
		accounts:         accounts,
		txm:              txm,
		auditInSavepoint: auditInSavepoint,
		logger:           logger,
	}
}

// OpenAccount creates an account with an initial balance, or resets it
func (s *service) OpenAccount(ctx context.Context, id string, balance int64) (*models.Account, error) {
	err := validation.Errors{
		"id":      validation.Validate(id, validation.Required, validation.Length(1, config.MaxAccountIDLength)),
		"balance": validation.Validate(balance, validation.Min(int64(0))),
	}.Filter()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	account := &models.Account{ID: strings.TrimSpace(id), Balance: balance}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccount retrieves an account by ID
func (s *service) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

// Transfer debits req.FromID and credits req.ToID in one transaction. The
// audit row is written in a nested transaction.
func (s *service) Transfer(ctx context.Context, req *models.TransferRequest) (*models.Transfer, error) {
	if err := validateTransferRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	transfer := &models.Transfer{
		ID:     req.ID,
		FromID: req.FromID,
		ToID:   req.ToID,
		Amount: req.Amount,
	}
	if transfer.ID == "" {
		transfer.ID = uuid.NewString()
	}

	err := s.txm.ExecTx(ctx, func(ctx context.Context) error {
		// Reset on every attempt
		transfer.CreatedAt = time.Now()

		if _, err := s.accounts.AddBalance(ctx, transfer.FromID, -transfer.Amount); err != nil {
			return err
		}
		if _, err := s.accounts.AddBalance(ctx, transfer.ToID, transfer.Amount); err != nil {
			return err
		}
		return s.recordAudit(ctx, transfer)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("transfer committed",
		"id", transfer.ID,
		"from", transfer.FromID,
		"to", transfer.ToID,
		"amount", transfer.Amount,
	)
	return transfer, nil
}

// recordAudit writes the transfer row. A duplicate ID means the transfer was
// already audited; inside a savepoint that is rolled back and tolerated.
func (s *service) recordAudit(ctx context.Context, transfer *models.Transfer) error {
	err := s.txm.ExecTx(ctx, func(ctx context.Context) error {
		return s.accounts.RecordTransfer(ctx, transfer)
	})
	if err != nil && s.auditInSavepoint && errors.Is(err, domain.ErrConflict) {
		s.logger.Warn("transfer already audited", "id", transfer.ID)
		return nil
	}
	return err
}

// TotalBalance sums every account
func (s *service) TotalBalance(ctx context.Context) (int64, error) {
	return s.accounts.TotalBalance(ctx)
}

// validateTransferRequest validates a transfer request
func validateTransferRequest(req *models.TransferRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.FromID, validation.Required, validation.Length(1, config.MaxAccountIDLength)),
		validation.Field(&req.ToID,
			validation.Required,
			validation.Length(1, config.MaxAccountIDLength),
			validation.NotIn(req.FromID).Error("must differ from from_id"),
		),
		validation.Field(&req.Amount, validation.Required, validation.Min(int64(1)), validation.Max(int64(config.MaxTransferAmount))),
	)
}
