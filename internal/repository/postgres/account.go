package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"txscope/internal/domain"
	"txscope/internal/domain/models"
	"txscope/internal/domain/repositories"
	"txscope/internal/transaction"
)

// PostgresAccountRepository implements the AccountRepository interface.
// Every method joins the transaction current in ctx, or runs its own.
type PostgresAccountRepository struct {
	db     *transaction.Database
	tables *TableNames
	logger *slog.Logger
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(config *RepositoryConfig) repositories.AccountRepository {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAccountRepository{
		db:     config.Database,
		tables: config.Tables,
		logger: logger,
	}
}

// withTx runs fn in the current transaction of r.db, or in a new one
func withTx[T any](ctx context.Context, db *transaction.Database, fn func(repositories.DBTX) (T, error)) (T, error) {
	if tx := transaction.Current(ctx); tx != nil && tx.Database() == db {
		return fn(tx)
	}
	return transaction.Run(ctx, db, func(ctx context.Context, tx *transaction.Transaction) (T, error) {
		return fn(tx)
	})
}

// EnsureSchema creates the account and transfer tables if missing
func (r *PostgresAccountRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				balance BIGINT NOT NULL CHECK (balance >= 0),
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, r.tables.Accounts),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				from_id TEXT NOT NULL REFERENCES %s (id),
				to_id TEXT NOT NULL REFERENCES %s (id),
				amount BIGINT NOT NULL CHECK (amount > 0),
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, r.tables.Transfers, r.tables.Accounts, r.tables.Accounts),
	}

	_, err := withTx(ctx, r.db, func(tx repositories.DBTX) (struct{}, error) {
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return struct{}{}, fmt.Errorf("ensure schema: %w", err)
			}
		}
		return struct{}{}, nil
	})
	return err
}

// DropSchema drops the transfer and account tables
func (r *PostgresAccountRepository) DropSchema(ctx context.Context) error {
	// Transfers reference accounts, so they go first
	query := fmt.Sprintf(`DROP TABLE IF EXISTS %s, %s`, r.tables.Transfers, r.tables.Accounts)

	_, err := withTx(ctx, r.db, func(tx repositories.DBTX) (int64, error) {
		return tx.Exec(ctx, query)
	})
	if err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return nil
}

// Create inserts an account or resets the balance of an existing one
func (r *PostgresAccountRepository) Create(ctx context.Context, account *models.Account) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, balance)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()
		RETURNING created_at, updated_at
	`, r.tables.Accounts)

	_, err := withTx(ctx, r.db, func(tx repositories.DBTX) (struct{}, error) {
		rows, err := tx.Query(ctx, query, account.ID, account.Balance)
		if err != nil {
			return struct{}{}, err
		}
		defer rows.Close()

		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, fmt.Errorf("insert returned no row")
		}
		return struct{}{}, rows.Scan(&account.CreatedAt, &account.UpdatedAt)
	})
	if err != nil {
		if IsPgCheckViolation(err) {
			return &domain.ValidationError{Message: fmt.Sprintf("account '%s' cannot have a negative balance", account.ID)}
		}
		return fmt.Errorf("create account: %w", err)
	}

	r.logger.Debug("account created", "id", account.ID, "balance", account.Balance)
	return nil
}

// GetByID retrieves an account by ID
func (r *PostgresAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := fmt.Sprintf(`
		SELECT id, balance, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, r.tables.Accounts)

	return withTx(ctx, r.db, func(tx repositories.DBTX) (*models.Account, error) {
		rows, err := tx.Query(ctx, query, id)
		if err != nil {
			return nil, fmt.Errorf("get account: %w", err)
		}
		defer rows.Close()

		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return nil, fmt.Errorf("get account: %w", err)
			}
			return nil, &domain.NotFoundError{Message: fmt.Sprintf("account '%s' not found", id)}
		}

		var account models.Account
		if err := rows.Scan(&account.ID, &account.Balance, &account.CreatedAt, &account.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		return &account, nil
	})
}

// AddBalance adds delta to the balance and returns the new balance.
// A debit below zero leaves the row untouched and returns InsufficientFundsError.
func (r *PostgresAccountRepository) AddBalance(ctx context.Context, id string, delta int64) (int64, error) {
	update := fmt.Sprintf(`
		UPDATE %s
		SET balance = balance + $2, updated_at = now()
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance
	`, r.tables.Accounts)
	lookup := fmt.Sprintf(`SELECT balance FROM %s WHERE id = $1`, r.tables.Accounts)

	return withTx(ctx, r.db, func(tx repositories.DBTX) (int64, error) {
		balance, found, err := queryInt64(ctx, tx, update, id, delta)
		if err != nil {
			return 0, fmt.Errorf("add balance: %w", err)
		}
		if found {
			return balance, nil
		}

		// Either the account is missing or the debit would overdraw it
		current, found, err := queryInt64(ctx, tx, lookup, id)
		if err != nil {
			return 0, fmt.Errorf("add balance: %w", err)
		}
		if !found {
			return 0, &domain.NotFoundError{Message: fmt.Sprintf("account '%s' not found", id)}
		}
		return 0, &domain.InsufficientFundsError{AccountID: id, Balance: current, Amount: -delta}
	})
}

// queryInt64 scans the single integer column of the first row, if any.
// The rows are closed before returning so the connection is free for the
// next statement.
func queryInt64(ctx context.Context, tx repositories.DBTX, query string, args ...any) (int64, bool, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, rows.Err()
	}
	var v int64
	if err := rows.Scan(&v); err != nil {
		return 0, false, err
	}
	return v, true, rows.Close()
}

// RecordTransfer stores the audit row of a transfer
func (r *PostgresAccountRepository) RecordTransfer(ctx context.Context, transfer *models.Transfer) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, from_id, to_id, amount)
		VALUES ($1, $2, $3, $4)
	`, r.tables.Transfers)

	_, err := withTx(ctx, r.db, func(tx repositories.DBTX) (int64, error) {
		return tx.Exec(ctx, query, transfer.ID, transfer.FromID, transfer.ToID, transfer.Amount)
	})
	if err != nil {
		if IsPgDuplicateError(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("transfer '%s' already recorded", transfer.ID),
				ResourceType: "transfer",
				ResourceID:   transfer.ID,
			}
		}
		if IsPgForeignKeyError(err) {
			return &domain.NotFoundError{Message: "transfer references an unknown account"}
		}
		return fmt.Errorf("record transfer: %w", err)
	}
	return nil
}

// TotalBalance sums all balances
func (r *PostgresAccountRepository) TotalBalance(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT COALESCE(SUM(balance), 0)::BIGINT FROM %s`, r.tables.Accounts)

	return withTx(ctx, r.db, func(tx repositories.DBTX) (int64, error) {
		total, _, err := queryInt64(ctx, tx, query)
		if err != nil {
			return 0, fmt.Errorf("total balance: %w", err)
		}
		return total, nil
	})
}
