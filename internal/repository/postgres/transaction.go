package postgres

import (
	"context"

	"txscope/internal/domain/repositories"
	"txscope/internal/transaction"
)

// TransactionManager implements the TransactionManager interface
type TransactionManager struct {
	db   *transaction.Database
	opts *transaction.Options
}

// NewTransactionManager creates a transaction manager using the database defaults
func NewTransactionManager(db *transaction.Database) repositories.TransactionManager {
	return &TransactionManager{db: db}
}

// NewTransactionManagerWithOptions creates a transaction manager with explicit
// isolation, read-only and retry settings
func NewTransactionManagerWithOptions(opts transaction.Options) repositories.TransactionManager {
	return &TransactionManager{db: opts.Database, opts: &opts}
}

// ExecTx executes a function within a transaction, retrying transient failures
func (tm *TransactionManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	work := func(ctx context.Context, _ *transaction.Transaction) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}

	var err error
	if tm.opts != nil {
		_, err = transaction.RunWith(ctx, *tm.opts, work)
	} else {
		_, err = transaction.Run(ctx, tm.db, work)
	}
	return err
}
