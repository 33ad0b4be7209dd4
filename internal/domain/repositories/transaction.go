package repositories

import "context"

// TxFn is a function that runs within a transaction
type TxFn func(ctx context.Context) error

// TransactionManager handles database transactions
type TransactionManager interface {
	// ExecTx executes fn within a transaction. Calls made with the ctx passed
	// to fn join that transaction instead of starting a new one.
	ExecTx(ctx context.Context, fn TxFn) error
}
