package repositories

import (
	"context"

	"txscope/internal/transaction"
)

// DBTX is the statement surface repositories use. *transaction.Transaction
// implements it.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (int64, error)
	Query(ctx context.Context, sql string, arguments ...any) (transaction.Rows, error)
}

var _ DBTX = (*transaction.Transaction)(nil)
