package transaction

import (
	"context"
	"strings"
)

// closeStatementsAndConnection releases everything an attempt holds. Failures
// are logged and reported to CleanupObservers, never returned.
func closeStatementsAndConnection(ctx context.Context, tx *Transaction) {
	m := tx.manager
	statement := tx.CurrentStatement()

	if err := tx.closeStatements(); err != nil {
		m.cleanupFailed(ctx, tx, "statements", statement, err)
	}
	if err := tx.Close(ctx); err != nil {
		m.cleanupFailed(ctx, tx, "close", statement, err)
	}
}

func (m *Manager) cleanupFailed(ctx context.Context, tx *Transaction, stage, statement string, err error) {
	m.logger.WarnContext(ctx, "transaction cleanup failed",
		"tx_id", tx.id,
		"stage", stage,
		"statement", statement,
		"error", err,
	)
	for _, i := range tx.interceptors {
		if o, ok := i.(CleanupObserver); ok {
			o.CleanupFailed(tx, stage, err)
		}
	}
}

// rollbackLogging rolls tx back on behalf of a failed unit of work. A
// rollback failure is logged; cause remains what the caller sees.
func (m *Manager) rollbackLogging(ctx context.Context, tx *Transaction, cause error) {
	if err := tx.Rollback(ctx); err != nil {
		m.logger.WarnContext(ctx, "transaction rollback failed",
			"tx_id", tx.id,
			"statement", tx.CurrentStatement(),
			"error", err,
			"cause", cause,
		)
	}
}

func (m *Manager) handleRetryable(ctx context.Context, tx *Transaction, attempt int, err error) {
	queries := failedQueries(err)
	if len(queries) == 0 {
		if st := tx.CurrentStatement(); st != "" {
			queries = []string{st}
		}
	}

	for _, l := range tx.loggers {
		l.LogFailure(tx, attempt, queries, err)
	}
	m.logger.WarnContext(ctx, "transaction attempt failed",
		"tx_id", tx.id,
		"attempt", attempt,
		"elapsed", tx.Elapsed(),
		"error", err,
		"statements", strings.Join(queries, ";\n"),
	)
	m.rollbackLogging(ctx, tx, err)
}
