package transaction

import (
	"context"
	"errors"
	"time"
)

// StatementInterceptor observes every statement a transaction executes.
type StatementInterceptor interface {
	BeforeExecution(tx *Transaction, query string)
	AfterExecution(tx *Transaction, query string, elapsed time.Duration, err error)
}

type CommitInterceptor interface {
	BeforeCommit(tx *Transaction)
	AfterCommit(tx *Transaction)
}

type RollbackInterceptor interface {
	BeforeRollback(tx *Transaction)
	AfterRollback(tx *Transaction)
}

// QueryLogger receives the statements involved in a retryable failure
// before the retry warning is logged.
type QueryLogger interface {
	LogFailure(tx *Transaction, attempt int, queries []string, err error)
}

// CleanupObserver is told about failures swallowed while cleaning up after
// an attempt. stage is "statements" or "close".
type CleanupObserver interface {
	CleanupFailed(tx *Transaction, stage string, err error)
}

type statement struct {
	query string
	rows  *trackedRows
}

type trackedRows struct {
	Rows
	closed bool
}

func (r *trackedRows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.Rows.Close()
}

// Exec runs a statement that returns no rows and reports the rows affected.
func (t *Transaction) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	conn, err := t.Connection(ctx)
	if err != nil {
		return 0, err
	}

	t.begin(query)
	start := time.Now()
	n, err := conn.Exec(ctx, query, args...)
	t.finish(ctx, query, time.Since(start), err)
	if err != nil {
		return 0, &StatementError{Query: query, Err: err}
	}
	t.current = nil
	return n, nil
}

// Query runs a statement returning rows. The rows stay open until closed by
// the caller or by cleanup at the end of the attempt.
func (t *Transaction) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	conn, err := t.Connection(ctx)
	if err != nil {
		return nil, err
	}

	st := t.begin(query)
	start := time.Now()
	rows, err := conn.Query(ctx, query, args...)
	t.finish(ctx, query, time.Since(start), err)
	if err != nil {
		return nil, &StatementError{Query: query, Err: err}
	}
	st.rows = &trackedRows{Rows: rows}
	return st.rows, nil
}

func (t *Transaction) begin(query string) *statement {
	if t.current != nil && t.current.rows != nil {
		t.executed = append(t.executed, t.current)
	}
	t.current = &statement{query: query}
	for _, i := range t.interceptors {
		if si, ok := i.(StatementInterceptor); ok {
			si.BeforeExecution(t, query)
		}
	}
	return t.current
}

func (t *Transaction) finish(ctx context.Context, query string, elapsed time.Duration, err error) {
	t.statementCount++
	t.duration += elapsed

	logger := t.manager.logger
	logger.DebugContext(ctx, "statement executed", "tx_id", t.id, "statement", query, "elapsed", elapsed)
	if warn := t.db.config.WarnLongQueriesDuration; warn > 0 && elapsed > warn {
		logger.WarnContext(ctx, "long query", "tx_id", t.id, "statement", query, "elapsed", elapsed)
	}

	for _, i := range t.interceptors {
		if si, ok := i.(StatementInterceptor); ok {
			si.AfterExecution(t, query, elapsed, err)
		}
	}
}

// closeStatements closes the in-flight result set and every earlier one
// still open. All of them are attempted; failures are joined.
func (t *Transaction) closeStatements() error {
	var errs []error
	if t.current != nil && t.current.rows != nil {
		if err := t.current.rows.Close(); err != nil {
			errs = append(errs, err)
		}
		t.current = nil
	}
	for _, st := range t.executed {
		if err := st.rows.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.executed = nil
	return errors.Join(errs...)
}
