package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"txscope/internal/transaction"
)

// querier is the statement surface shared by *pgxpool.Conn and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Conn adapts a pooled pgx connection to transaction.Connection.
//
// pgx has no session autocommit switch. Turning autocommit off begins a
// pgx.Tx with the buffered isolation and access mode; after Commit or Rollback
// the next statement begins a new one.
type Conn struct {
	pc         *pgxpool.Conn
	tx         pgx.Tx
	opts       pgx.TxOptions
	autoCommit bool
	closed     bool
}

// NewConnector acquires connections from pool
func NewConnector(pool *pgxpool.Pool) transaction.Connector {
	return func(ctx context.Context) (transaction.Connection, error) {
		pc, err := pool.Acquire(ctx)
		if err != nil {
			return nil, acquireError(ctx, err)
		}
		return &Conn{pc: pc, autoCommit: true}, nil
	}
}

// acquireError marks acquisition failures retryable unless ctx was cancelled.
// Pool exhaustion and dial failures clear up on their own.
func acquireError(ctx context.Context, err error) error {
	err = fmt.Errorf("acquire connection: %w", err)
	if ctx.Err() != nil {
		return err
	}
	return transaction.Transient(err)
}

func (c *Conn) SetIsolation(_ context.Context, level transaction.IsolationLevel) error {
	if c.tx != nil {
		return errors.New("cannot change isolation level inside an open transaction")
	}
	c.opts.IsoLevel = txIsoLevel(level)
	return nil
}

func (c *Conn) SetReadOnly(_ context.Context, readOnly bool) error {
	if c.tx != nil {
		return errors.New("cannot change access mode inside an open transaction")
	}
	c.opts.AccessMode = txAccessMode(readOnly)
	return nil
}

func (c *Conn) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	if c.autoCommit == autoCommit {
		return nil
	}
	c.autoCommit = autoCommit
	if autoCommit {
		return c.Commit(ctx)
	}
	_, err := c.executor(ctx)
	return err
}

// executor returns the open pgx.Tx, beginning one when autocommit is off
func (c *Conn) executor(ctx context.Context) (querier, error) {
	if c.closed {
		return nil, transaction.ErrConnectionClosed
	}
	if c.autoCommit {
		return c.pc, nil
	}
	if c.tx == nil {
		tx, err := c.pc.BeginTx(ctx, c.opts)
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}
		c.tx = tx
	}
	return c.tx, nil
}

func (c *Conn) SetSavepoint(ctx context.Context, name string) (transaction.Savepoint, error) {
	if _, err := c.Exec(ctx, savepointSQL("SAVEPOINT", name)); err != nil {
		return transaction.Savepoint{}, err
	}
	return transaction.Savepoint{Name: name}, nil
}

func (c *Conn) ReleaseSavepoint(ctx context.Context, sp transaction.Savepoint) error {
	_, err := c.Exec(ctx, savepointSQL("RELEASE SAVEPOINT", sp.Name))
	return err
}

func (c *Conn) RollbackTo(ctx context.Context, sp transaction.Savepoint) error {
	_, err := c.Exec(ctx, savepointSQL("ROLLBACK TO SAVEPOINT", sp.Name))
	return err
}

func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit(ctx)
}

func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// Close rolls back any open transaction and returns the connection to the pool
func (c *Conn) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	err := c.Rollback(ctx)
	c.closed = true
	c.pc.Release()
	return err
}

func (c *Conn) IsClosed() bool {
	return c.closed
}

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	q, err := c.executor(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (transaction.Rows, error) {
	q, err := c.executor(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRows{Rows: rows}, nil
}

// pgxRows reports the iteration error from Close, as database/sql does
type pgxRows struct {
	pgx.Rows
}

func (r *pgxRows) Close() error {
	r.Rows.Close()
	return r.Rows.Err()
}

func savepointSQL(verb, name string) string {
	return verb + " " + pgx.Identifier{name}.Sanitize()
}

func txIsoLevel(level transaction.IsolationLevel) pgx.TxIsoLevel {
	switch level {
	case transaction.IsolationReadUncommitted:
		return pgx.ReadUncommitted
	case transaction.IsolationReadCommitted:
		return pgx.ReadCommitted
	case transaction.IsolationRepeatableRead:
		return pgx.RepeatableRead
	case transaction.IsolationSerializable:
		return pgx.Serializable
	default:
		return ""
	}
}

func txAccessMode(readOnly bool) pgx.TxAccessMode {
	if readOnly {
		return pgx.ReadOnly
	}
	return pgx.ReadWrite
}
