// Package sqldb adapts database/sql drivers, through sqlx, to transaction.Connection.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" driver
	"txscope/internal/transaction"
)

// Driver names accepted by Open
const (
	DriverPgxStdlib = "pgx-stdlib"
	DriverPq        = "postgres"
)

// Open connects to databaseURL through the named database/sql driver
func Open(ctx context.Context, driver, databaseURL string, maxConns int) (*sqlx.DB, error) {
	var name string
	switch driver {
	case DriverPgxStdlib:
		name = "pgx"
	case DriverPq:
		name = "postgres"
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, name, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	return db, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
}

// Conn is one *sqlx.Conn taken from the pool. Isolation and access mode are
// buffered into sql.TxOptions and applied when autocommit is turned off.
type Conn struct {
	conn       *sqlx.Conn
	tx         *sqlx.Tx
	opts       sql.TxOptions
	autoCommit bool
	closed     bool
}

// NewConnector takes dedicated connections from db
func NewConnector(db *sqlx.DB) transaction.Connector {
	return func(ctx context.Context) (transaction.Connection, error) {
		conn, err := db.Connx(ctx)
		if err != nil {
			return nil, acquireError(ctx, err)
		}
		return &Conn{conn: conn, autoCommit: true}, nil
	}
}

// acquireError marks acquisition failures retryable unless ctx was cancelled,
// matching the pgx connector.
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
	c.opts.Isolation = sqlIsolation(level)
	return nil
}

func (c *Conn) SetReadOnly(_ context.Context, readOnly bool) error {
	if c.tx != nil {
		return errors.New("cannot change access mode inside an open transaction")
	}
	c.opts.ReadOnly = readOnly
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

func (c *Conn) executor(ctx context.Context) (execer, error) {
	if c.closed {
		return nil, transaction.ErrConnectionClosed
	}
	if c.autoCommit {
		return c.conn, nil
	}
	if c.tx == nil {
		tx, err := c.conn.BeginTxx(ctx, &c.opts)
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}
		c.tx = tx
	}
	return c.tx, nil
}

func (c *Conn) SetSavepoint(ctx context.Context, name string) (transaction.Savepoint, error) {
	if _, err := c.Exec(ctx, "SAVEPOINT "+quoteIdent(name)); err != nil {
		return transaction.Savepoint{}, err
	}
	return transaction.Savepoint{Name: name}, nil
}

func (c *Conn) ReleaseSavepoint(ctx context.Context, sp transaction.Savepoint) error {
	_, err := c.Exec(ctx, "RELEASE SAVEPOINT "+quoteIdent(sp.Name))
	return err
}

func (c *Conn) RollbackTo(ctx context.Context, sp transaction.Savepoint) error {
	_, err := c.Exec(ctx, "ROLLBACK TO SAVEPOINT "+quoteIdent(sp.Name))
	return err
}

func (c *Conn) Commit(_ context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit()
}

func (c *Conn) Rollback(_ context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Close rolls back any open transaction and returns the connection to the pool
func (c *Conn) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	rollbackErr := c.Rollback(ctx)
	c.closed = true
	return errors.Join(rollbackErr, c.conn.Close())
}

func (c *Conn) IsClosed() bool {
	return c.closed
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	ex, err := c.executor(ctx)
	if err != nil {
		return 0, err
	}
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Not every statement reports a count
		return 0, nil
	}
	return n, nil
}

func (c *Conn) Query(ctx context.Context, query string, args ...any) (transaction.Rows, error) {
	ex, err := c.executor(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func sqlIsolation(level transaction.IsolationLevel) sql.IsolationLevel {
	switch level {
	case transaction.IsolationReadUncommitted:
		return sql.LevelReadUncommitted
	case transaction.IsolationReadCommitted:
		return sql.LevelReadCommitted
	case transaction.IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case transaction.IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
