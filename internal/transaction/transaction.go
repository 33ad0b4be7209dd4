package transaction

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// savepointPrefix is followed by the nesting depth of the transaction.
const savepointPrefix = "Exposed_savepoint_"

type connState int

const (
	connPending connState = iota
	connAcquired
)

// Transaction is one unit of work. It acquires its connection on first use:
// a top-level transaction opens and configures a fresh one, a nested one
// shares its outer transaction's connection and works inside a savepoint.
//
// A Transaction belongs to a single execution context and is not safe for
// concurrent use.
type Transaction struct {
	id        string
	db        *Database
	manager   *Manager
	isolation IsolationLevel
	readOnly  bool
	outer     *Transaction

	state     connState
	conn      Connection
	savepoint *Savepoint

	current  *statement
	executed []*statement

	interceptors []any
	loggers      []QueryLogger

	startedAt      time.Time
	statementCount int
	duration       time.Duration
}

func newTransaction(m *Manager, isolation IsolationLevel, readOnly bool, outer *Transaction) *Transaction {
	tx := &Transaction{
		id:        uuid.NewString(),
		db:        m.db,
		manager:   m,
		isolation: isolation,
		readOnly:  readOnly,
		outer:     outer,
		startedAt: time.Now(),
	}
	for _, i := range m.db.config.Interceptors {
		tx.RegisterInterceptor(i)
	}
	return tx
}

func (t *Transaction) ID() string { return t.id }
func (t *Transaction) Database() *Database { return t.db }
func (t *Transaction) Isolation() IsolationLevel { return t.isolation }
func (t *Transaction) ReadOnly() bool { return t.readOnly }
func (t *Transaction) Outer() *Transaction { return t.outer }
func (t *Transaction) StatementCount() int { return t.statementCount }
func (t *Transaction) Duration() time.Duration { return t.duration }
func (t *Transaction) Elapsed() time.Duration { return time.Since(t.startedAt) }
func (t *Transaction) ConnectionAcquired() bool { return t.state == connAcquired }

// CurrentStatement returns the SQL of the statement in flight, or of the one
// that failed last, or "".
func (t *Transaction) CurrentStatement() string {
	if t.current == nil {
		return ""
	}
	return t.current.query
}

// Depth counts the outer links strictly between this transaction and the
// top-level one; the direct child of a top-level transaction has depth 0.
func (t *Transaction) Depth() int {
	depth := 0
	for cur := t.outer; cur != nil && cur.outer != nil; cur = cur.outer {
		depth++
	}
	return depth
}

func (t *Transaction) SavepointName() string {
	return savepointPrefix + strconv.Itoa(t.Depth())
}

func (t *Transaction) usesSavepoints() bool {
	return t.outer != nil && t.db.config.UseNestedTransactions
}

// Connection returns the connection of this transaction, acquiring it on
// first use.
func (t *Transaction) Connection(ctx context.Context) (Connection, error) {
	if t.state == connAcquired {
		return t.conn, nil
	}

	var conn Connection
	if t.outer != nil {
		outerConn, err := t.outer.Connection(ctx)
		if err != nil {
			return nil, err
		}
		conn = outerConn
	} else {
		fresh, err := t.db.connector(ctx)
		if err != nil {
			return nil, fmt.Errorf("open connection: %w", err)
		}
		if err := t.configure(ctx, fresh); err != nil {
			if closeErr := fresh.Close(ctx); closeErr != nil {
				t.manager.logger.Warn("close of misconfigured connection failed", "tx_id", t.id, "error", closeErr)
			}
			return nil, err
		}
		conn = fresh
	}

	if t.usesSavepoints() {
		sp, err := conn.SetSavepoint(ctx, t.SavepointName())
		if err != nil {
			return nil, fmt.Errorf("set savepoint: %w", err)
		}
		t.savepoint = &sp
	}

	t.conn = conn
	t.state = connAcquired
	return conn, nil
}

// configure applies isolation, then read-only, then turns autocommit off.
// Drivers may open a transaction on the autocommit change and reject the
// other two afterwards, so the order is fixed.
func (t *Transaction) configure(ctx context.Context, conn Connection) error {
	if err := conn.SetIsolation(ctx, t.isolation); err != nil {
		return fmt.Errorf("set isolation level: %w", err)
	}
	if err := conn.SetReadOnly(ctx, t.readOnly); err != nil {
		return fmt.Errorf("set read only: %w", err)
	}
	if err := conn.SetAutoCommit(ctx, false); err != nil {
		return fmt.Errorf("disable autocommit: %w", err)
	}
	return nil
}

// Commit commits the physical transaction. Inside a savepoint it only runs
// the commit interceptors; durability is decided by the outermost
// transaction. Nothing happens if no connection was acquired.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.state != connAcquired {
		return nil
	}
	for _, i := range t.interceptors {
		if ci, ok := i.(CommitInterceptor); ok {
			ci.BeforeCommit(t)
		}
	}
	if !t.usesSavepoints() {
		if err := t.conn.Commit(ctx); err != nil {
			return err
		}
	}
	for _, i := range t.interceptors {
		if ci, ok := i.(CommitInterceptor); ok {
			ci.AfterCommit(t)
		}
	}
	return nil
}

// Rollback undoes the work of this transaction. Inside a savepoint it rolls
// back to the savepoint and sets a new one under the same name so the
// transaction stays usable.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.state != connAcquired || t.conn.IsClosed() {
		return nil
	}
	for _, i := range t.interceptors {
		if ri, ok := i.(RollbackInterceptor); ok {
			ri.BeforeRollback(t)
		}
	}
	if t.usesSavepoints() {
		if t.savepoint != nil {
			if err := t.conn.RollbackTo(ctx, *t.savepoint); err != nil {
				return err
			}
			sp, err := t.conn.SetSavepoint(ctx, t.SavepointName())
			if err != nil {
				t.savepoint = nil
				return fmt.Errorf("set savepoint: %w", err)
			}
			t.savepoint = &sp
		}
	} else if err := t.conn.Rollback(ctx); err != nil {
		return err
	}
	for _, i := range t.interceptors {
		if ri, ok := i.(RollbackInterceptor); ok {
			ri.AfterRollback(t)
		}
	}
	return nil
}

// Close closes the connection of a top-level transaction, or releases the
// savepoint of a nested one. The binding in ctx is handed back to the outer
// transaction even when that fails.
func (t *Transaction) Close(ctx context.Context) error {
	defer t.manager.BindTransaction(ctx, t.outer)

	if !t.usesSavepoints() {
		if t.state == connAcquired && !t.conn.IsClosed() {
			return t.conn.Close(ctx)
		}
		return nil
	}
	if t.savepoint == nil {
		return nil
	}
	sp := *t.savepoint
	t.savepoint = nil
	return t.conn.ReleaseSavepoint(ctx, sp)
}

// RegisterInterceptor adds i to this transaction. Values implementing
// QueryLogger are also added as loggers.
func (t *Transaction) RegisterInterceptor(i any) {
	t.interceptors = append(t.interceptors, i)
	if l, ok := i.(QueryLogger); ok {
		t.loggers = append(t.loggers, l)
	}
}
