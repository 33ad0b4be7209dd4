package transaction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn records every call made on it. Failures are injected per
// operation name through failOn.
type fakeConn struct {
	mu         sync.Mutex
	calls      []string
	closed     bool
	autoCommit bool
	failOn     map[string]error
	rows       []*fakeRows
}

func newFakeConn() *fakeConn {
	return &fakeConn{autoCommit: true, failOn: map[string]error{}}
}

func (c *fakeConn) record(call string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	op, _, _ := strings.Cut(call, " ")
	return c.failOn[op]
}

func (c *fakeConn) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeConn) count(op string) int {
	n := 0
	for _, call := range c.Calls() {
		if call == op || strings.HasPrefix(call, op+" ") {
			n++
		}
	}
	return n
}

func (c *fakeConn) SetIsolation(_ context.Context, level IsolationLevel) error {
	return c.record("isolation " + level.String())
}

func (c *fakeConn) SetReadOnly(_ context.Context, readOnly bool) error {
	if readOnly {
		return c.record("readonly true")
	}
	return c.record("readonly false")
}

func (c *fakeConn) SetAutoCommit(_ context.Context, autoCommit bool) error {
	c.autoCommit = autoCommit
	if autoCommit {
		return c.record("autocommit true")
	}
	return c.record("autocommit false")
}

func (c *fakeConn) SetSavepoint(_ context.Context, name string) (Savepoint, error) {
	if err := c.record("savepoint " + name); err != nil {
		return Savepoint{}, err
	}
	return Savepoint{Name: name}, nil
}

func (c *fakeConn) ReleaseSavepoint(_ context.Context, sp Savepoint) error {
	return c.record("release " + sp.Name)
}

func (c *fakeConn) RollbackTo(_ context.Context, sp Savepoint) error {
	return c.record("rollbackto " + sp.Name)
}

func (c *fakeConn) Commit(context.Context) error { return c.record("commit") }
func (c *fakeConn) Rollback(context.Context) error { return c.record("rollback") }

func (c *fakeConn) Close(context.Context) error {
	err := c.record("close")
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (int64, error) {
	if err := c.record("exec " + sql); err != nil {
		return 0, err
	}
	return 1, nil
}

func (c *fakeConn) Query(_ context.Context, sql string, _ ...any) (Rows, error) {
	if err := c.record("query " + sql); err != nil {
		return nil, err
	}
	r := &fakeRows{closeErr: c.failOn["rowsclose"]}
	c.mu.Lock()
	c.rows = append(c.rows, r)
	c.mu.Unlock()
	return r, nil
}

type fakeRows struct {
	closed   int
	closeErr error
}

func (r *fakeRows) Next() bool { return false }
func (r *fakeRows) Scan(...any) error { return nil }
func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close() error { r.closed++; return r.closeErr }

// fakeConnector hands out fakeConns and remembers them.
type fakeConnector struct {
	mu      sync.Mutex
	conns   []*fakeConn
	failOn  map[string]error
	openErr error
}

func (f *fakeConnector) connect(context.Context) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	c := newFakeConn()
	for k, v := range f.failOn {
		c.failOn[k] = v
	}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeConnector) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeConnector) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

type testDB struct {
	db        *Database
	connector *fakeConnector
	sleeps    []time.Duration
}

func newTestDB(t *testing.T, mutate func(cfg *DatabaseConfig)) *testDB {
	t.Helper()
	td := &testDB{connector: &fakeConnector{failOn: map[string]error{}}}

	cfg := DefaultDatabaseConfig()
	cfg.Name = t.Name()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if mutate != nil {
		mutate(&cfg)
	}

	db, err := Connect(td.connector.connect, cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	m := db.Manager()
	m.sleep = func(_ context.Context, d time.Duration) { td.sleeps = append(td.sleeps, d) }
	m.random = func(int64) int64 { return 0 }

	td.db = db
	return td
}

var (
	errSerialization = Transient(errors.New("could not serialize access"))
	errBoom          = errors.New("boom")
)

type recordingInterceptor struct {
	events  []string
	queries [][]string
}

func (r *recordingInterceptor) BeforeExecution(_ *Transaction, query string) {
	r.events = append(r.events, "before "+query)
}

func (r *recordingInterceptor) AfterExecution(_ *Transaction, query string, _ time.Duration, err error) {
	if err != nil {
		r.events = append(r.events, "failed "+query)
		return
	}
	r.events = append(r.events, "after "+query)
}

func (r *recordingInterceptor) BeforeCommit(*Transaction) { r.events = append(r.events, "before commit") }
func (r *recordingInterceptor) AfterCommit(*Transaction) { r.events = append(r.events, "after commit") }
func (r *recordingInterceptor) BeforeRollback(*Transaction) { r.events = append(r.events, "before rollback") }
func (r *recordingInterceptor) AfterRollback(*Transaction) { r.events = append(r.events, "after rollback") }

func (r *recordingInterceptor) LogFailure(_ *Transaction, _ int, queries []string, _ error) {
	r.queries = append(r.queries, queries)
}

func (r *recordingInterceptor) CleanupFailed(_ *Transaction, stage string, _ error) {
	r.events = append(r.events, "cleanup "+stage)
}
