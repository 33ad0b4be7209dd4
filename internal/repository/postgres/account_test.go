package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"txscope/internal/domain"
	"txscope/internal/domain/models"
	"txscope/internal/transaction"
)

// scriptedConn answers queries by the first matching prefix
type scriptedConn struct {
	mu      sync.Mutex
	results map[string][][]any
	errs    map[string]error
	log     []string
	closed  bool
}

func (c *scriptedConn) record(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, s)
}

func (c *scriptedConn) match(sql string) (string, bool) {
	normalized := strings.Join(strings.Fields(sql), " ")
	for prefix := range c.results {
		if strings.HasPrefix(normalized, prefix) {
			return prefix, true
		}
	}
	for prefix := range c.errs {
		if strings.HasPrefix(normalized, prefix) {
			return prefix, true
		}
	}
	return normalized, false
}

func (c *scriptedConn) SetIsolation(context.Context, transaction.IsolationLevel) error { return nil }
func (c *scriptedConn) SetReadOnly(context.Context, bool) error { return nil }
func (c *scriptedConn) SetAutoCommit(context.Context, bool) error { return nil }
func (c *scriptedConn) SetSavepoint(_ context.Context, name string) (transaction.Savepoint, error) {
	return transaction.Savepoint{Name: name}, nil
}
func (c *scriptedConn) ReleaseSavepoint(context.Context, transaction.Savepoint) error { return nil }
func (c *scriptedConn) RollbackTo(context.Context, transaction.Savepoint) error { return nil }
func (c *scriptedConn) Commit(context.Context) error { c.record("commit"); return nil }
func (c *scriptedConn) Rollback(context.Context) error { c.record("rollback"); return nil }
func (c *scriptedConn) Close(context.Context) error { c.closed = true; return nil }
func (c *scriptedConn) IsClosed() bool { return c.closed }

func (c *scriptedConn) Exec(_ context.Context, sql string, _ ...any) (int64, error) {
	key, _ := c.match(sql)
	c.record(key)
	if err := c.errs[key]; err != nil {
		return 0, err
	}
	return 1, nil
}

func (c *scriptedConn) Query(_ context.Context, sql string, _ ...any) (transaction.Rows, error) {
	key, _ := c.match(sql)
	c.record(key)
	if err := c.errs[key]; err != nil {
		return nil, err
	}
	return &scriptedRows{rows: c.results[key]}, nil
}

type scriptedRows struct {
	rows [][]any
	pos  int
}

func (r *scriptedRows) Next() bool {
	r.pos++
	return r.pos <= len(r.rows)
}

func (r *scriptedRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = row[i].(int64)
		case *string:
			*p = row[i].(string)
		case *time.Time:
			*p = row[i].(time.Time)
		default:
			return errors.New("unsupported scan type")
		}
	}
	return nil
}

func (r *scriptedRows) Err() error { return nil }
func (r *scriptedRows) Close() error { return nil }

func newScriptedRepo(t *testing.T, conn *scriptedConn) *PostgresAccountRepository {
	t.Helper()
	cfg := transaction.DefaultDatabaseConfig()
	cfg.Name = t.Name()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := transaction.Connect(func(context.Context) (transaction.Connection, error) { return conn, nil }, cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	return NewAccountRepository(&RepositoryConfig{
		Database: db,
		Tables:   NewTableNames("test_"),
		Logger:   cfg.Logger,
	}).(*PostgresAccountRepository)
}

func TestAddBalance_Credit(t *testing.T) {
	conn := &scriptedConn{results: map[string][][]any{
		"UPDATE test_accounts": {{int64(150)}},
	}}
	repo := newScriptedRepo(t, conn)

	balance, err := repo.AddBalance(context.Background(), "a", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance)
	assert.Equal(t, []string{"UPDATE test_accounts", "commit"}, conn.log)
}

func TestAddBalance_Overdraw(t *testing.T) {
	conn := &scriptedConn{results: map[string][][]any{
		"UPDATE test_accounts":                     {},
		"SELECT balance FROM test_accounts WHERE": {{int64(20)}},
	}}
	repo := newScriptedRepo(t, conn)

	_, err := repo.AddBalance(context.Background(), "a", -50)
	var insufficient *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(20), insufficient.Balance)
	assert.Equal(t, int64(50), insufficient.Amount)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Contains(t, conn.log, "rollback")
}

func TestAddBalance_MissingAccount(t *testing.T) {
	conn := &scriptedConn{results: map[string][][]any{
		"UPDATE test_accounts":                     {},
		"SELECT balance FROM test_accounts WHERE": {},
	}}
	repo := newScriptedRepo(t, conn)

	_, err := repo.AddBalance(context.Background(), "ghost", 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetByID_NotFound(t *testing.T) {
	conn := &scriptedConn{results: map[string][][]any{
		"SELECT id, balance, created_at, updated_at FROM test_accounts": {},
	}}
	repo := newScriptedRepo(t, conn)

	_, err := repo.GetByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordTransfer_MapsConstraintErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
		want error
	}{
		{"duplicate", "23505", domain.ErrConflict},
		{"unknown account", "23503", domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &scriptedConn{errs: map[string]error{
				"INSERT INTO test_transfers": &pgconn.PgError{Code: tt.code},
			}}
			repo := newScriptedRepo(t, conn)

			err := repo.RecordTransfer(context.Background(), &models.Transfer{ID: "t1", FromID: "a", ToID: "b", Amount: 5})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRepository_JoinsCurrentTransaction(t *testing.T) {
	conn := &scriptedConn{results: map[string][][]any{
		"UPDATE test_accounts":                      {{int64(1)}},
		"SELECT COALESCE(SUM(balance), 0)::BIGINT": {{int64(7)}},
	}}
	repo := newScriptedRepo(t, conn)

	total, err := transaction.Run(context.Background(), repo.db, func(ctx context.Context, tx *transaction.Transaction) (int64, error) {
		if _, err := repo.AddBalance(ctx, "a", 1); err != nil {
			return 0, err
		}
		return repo.TotalBalance(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	assert.Equal(t, []string{"UPDATE test_accounts", "SELECT COALESCE(SUM(balance), 0)::BIGINT", "commit"}, conn.log)
}

func TestDropSchema_DropsTransfersFirst(t *testing.T) {
	conn := &scriptedConn{}
	repo := newScriptedRepo(t, conn)

	require.NoError(t, repo.DropSchema(context.Background()))
	assert.Equal(t, []string{"DROP TABLE IF EXISTS test_transfers, test_accounts", "commit"}, conn.log)
}

func TestTransactionManager_ExecTx(t *testing.T) {
	conn := &scriptedConn{}
	repo := newScriptedRepo(t, conn)
	ctx := context.Background()

	txm := NewTransactionManager(repo.db)
	err := txm.ExecTx(ctx, func(ctx context.Context) error {
		require.NotNil(t, transaction.Current(ctx))
		return repo.DropSchema(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"DROP TABLE IF EXISTS test_transfers, test_accounts", "commit"}, conn.log)

	fatal := errors.New("boom")
	err = txm.ExecTx(ctx, func(context.Context) error { return fatal })
	assert.Same(t, fatal, err)

	invalid := NewTransactionManagerWithOptions(transaction.Options{Database: repo.db, MaxAttempts: -1})
	assert.ErrorContains(t, invalid.ExecTx(ctx, func(context.Context) error { return nil }), "invalid transaction options")
}
