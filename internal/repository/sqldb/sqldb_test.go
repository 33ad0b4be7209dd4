package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"txscope/internal/transaction"
)

func TestSQLIsolation(t *testing.T) {
	tests := map[transaction.IsolationLevel]sql.IsolationLevel{
		transaction.IsolationUnspecified:     sql.LevelDefault,
		transaction.IsolationReadUncommitted: sql.LevelReadUncommitted,
		transaction.IsolationReadCommitted:   sql.LevelReadCommitted,
		transaction.IsolationRepeatableRead:  sql.LevelRepeatableRead,
		transaction.IsolationSerializable:    sql.LevelSerializable,
	}
	for level, want := range tests {
		assert.Equal(t, want, sqlIsolation(level), level.String())
	}
}

func TestConn_BuffersTxOptions(t *testing.T) {
	c := &Conn{autoCommit: true}
	ctx := context.Background()

	require.NoError(t, c.SetIsolation(ctx, transaction.IsolationRepeatableRead))
	require.NoError(t, c.SetReadOnly(ctx, true))
	assert.Equal(t, sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, c.opts)
	assert.NoError(t, c.Commit(ctx))
	assert.NoError(t, c.Rollback(ctx))
}

func TestConn_ClosedRejectsStatements(t *testing.T) {
	c := &Conn{closed: true}
	_, err := c.Exec(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, transaction.ErrConnectionClosed)
	assert.NoError(t, c.Close(context.Background()))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn", 0)
	assert.ErrorContains(t, err, "unsupported sql driver")
}

func TestAcquireError_RetryableLikePgx(t *testing.T) {
	dialErr := errors.New("dial tcp: connection refused")

	err := acquireError(context.Background(), dialErr)
	assert.ErrorIs(t, err, dialErr)
	assert.True(t, transaction.IsRetryable(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, transaction.IsRetryable(acquireError(ctx, context.Canceled)))
}
