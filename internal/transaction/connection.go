package transaction

import (
	"context"
	"fmt"
	"strings"
)

// IsolationLevel is the SQL transaction isolation level requested for a connection.
type IsolationLevel int

const (
	// IsolationUnspecified defers to the database default.
	IsolationUnspecified IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

func (l IsolationLevel) String() string {
	switch l {
	case IsolationReadUncommitted:
		return "READ UNCOMMITTED"
	case IsolationReadCommitted:
		return "READ COMMITTED"
	case IsolationRepeatableRead:
		return "REPEATABLE READ"
	case IsolationSerializable:
		return "SERIALIZABLE"
	default:
		return "UNSPECIFIED"
	}
}

// ParseIsolationLevel accepts the SQL spelling ("repeatable read") or the
// snake_case one ("repeatable_read"), case-insensitively. An empty string
// yields IsolationUnspecified.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	normalized := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", " ")))
	switch normalized {
	case "":
		return IsolationUnspecified, nil
	case "read uncommitted":
		return IsolationReadUncommitted, nil
	case "read committed":
		return IsolationReadCommitted, nil
	case "repeatable read":
		return IsolationRepeatableRead, nil
	case "serializable":
		return IsolationSerializable, nil
	}
	return IsolationUnspecified, fmt.Errorf("unknown isolation level %q", s)
}

// Savepoint is a named marker inside an open physical transaction.
type Savepoint struct {
	Name string
}

// Rows is a result set left open by a query.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Connection is a single physical database connection.
//
// Implementations must accept SetIsolation and SetReadOnly before
// SetAutoCommit(ctx, false); once autocommit is off a driver may already have
// an open transaction and refuse characteristic changes.
type Connection interface {
	SetIsolation(ctx context.Context, level IsolationLevel) error
	SetReadOnly(ctx context.Context, readOnly bool) error
	SetAutoCommit(ctx context.Context, autoCommit bool) error

	SetSavepoint(ctx context.Context, name string) (Savepoint, error)
	ReleaseSavepoint(ctx context.Context, sp Savepoint) error
	RollbackTo(ctx context.Context, sp Savepoint) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
	IsClosed() bool

	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// Connector opens a fresh physical connection. Pooling, if any, lives behind it.
type Connector func(ctx context.Context) (Connection, error)
