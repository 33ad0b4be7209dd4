package transaction

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var (
	// ErrNoDatabase is returned when no database was given, none is current
	// and no default database is registered.
	ErrNoDatabase = errors.New("no database connected")

	// ErrDatabaseClosed is returned when running against a closed database.
	ErrDatabaseClosed = errors.New("database closed")

	// ErrForeignOuter is returned when an outer transaction belongs to a
	// different database than the manager asked to nest into it.
	ErrForeignOuter = errors.New("outer transaction belongs to a different database")

	// ErrConnectionClosed is returned by connections used after Close.
	ErrConnectionClosed = errors.New("connection closed")
)

// StatementError carries the SQL text of the statement that failed.
type StatementError struct {
	Query string
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("execute %q: %v", e.Query, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable regardless of its origin.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsRetryable reports whether err is a transient database failure worth
// replaying the whole unit of work for.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transient *transientError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableSQLState(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return retryableSQLState(string(pqErr.Code))
	}

	// Failures before anything reached the server (dial, TLS, ...).
	return pgconn.SafeToRetry(err)
}

func retryableSQLState(code string) bool {
	if len(code) != 5 {
		return false
	}
	switch code[:2] {
	case "40": // transaction_rollback: serialization_failure, deadlock_detected
		return true
	case "08": // connection_exception
		return true
	case "53": // insufficient_resources
		return true
	}
	switch code {
	case "57P01", "57P02", "57P03": // admin_shutdown, crash_shutdown, cannot_connect_now
		return true
	}
	return false
}

// failedQueries collects the SQL text of every StatementError in err's tree.
func failedQueries(err error) []string {
	var queries []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if se, ok := e.(*StatementError); ok {
			queries = append(queries, se.Query)
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return queries
}
