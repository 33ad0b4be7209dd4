package transaction

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Work is a unit of work. It runs with a ctx carrying the execution context
// in which tx is current; nested Run calls must be given that ctx.
type Work[T any] func(ctx context.Context, tx *Transaction) (T, error)

// Options configures one Run. Isolation left unspecified falls back to the
// database default; every other field is taken as given.
type Options struct {
	Database      *Database
	Isolation     IsolationLevel
	ReadOnly      bool
	MaxAttempts   int
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration
}

func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Isolation, validation.Min(IsolationUnspecified), validation.Max(IsolationSerializable)),
		validation.Field(&o.MaxAttempts, validation.Min(0)),
		validation.Field(&o.MinRetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&o.MaxRetryDelay, validation.Min(time.Duration(0))),
	)
}

// Run executes work in a transaction on db using the database defaults. A
// nil db means the database of the current transaction, or the default
// database when none is current.
//
// When a transaction for the same database is already current in ctx the
// work runs nested inside it instead of starting a new retry loop. Either
// way the execution context is left exactly as it was found.
func Run[T any](ctx context.Context, db *Database, work Work[T]) (T, error) {
	return run(ctx, db, nil, work)
}

// RunWith is Run with explicit isolation, read-only and retry settings.
func RunWith[T any](ctx context.Context, opts Options, work Work[T]) (T, error) {
	if err := opts.Validate(); err != nil {
		var zero T
		return zero, fmt.Errorf("invalid transaction options: %w", err)
	}
	return run(ctx, opts.Database, &opts, work)
}

func run[T any](ctx context.Context, db *Database, opts *Options, work Work[T]) (T, error) {
	var zero T
	ctx = WithExecutionContext(ctx)
	sc := scopeFrom(ctx)

	if outer := sc.current(); outer != nil && (db == nil || outer.db == db) {
		m := outer.manager
		return runNested(ctx, sc, m, resolveOptions(m, opts), outer, work)
	}

	if db == nil {
		db = DefaultDatabase()
		if db == nil {
			return zero, ErrNoDatabase
		}
	}
	m, err := ManagerFor(db)
	if err != nil {
		return zero, err
	}
	o := resolveOptions(m, opts)

	// Another database is active, but this one already has a transaction
	// in the same execution context.
	if existing := sc.get(m); existing != nil {
		return runNested(ctx, sc, m, o, existing, work)
	}
	return runTopLevel(ctx, sc, m, o, work)
}

func resolveOptions(m *Manager, opts *Options) Options {
	if opts == nil {
		return m.DefaultOptions()
	}
	o := *opts
	o.Database = m.db
	if o.Isolation == IsolationUnspecified {
		o.Isolation = m.DefaultIsolation()
	}
	return o
}

func runNested[T any](ctx context.Context, sc *scope, m *Manager, o Options, outer *Transaction, work Work[T]) (result T, err error) {
	var zero T
	saved := sc.save(m)
	sc.activate(m)

	tx, err := m.NewTransaction(ctx, o.Isolation, o.ReadOnly, outer)
	if err != nil {
		sc.restore(saved)
		return zero, err
	}
	// With nesting disabled tx is outer itself and its lifecycle belongs to
	// whoever started it.
	owned := tx != outer

	defer func() {
		r := recover()
		if owned {
			if r != nil {
				m.rollbackLogging(ctx, tx, fmt.Errorf("panic: %v", r))
			}
			closeStatementsAndConnection(ctx, tx)
		}
		sc.restore(saved)
		if r != nil {
			panic(r)
		}
	}()

	result, err = work(ctx, tx)
	if err == nil && owned {
		err = tx.Commit(ctx)
	}
	if err != nil {
		if owned {
			m.rollbackLogging(ctx, tx, err)
		}
		return zero, err
	}
	return result, nil
}

func runTopLevel[T any](ctx context.Context, sc *scope, m *Manager, o Options, work Work[T]) (T, error) {
	var zero T
	delays := newBackoff(o, m.random)
	attempts := 0

	for {
		result, err := runAttempt(ctx, sc, m, o, attempts+1, work)
		if err == nil {
			return result, nil
		}
		if !m.isRetryable(err) {
			return zero, err
		}

		attempts++
		if attempts >= o.MaxAttempts {
			return zero, err
		}

		delay := delays.next(attempts)
		m.logger.WarnContext(ctx, "waiting before retrying transaction", "attempt", attempts, "delay", delay)
		m.sleep(ctx, delay)
	}
}

// runAttempt runs work once in a fresh top-level transaction. Cleanup and the
// restore of the execution context happen on every exit path.
func runAttempt[T any](ctx context.Context, sc *scope, m *Manager, o Options, attempt int, work Work[T]) (result T, err error) {
	var zero T
	saved := sc.save(m)
	sc.activate(m)

	tx, err := m.NewTransaction(ctx, o.Isolation, o.ReadOnly, nil)
	if err != nil {
		sc.restore(saved)
		return zero, err
	}

	defer func() {
		r := recover()
		if r != nil {
			m.rollbackLogging(ctx, tx, fmt.Errorf("panic: %v", r))
		}
		closeStatementsAndConnection(ctx, tx)
		sc.restore(saved)
		if r != nil {
			panic(r)
		}
	}()

	result, err = work(ctx, tx)
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err == nil {
		m.logger.DebugContext(ctx, "transaction committed",
			"tx_id", tx.id,
			"attempt", attempt,
			"statements", tx.StatementCount(),
			"statement_time", tx.Duration(),
			"elapsed", tx.Elapsed(),
		)
		return result, nil
	}

	if m.isRetryable(err) {
		m.handleRetryable(ctx, tx, attempt, err)
	} else {
		m.rollbackLogging(ctx, tx, err)
	}
	return zero, err
}
