package transaction

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

var registry = struct {
	sync.RWMutex
	managers        map[*Database]*Manager
	defaultDB       *Database
	explicitDefault bool
}{managers: make(map[*Database]*Manager)}

func register(db *Database) *Manager {
	m := newManager(db)

	registry.Lock()
	defer registry.Unlock()
	registry.managers[db] = m
	if !registry.explicitDefault {
		registry.defaultDB = db
	}
	return m
}

func unregister(db *Database) {
	registry.Lock()
	defer registry.Unlock()
	delete(registry.managers, db)
	if registry.defaultDB == db {
		registry.defaultDB = nil
		registry.explicitDefault = false
	}
}

// ManagerFor returns the manager registered for db.
func ManagerFor(db *Database) (*Manager, error) {
	registry.RLock()
	defer registry.RUnlock()
	m, ok := registry.managers[db]
	if !ok {
		return nil, ErrDatabaseClosed
	}
	return m, nil
}

// SetDefaultDatabase pins the database used when none is given and no
// transaction is current. Passing nil goes back to "last connected wins".
func SetDefaultDatabase(db *Database) {
	registry.Lock()
	defer registry.Unlock()
	registry.defaultDB = db
	registry.explicitDefault = db != nil
}

func DefaultDatabase() *Database {
	registry.RLock()
	defer registry.RUnlock()
	return registry.defaultDB
}

// Manager creates transactions for one database and tracks which of them is
// current in each execution context.
type Manager struct {
	db     *Database
	logger *slog.Logger

	isolationOnce    sync.Once
	defaultIsolation IsolationLevel

	sleep  func(ctx context.Context, d time.Duration)
	random func(n int64) int64
}

func newManager(db *Database) *Manager {
	return &Manager{
		db:     db,
		logger: db.logger,
		sleep:  sleepContext,
		random: rand.Int64N,
	}
}

func (m *Manager) Database() *Database {
	return m.db
}

// DefaultIsolation resolves the configured isolation level once. An
// unspecified level resolves to read committed.
func (m *Manager) DefaultIsolation() IsolationLevel {
	m.isolationOnce.Do(func() {
		m.defaultIsolation = m.db.config.DefaultIsolation
		if m.defaultIsolation == IsolationUnspecified {
			m.defaultIsolation = IsolationReadCommitted
		}
	})
	return m.defaultIsolation
}

// DefaultOptions returns the options Run uses for this database.
func (m *Manager) DefaultOptions() Options {
	cfg := m.db.config
	return Options{
		Database:      m.db,
		Isolation:     m.DefaultIsolation(),
		ReadOnly:      cfg.DefaultReadOnly,
		MaxAttempts:   cfg.DefaultMaxAttempts,
		MinRetryDelay: cfg.DefaultMinRetryDelay,
		MaxRetryDelay: cfg.DefaultMaxRetryDelay,
	}
}

// NewTransaction creates a transaction and binds it as current in ctx's
// execution context. With nesting disabled an outer transaction is returned
// unchanged; otherwise the new transaction inherits the outer isolation and
// read-only settings and will work inside a savepoint.
func (m *Manager) NewTransaction(ctx context.Context, isolation IsolationLevel, readOnly bool, outer *Transaction) (*Transaction, error) {
	if outer != nil && outer.db != m.db {
		return nil, ErrForeignOuter
	}

	var tx *Transaction
	switch {
	case outer != nil && !m.db.config.UseNestedTransactions:
		tx = outer
	case outer != nil:
		tx = newTransaction(m, outer.isolation, outer.readOnly, outer)
	default:
		if isolation == IsolationUnspecified {
			isolation = m.DefaultIsolation()
		}
		tx = newTransaction(m, isolation, readOnly, nil)
	}

	m.BindTransaction(ctx, tx)
	return tx, nil
}

// CurrentOrNil returns the transaction of this manager bound in ctx.
func (m *Manager) CurrentOrNil(ctx context.Context) *Transaction {
	sc := scopeFrom(ctx)
	if sc == nil {
		return nil
	}
	return sc.get(m)
}

// BindTransaction sets the current transaction of this manager in ctx. A nil
// tx removes the binding. Without an execution context in ctx it does nothing.
func (m *Manager) BindTransaction(ctx context.Context, tx *Transaction) {
	sc := scopeFrom(ctx)
	if sc == nil {
		return
	}
	sc.set(m, tx)
}

func (m *Manager) isRetryable(err error) bool {
	if m.db.config.IsRetryable != nil {
		return m.db.config.IsRetryable(err)
	}
	return IsRetryable(err)
}

// sleepContext blocks for d. Cancellation of ctx ends the wait early and is
// otherwise ignored.
func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
