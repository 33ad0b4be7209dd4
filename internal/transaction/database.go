package transaction

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DatabaseConfig holds the transaction defaults of one database handle.
// It is copied on Connect and never changes afterwards.
type DatabaseConfig struct {
	// Name identifies the database in log records and metrics.
	Name string

	DefaultIsolation     IsolationLevel
	DefaultReadOnly      bool
	DefaultMaxAttempts   int
	DefaultMinRetryDelay time.Duration
	DefaultMaxRetryDelay time.Duration

	// UseNestedTransactions makes nested units of work run inside savepoints.
	// When false a nested unit of work reuses the outer transaction as is.
	UseNestedTransactions bool

	// WarnLongQueriesDuration logs statements slower than this at warn level.
	// Zero disables the warning.
	WarnLongQueriesDuration time.Duration

	Logger *slog.Logger

	// Interceptors are registered on every transaction of this database.
	// Each value may implement any of StatementInterceptor, CommitInterceptor,
	// RollbackInterceptor, QueryLogger and CleanupObserver.
	Interceptors []any

	// IsRetryable overrides the default transient-failure classification.
	IsRetryable func(error) bool
}

// DefaultDatabaseConfig returns the defaults used when nothing is configured.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Name:               "default",
		DefaultMaxAttempts: 3,
	}
}

func (c DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.DefaultIsolation, validation.Min(IsolationUnspecified), validation.Max(IsolationSerializable)),
		validation.Field(&c.DefaultMaxAttempts, validation.Min(0)),
		validation.Field(&c.DefaultMinRetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.DefaultMaxRetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.WarnLongQueriesDuration, validation.Min(time.Duration(0))),
	)
}

// Database is a handle on one logical database: its connector plus the
// defaults its Manager hands to new transactions.
type Database struct {
	config    DatabaseConfig
	connector Connector
	logger    *slog.Logger
}

// Connect validates cfg, registers a Manager for the new handle and makes it
// the default database unless another one was chosen with SetDefaultDatabase.
func Connect(connector Connector, cfg DatabaseConfig) (*Database, error) {
	if connector == nil {
		return nil, errors.New("connector is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Interceptors = append([]any(nil), cfg.Interceptors...)

	db := &Database{
		config:    cfg,
		connector: connector,
		logger:    logger.With("database", cfg.Name),
	}
	register(db)
	return db, nil
}

func (db *Database) Name() string {
	return db.config.Name
}

// Config returns a copy of the configuration the database was connected with.
func (db *Database) Config() DatabaseConfig {
	cfg := db.config
	cfg.Interceptors = append([]any(nil), db.config.Interceptors...)
	return cfg
}

// Manager returns the registered manager, or nil once the database is closed.
func (db *Database) Manager() *Manager {
	m, err := ManagerFor(db)
	if err != nil {
		return nil
	}
	return m
}

// Close unregisters the database. Connections are owned by the connector and
// are not touched.
func (db *Database) Close() {
	unregister(db)
}
