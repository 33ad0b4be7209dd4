package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
	"txscope/internal/transaction"
)

type Config struct {
	Environment string
	DatabaseURL string
	DBDriver    string // pgx, pgx-stdlib or postgres
	MaxConns    int
	TablePrefix string
	LogDir      string
	MetricsAddr string

	Transaction TransactionConfig
	Bench       BenchConfig
}

// TransactionConfig holds the defaults applied to every transaction.
// It can be overridden by the YAML file named in TX_CONFIG_FILE.
type TransactionConfig struct {
	Isolation       string        `yaml:"isolation"`
	ReadOnly        bool          `yaml:"read_only"`
	MaxAttempts     int           `yaml:"max_attempts"`
	MinRetryDelay   time.Duration `yaml:"min_retry_delay"`
	MaxRetryDelay   time.Duration `yaml:"max_retry_delay"`
	Nested          bool          `yaml:"nested"`
	WarnLongQueries time.Duration `yaml:"warn_long_queries"`
}

// BenchConfig sizes the txbench workload
type BenchConfig struct {
	Accounts       int
	Workers        int
	Duration       time.Duration
	Transfers      int // stops early once reached, 0 means no limit
	InitialBalance int64
	MaxAmount      int64
}

func Load() (*Config, error) {
	env := getEnv("ENVIRONMENT", "dev")
	p := &envParser{}

	cfg := &Config{
		Environment: env,
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBDriver:    getEnv("DB_DRIVER", "pgx"),
		MaxConns:    p.int("DB_MAX_CONNS", 25),
		TablePrefix: getTablePrefix(env),
		LogDir:      getEnv("LOG_DIR", ""),
		MetricsAddr: getEnv("METRICS_ADDR", ""),
		Transaction: TransactionConfig{
			Isolation:       getEnv("TX_ISOLATION", ""),
			ReadOnly:        p.bool("TX_READ_ONLY", false),
			MaxAttempts:     p.int("TX_MAX_ATTEMPTS", 3),
			MinRetryDelay:   p.duration("TX_MIN_RETRY_DELAY", 0),
			MaxRetryDelay:   p.duration("TX_MAX_RETRY_DELAY", 0),
			Nested:          p.bool("TX_NESTED", false),
			WarnLongQueries: p.duration("TX_WARN_LONG_QUERIES", 0),
		},
		Bench: BenchConfig{
			Accounts:       p.int("BENCH_ACCOUNTS", 10),
			Workers:        p.int("BENCH_WORKERS", 8),
			Duration:       p.duration("BENCH_DURATION", 10*time.Second),
			Transfers:      p.int("BENCH_TRANSFERS", 0),
			InitialBalance: int64(p.int("BENCH_INITIAL_BALANCE", 1000)),
			MaxAmount:      int64(p.int("BENCH_MAX_AMOUNT", 100)),
		},
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	if path := os.Getenv("TX_CONFIG_FILE"); path != "" {
		if err := cfg.Transaction.loadFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadFile overrides the fields present in the YAML file at path
func (t *TransactionConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read transaction config: %w", err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return fmt.Errorf("parse transaction config %s: %w", path, err)
	}
	return nil
}

// Validate checks the settings a binary needs to start
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DatabaseURL, validation.Required),
		validation.Field(&c.DBDriver, validation.Required, validation.In("pgx", "pgx-stdlib", "postgres")),
		validation.Field(&c.MaxConns, validation.Min(1)),
	)
}

// DatabaseConfig maps the transaction defaults onto transaction.DatabaseConfig
func (c *Config) DatabaseConfig(name string, logger *slog.Logger) (transaction.DatabaseConfig, error) {
	isolation, err := transaction.ParseIsolationLevel(c.Transaction.Isolation)
	if err != nil {
		return transaction.DatabaseConfig{}, fmt.Errorf("TX_ISOLATION: %w", err)
	}

	dbCfg := transaction.DefaultDatabaseConfig()
	dbCfg.Name = name
	dbCfg.DefaultIsolation = isolation
	dbCfg.DefaultReadOnly = c.Transaction.ReadOnly
	dbCfg.DefaultMaxAttempts = c.Transaction.MaxAttempts
	dbCfg.DefaultMinRetryDelay = c.Transaction.MinRetryDelay
	dbCfg.DefaultMaxRetryDelay = c.Transaction.MaxRetryDelay
	dbCfg.UseNestedTransactions = c.Transaction.Nested
	dbCfg.WarnLongQueriesDuration = c.Transaction.WarnLongQueries
	dbCfg.Logger = logger
	return dbCfg, dbCfg.Validate()
}

// IsDev reports whether debug logging should be on
func (c *Config) IsDev() bool {
	return c.Environment != "prod"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envParser reads typed variables and collects every parse error
type envParser struct {
	errs []error
}

func (p *envParser) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func (p *envParser) bool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return b
}

func (p *envParser) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}
