package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"txscope/internal/bench"
	"txscope/internal/config"
	"txscope/internal/metrics"
	"txscope/internal/middleware"
	"txscope/internal/repository/postgres"
	"txscope/internal/repository/sqldb"
	"txscope/internal/service/ledger"
	"txscope/internal/transaction"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Parse command-line flags
	schemaOnly := flag.Bool("schema-only", false, "Only create the ledger tables, don't seed or run")
	skipSeed := flag.Bool("skip-seed", false, "Keep existing balances instead of reseeding accounts")
	dropTables := flag.Bool("drop-tables", false, "Drop the ledger tables before creating them (fresh start)")
	flag.Parse()

	// Load .env file (silently ignore if it doesn't exist)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.IsDev() {
		logLevel = slog.LevelDebug
	}
	var out io.Writer = os.Stdout
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, "txbench", 10)
		if err != nil {
			log.Fatalf("Failed to setup log file: %v", err)
		}
		defer logFile.Close()
		out = io.MultiWriter(os.Stdout, logFile)
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("txbench starting",
		"environment", cfg.Environment,
		"driver", cfg.DBDriver,
		"table_prefix", cfg.TablePrefix,
		"isolation", cfg.Transaction.Isolation,
		"nested", cfg.Transaction.Nested,
	)

	connector, closeDB, err := openConnector(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB()

	dbCfg, err := cfg.DatabaseConfig("ledger", logger)
	if err != nil {
		log.Fatalf("Invalid transaction configuration: %v", err)
	}

	if cfg.MetricsAddr != "" {
		dbCfg.Interceptors = append(dbCfg.Interceptors, metrics.New())
		server := serveMetrics(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	db, err := transaction.Connect(connector, dbCfg)
	if err != nil {
		log.Fatalf("Failed to register database: %v", err)
	}
	defer db.Close()

	// Create repositories and services
	repoConfig := &postgres.RepositoryConfig{
		Database: db,
		Tables:   postgres.NewTableNames(cfg.TablePrefix),
		Logger:   logger,
	}
	accountRepo := postgres.NewAccountRepository(repoConfig)
	txManager := postgres.NewTransactionManager(db)
	ledgerService := ledger.NewService(accountRepo, txManager, cfg.Transaction.Nested, logger)

	// SAFETY: Prevent destructive operations in production
	if *dropTables {
		if cfg.Environment == "prod" {
			log.Fatalf("Cannot drop tables in production environment")
		}
		if err := accountRepo.DropSchema(ctx); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		logger.Info("tables dropped")
	}

	if err := accountRepo.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	logger.Info("schema ready")
	if *schemaOnly {
		return
	}

	runner := bench.NewRunner(ledgerService, cfg.Bench, logger)
	if !*skipSeed {
		if err := runner.Seed(ctx); err != nil {
			log.Fatalf("Failed to seed accounts: %v", err)
		}
	}

	stats, err := runner.Run(ctx)
	if err != nil {
		log.Fatalf("Benchmark failed: %v", err)
	}

	// Use a fresh context so an interrupted run can still be verified
	verifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	verifyErr := runner.Verify(verifyCtx)

	logger.Info("benchmark finished",
		"committed", stats.Committed,
		"insufficient_funds", stats.Insufficient,
		"failed", stats.Failed,
		"elapsed", stats.Elapsed,
		"throughput", stats.Throughput(),
		"balance_preserved", verifyErr == nil,
	)
	if verifyErr != nil {
		logger.Error("balance check failed", "error", verifyErr)
		os.Exit(1)
	}
}

// openConnector opens the configured driver and returns its connector and a
// function releasing the pool.
func openConnector(ctx context.Context, cfg *config.Config) (transaction.Connector, func(), error) {
	switch cfg.DBDriver {
	case "pgx":
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL, postgres.PoolConfig{
			MaxConns: int32(cfg.MaxConns),
		})
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewConnector(pool), pool.Close, nil
	default:
		db, err := sqldb.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		return sqldb.NewConnector(db), func() { _ = db.Close() }, nil
	}
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      middleware.Recovery(logger, "metrics")(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return server
}
