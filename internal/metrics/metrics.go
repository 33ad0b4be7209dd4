// Package metrics exports transaction activity to Prometheus. A *Metrics is
// registered as an interceptor through transaction.DatabaseConfig.Interceptors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"txscope/internal/transaction"
)

// Metrics holds the transaction collectors
type Metrics struct {
	// Finished transactions (database, scope: top/nested, outcome: commit/rollback)
	TransactionsTotal *prometheus.CounterVec

	// Attempts that failed with a retryable error (database)
	RetryableFailuresTotal *prometheus.CounterVec

	// Failures swallowed during cleanup (database, stage: statements/close)
	CleanupFailuresTotal *prometheus.CounterVec

	// Statement latency (database, status: ok/error)
	StatementDuration *prometheus.HistogramVec
}

var (
	_ transaction.StatementInterceptor = (*Metrics)(nil)
	_ transaction.CommitInterceptor    = (*Metrics)(nil)
	_ transaction.RollbackInterceptor  = (*Metrics)(nil)
	_ transaction.QueryLogger          = (*Metrics)(nil)
	_ transaction.CleanupObserver      = (*Metrics)(nil)
)

// New creates Metrics registered with the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txscope_transactions_total",
				Help: "Total number of finished transactions",
			},
			[]string{"database", "scope", "outcome"},
		),
		RetryableFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txscope_retryable_failures_total",
				Help: "Total number of transaction attempts that failed with a retryable error",
			},
			[]string{"database"},
		),
		CleanupFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txscope_cleanup_failures_total",
				Help: "Total number of failures ignored while cleaning up a transaction",
			},
			[]string{"database", "stage"},
		),
		StatementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txscope_statement_duration_seconds",
				Help:    "Statement latency in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"database", "status"},
		),
	}

	reg.MustRegister(
		m.TransactionsTotal,
		m.RetryableFailuresTotal,
		m.CleanupFailuresTotal,
		m.StatementDuration,
	)

	return m
}

func (m *Metrics) BeforeExecution(*transaction.Transaction, string) {}

func (m *Metrics) AfterExecution(tx *transaction.Transaction, _ string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StatementDuration.WithLabelValues(tx.Database().Name(), status).Observe(elapsed.Seconds())
}

func (m *Metrics) BeforeCommit(*transaction.Transaction) {}

func (m *Metrics) AfterCommit(tx *transaction.Transaction) {
	m.TransactionsTotal.WithLabelValues(tx.Database().Name(), scope(tx), "commit").Inc()
}

func (m *Metrics) BeforeRollback(*transaction.Transaction) {}

func (m *Metrics) AfterRollback(tx *transaction.Transaction) {
	m.TransactionsTotal.WithLabelValues(tx.Database().Name(), scope(tx), "rollback").Inc()
}

func (m *Metrics) LogFailure(tx *transaction.Transaction, _ int, _ []string, _ error) {
	m.RetryableFailuresTotal.WithLabelValues(tx.Database().Name()).Inc()
}

func (m *Metrics) CleanupFailed(tx *transaction.Transaction, stage string, _ error) {
	m.CleanupFailuresTotal.WithLabelValues(tx.Database().Name(), stage).Inc()
}

func scope(tx *transaction.Transaction) string {
	if tx.Outer() != nil {
		return "nested"
	}
	return "top"
}
