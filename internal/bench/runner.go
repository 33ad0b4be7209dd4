// Package bench drives concurrent transfers through the ledger to provoke
// serialization failures and deadlocks, and reports how they were resolved.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"txscope/internal/config"
	"txscope/internal/domain"
	"txscope/internal/domain/models"
	"txscope/internal/domain/services"
)

// Stats summarizes a run
type Stats struct {
	Committed    int64
	Insufficient int64
	Failed       int64
	Elapsed      time.Duration
}

// Throughput is committed transfers per second
func (s Stats) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Committed) / s.Elapsed.Seconds()
}

type Runner struct {
	ledger services.LedgerService
	cfg    config.BenchConfig
	logger *slog.Logger
}

func NewRunner(ledger services.LedgerService, cfg config.BenchConfig, logger *slog.Logger) *Runner {
	return &Runner{ledger: ledger, cfg: cfg, logger: logger}
}

// AccountID names the i-th seeded account
func AccountID(i int) string {
	return fmt.Sprintf("acct-%04d", i)
}

// Seed opens every account with the initial balance
func (r *Runner) Seed(ctx context.Context) error {
	for i := 0; i < r.cfg.Accounts; i++ {
		if _, err := r.ledger.OpenAccount(ctx, AccountID(i), r.cfg.InitialBalance); err != nil {
			return fmt.Errorf("seed %s: %w", AccountID(i), err)
		}
	}
	r.logger.Info("accounts seeded", "accounts", r.cfg.Accounts, "balance", r.cfg.InitialBalance)
	return nil
}

// Run starts the workers and waits until the duration elapses, the transfer
// budget is spent or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	if r.cfg.Accounts < 2 {
		return Stats{}, errors.New("bench needs at least two accounts")
	}
	if r.cfg.Workers < 1 {
		return Stats{}, errors.New("bench needs at least one worker")
	}

	if r.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Duration)
		defer cancel()
	}

	var (
		committed    atomic.Int64
		insufficient atomic.Int64
		failed       atomic.Int64
		issued       atomic.Int64
	)

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < r.cfg.Workers; w++ {
		seed := uint64(w)
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(seed, uint64(start.UnixNano())))
			for ctx.Err() == nil {
				if r.cfg.Transfers > 0 && issued.Add(1) > int64(r.cfg.Transfers) {
					return nil
				}

				_, err := r.ledger.Transfer(ctx, r.randomTransfer(rng))
				switch {
				case err == nil:
					committed.Add(1)
				case errors.Is(err, domain.ErrInsufficientFunds):
					insufficient.Add(1)
				case ctx.Err() != nil:
					return nil
				default:
					failed.Add(1)
					r.logger.Warn("transfer failed", "worker", seed, "error", err)
				}
			}
			return nil
		})
	}
	err := g.Wait()

	stats := Stats{
		Committed:    committed.Load(),
		Insufficient: insufficient.Load(),
		Failed:       failed.Load(),
		Elapsed:      time.Since(start),
	}
	return stats, err
}

func (r *Runner) randomTransfer(rng *rand.Rand) *models.TransferRequest {
	from := rng.IntN(r.cfg.Accounts)
	to := rng.IntN(r.cfg.Accounts - 1)
	if to >= from {
		to++
	}
	maxAmount := r.cfg.MaxAmount
	if maxAmount < 1 {
		maxAmount = 1
	}
	return &models.TransferRequest{
		FromID: AccountID(from),
		ToID:   AccountID(to),
		Amount: rng.Int64N(maxAmount) + 1,
	}
}

// Verify checks that transfers preserved the total balance
func (r *Runner) Verify(ctx context.Context) error {
	total, err := r.ledger.TotalBalance(ctx)
	if err != nil {
		return fmt.Errorf("total balance: %w", err)
	}
	want := int64(r.cfg.Accounts) * r.cfg.InitialBalance
	if total != want {
		return fmt.Errorf("total balance is %d, want %d", total, want)
	}
	return nil
}
