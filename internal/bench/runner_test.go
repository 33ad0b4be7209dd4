package bench

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"txscope/internal/config"
	"txscope/internal/domain"
	"txscope/internal/domain/models"
)

type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	failNext int
}

func (f *fakeLedger) OpenAccount(_ context.Context, id string, balance int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[id] = balance
	return &models.Account{ID: id, Balance: balance}, nil
}

func (f *fakeLedger) GetAccount(_ context.Context, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.Account{ID: id, Balance: f.balances[id]}, nil
}

func (f *fakeLedger) Transfer(_ context.Context, req *models.TransferRequest) (*models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("serialization failure")
	}
	if req.FromID == req.ToID {
		return nil, &domain.ValidationError{Message: "same account"}
	}
	if f.balances[req.FromID] < req.Amount {
		return nil, &domain.InsufficientFundsError{AccountID: req.FromID, Balance: f.balances[req.FromID], Amount: req.Amount}
	}
	f.balances[req.FromID] -= req.Amount
	f.balances[req.ToID] += req.Amount
	return &models.Transfer{FromID: req.FromID, ToID: req.ToID, Amount: req.Amount}, nil
}

func (f *fakeLedger) TotalBalance(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, b := range f.balances {
		total += b
	}
	return total, nil
}

func newRunner(ledger *fakeLedger, cfg config.BenchConfig) *Runner {
	return NewRunner(ledger, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRunner_SpendsTransferBudget(t *testing.T) {
	ledger := &fakeLedger{balances: map[string]int64{}, failNext: 3}
	r := newRunner(ledger, config.BenchConfig{
		Accounts:       5,
		Workers:        4,
		Transfers:      200,
		InitialBalance: 20,
		MaxAmount:      15,
	})
	ctx := context.Background()

	require.NoError(t, r.Seed(ctx))
	stats, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(200), stats.Committed+stats.Insufficient+stats.Failed)
	assert.Equal(t, int64(3), stats.Failed)
	assert.NoError(t, r.Verify(ctx))
}

func TestRunner_StopsAfterDuration(t *testing.T) {
	ledger := &fakeLedger{balances: map[string]int64{}}
	r := newRunner(ledger, config.BenchConfig{
		Accounts:       3,
		Workers:        2,
		Duration:       20 * time.Millisecond,
		InitialBalance: 100,
		MaxAmount:      10,
	})
	ctx := context.Background()
	require.NoError(t, r.Seed(ctx))

	stats, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Positive(t, stats.Committed)
	assert.GreaterOrEqual(t, stats.Elapsed, 20*time.Millisecond)
	assert.Positive(t, stats.Throughput())
}

func TestRunner_RejectsTinyWorkloads(t *testing.T) {
	_, err := newRunner(&fakeLedger{}, config.BenchConfig{Accounts: 1, Workers: 1}).Run(context.Background())
	assert.Error(t, err)

	_, err = newRunner(&fakeLedger{}, config.BenchConfig{Accounts: 2}).Run(context.Background())
	assert.Error(t, err)
}

func TestRunner_RandomTransferPicksDistinctAccounts(t *testing.T) {
	r := newRunner(&fakeLedger{}, config.BenchConfig{Accounts: 2, MaxAmount: 3})
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 100; i++ {
		req := r.randomTransfer(rng)
		assert.NotEqual(t, req.FromID, req.ToID)
		assert.GreaterOrEqual(t, req.Amount, int64(1))
		assert.LessOrEqual(t, req.Amount, int64(3))
	}
}

func TestVerify_DetectsDrift(t *testing.T) {
	ledger := &fakeLedger{balances: map[string]int64{}}
	r := newRunner(ledger, config.BenchConfig{Accounts: 2, InitialBalance: 10})
	require.NoError(t, r.Seed(context.Background()))

	ledger.balances[AccountID(0)] = 11
	assert.ErrorContains(t, r.Verify(context.Background()), "total balance is 21, want 20")
}

func TestStats_ThroughputWithoutElapsed(t *testing.T) {
	assert.Zero(t, Stats{Committed: 10}.Throughput())
}
