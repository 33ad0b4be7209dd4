package transaction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_Validation(t *testing.T) {
	connector := (&fakeConnector{}).connect

	tests := []struct {
		name   string
		mutate func(cfg *DatabaseConfig)
	}{
		{"missing name", func(cfg *DatabaseConfig) { cfg.Name = "" }},
		{"negative attempts", func(cfg *DatabaseConfig) { cfg.DefaultMaxAttempts = -1 }},
		{"negative min delay", func(cfg *DatabaseConfig) { cfg.DefaultMinRetryDelay = -time.Second }},
		{"negative max delay", func(cfg *DatabaseConfig) { cfg.DefaultMaxRetryDelay = -time.Second }},
		{"unknown isolation", func(cfg *DatabaseConfig) { cfg.DefaultIsolation = IsolationLevel(42) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultDatabaseConfig()
			tt.mutate(&cfg)
			_, err := Connect(connector, cfg)
			assert.Error(t, err)
		})
	}

	_, err := Connect(nil, DefaultDatabaseConfig())
	assert.Error(t, err)
}

func TestConnect_RegistersManagerAndDefault(t *testing.T) {
	td := newTestDB(t, nil)
	assert.Same(t, td.db, DefaultDatabase())
	require.NotNil(t, td.db.Manager())
	assert.Same(t, td.db, td.db.Manager().Database())

	other := newTestDB(t, nil)
	assert.Same(t, other.db, DefaultDatabase(), "last connected wins")

	SetDefaultDatabase(td.db)
	t.Cleanup(func() { SetDefaultDatabase(nil) })
	third := newTestDB(t, nil)
	assert.Same(t, td.db, DefaultDatabase(), "explicit default is kept")

	third.db.Close()
	assert.Nil(t, third.db.Manager())
}

func TestDatabase_ConfigIsACopy(t *testing.T) {
	rec := &recordingInterceptor{}
	td := newTestDB(t, func(cfg *DatabaseConfig) { cfg.Interceptors = []any{rec} })

	cfg := td.db.Config()
	cfg.Interceptors[0] = nil
	assert.Same(t, rec, td.db.Config().Interceptors[0])
}

func TestParseIsolationLevel(t *testing.T) {
	tests := map[string]IsolationLevel{
		"":                 IsolationUnspecified,
		"read_uncommitted": IsolationReadUncommitted,
		"READ COMMITTED":   IsolationReadCommitted,
		"repeatable_read":  IsolationRepeatableRead,
		" Serializable ":   IsolationSerializable,
	}
	for in, want := range tests {
		got, err := ParseIsolationLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseIsolationLevel("snapshot")
	assert.Error(t, err)
}

func TestWithExecutionContext_IsIdempotent(t *testing.T) {
	ctx := WithExecutionContext(context.Background())
	assert.Equal(t, ctx, WithExecutionContext(ctx))
	assert.Nil(t, Current(context.Background()))
}

func TestExecutionContexts_AreIsolated(t *testing.T) {
	td := newTestDB(t, nil)
	m := td.db.Manager()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Run(context.Background(), td.db, func(ctx context.Context, tx *Transaction) (int, error) {
				for j := 0; j < 50; j++ {
					if m.CurrentOrNil(ctx) != tx {
						t.Errorf("worker observed a foreign transaction")
					}
				}
				return 0, nil
			})
			if err != nil {
				t.Errorf("run failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestBindTransaction_WithoutExecutionContextIsNoop(t *testing.T) {
	td := newTestDB(t, nil)
	m := td.db.Manager()
	ctx := context.Background()

	tx, err := m.NewTransaction(ctx, IsolationUnspecified, false, nil)
	require.NoError(t, err)
	assert.Nil(t, m.CurrentOrNil(ctx))
	assert.Equal(t, IsolationReadCommitted, tx.Isolation())
}
