package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Mohsinsiddi/feeledger/internal/storage"
	"github.com/Mohsinsiddi/feeledger/internal/storage/migrations"
	"github.com/Mohsinsiddi/feeledger/internal/storage/postgres"
)

// setupTestDB starts a PostgreSQL container and applies the embedded
// migrations. The container is terminated when t ends.
func setupTestDB(t *testing.T) *postgres.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")
	t.Cleanup(pool.Close)

	require.NoError(t, migrations.RunPostgres(ctx, pool))
	// Migrations are idempotent.
	require.NoError(t, migrations.RunPostgres(ctx, pool))
	return pool
}

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func record(run uuid.UUID, block uint64, idx int, event string) storage.Record {
	return storage.Record{
		RunID:    run,
		Block:    block,
		LogIndex: idx,
		TxHash:   common.BytesToHash([]byte{byte(block), byte(idx)}),
		Contract: common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Event:    event,
		Args:     map[string]string{"from": "0x01", "value": "990"},
		Time:     start.Add(time.Duration(block) * time.Second),
	}
}

func TestEventStore(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := postgres.NewEventStore(pool)

	first, second := uuid.New(), uuid.New()

	t.Run("append and list", func(t *testing.T) {
		require.NoError(t, store.Append(ctx, first, []storage.Record{
			record(first, 2, 0, "Transfer"),
			record(first, 1, 1, "Transfer"),
			record(first, 1, 0, "Burn"),
		}))

		got, err := store.ListByRun(ctx, first)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "Burn", got[0].Event)
		assert.Equal(t, first, got[0].RunID)
		assert.Equal(t, "990", got[0].Args["value"])
		assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000a1"), got[0].Contract)
		assert.Equal(t, common.BytesToHash([]byte{1, 0}), got[0].TxHash)
		assert.True(t, start.Add(time.Second).Equal(got[0].Time))
		assert.Equal(t, uint64(2), got[2].Block)
	})

	t.Run("duplicate rolls back the batch", func(t *testing.T) {
		err := store.Append(ctx, first, []storage.Record{record(first, 9, 0, "Burn"), record(first, 1, 0, "Burn")})
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)

		got, err := store.ListByRun(ctx, first)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.ListByRun(ctx, uuid.New())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("runs", func(t *testing.T) {
		require.NoError(t, store.Append(ctx, second, []storage.Record{record(second, 30, 0, "SwapExecuted")}))

		runs, err := store.Runs(ctx)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, first, runs[0].ID)
		assert.Equal(t, 3, runs[0].Events)
		assert.Equal(t, uint64(1), runs[0].FirstBlock)
		assert.Equal(t, uint64(2), runs[0].LastBlock)
		assert.Equal(t, second, runs[1].ID)
		assert.Equal(t, 1, runs[1].Events)
	})
}
