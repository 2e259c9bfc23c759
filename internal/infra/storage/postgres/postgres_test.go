package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vietddude/buywatch/internal/core/domain"
)

// setupTestDB starts a PostgreSQL container and applies the embedded migrations.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("buywatch"),
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
	require.NoError(t, err)

	db, err := NewDB(ctx, Config{URL: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestPostgres_Stores(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("config round trip keeps watch order", func(t *testing.T) {
		repo := NewConfigRepo(db)

		d := domain.NewDestination("-100123")
		d.AddWatch(domain.ChainETH, "0x0000000000000000000000000000000000000002")
		d.AddWatch(domain.ChainETH, "0x0000000000000000000000000000000000000001")
		d.AddWatch(domain.ChainSolana, "So11111111111111111111111111111111111111112")
		d.Emoji = "🚀"
		require.NoError(t, repo.Upsert(ctx, d))

		got, err := repo.Get(ctx, "-100123")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "🚀", got.Emoji)
		assert.Equal(t, []domain.ContractAddress{
			"0x0000000000000000000000000000000000000002",
			"0x0000000000000000000000000000000000000001",
		}, got.Watching(domain.ChainETH))

		active, err := repo.ListActive(ctx, domain.ChainSolana)
		require.NoError(t, err)
		require.Len(t, active, 1)

		none, err := repo.ListActive(ctx, domain.ChainBNB)
		require.NoError(t, err)
		assert.Empty(t, none)

		got.RemoveWatch(domain.ChainSolana, "So11111111111111111111111111111111111111112")
		require.NoError(t, repo.Upsert(ctx, *got))
		active, err = repo.ListActive(ctx, domain.ChainSolana)
		require.NoError(t, err)
		assert.Empty(t, active)

		missing, err := repo.Get(ctx, "unknown")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("ledger", func(t *testing.T) {
		ledger := NewLedgerRepo(db)
		now := time.Now()
		a := domain.EventKey{TxID: "0xa", Contract: "0xpepe"}
		b := domain.EventKey{TxID: "0xb", Contract: "0xpepe"}
		bOther := domain.EventKey{TxID: "0xb", Contract: "0xusdt"}

		require.NoError(t, ledger.MarkSeen(ctx, "d", domain.ChainBNB, a, now.Add(-10*24*time.Hour)))
		require.NoError(t, ledger.MarkSeen(ctx, "d", domain.ChainBNB, b, now))
		require.NoError(t, ledger.MarkSeen(ctx, "d", domain.ChainBNB, b, now))

		seen, err := ledger.HasSeen(ctx, "d", domain.ChainBNB, b)
		require.NoError(t, err)
		assert.True(t, seen)

		seen, err = ledger.HasSeen(ctx, "d", domain.ChainBNB, bOther)
		require.NoError(t, err)
		assert.False(t, seen, "same tx, other token")

		seen, err = ledger.HasSeen(ctx, "other", domain.ChainBNB, b)
		require.NoError(t, err)
		assert.False(t, seen)

		require.NoError(t, ledger.MarkSeen(ctx, "d", domain.ChainBNB, bOther, now))

		n, err := ledger.Prune(ctx, now.Add(-7*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		count, err := ledger.Count(ctx, "d", domain.ChainBNB)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("pending", func(t *testing.T) {
		q := NewPendingRepo(db)
		now := time.Now().UTC().Truncate(time.Second)
		ev := func(tx string, block uint64, at time.Time) domain.PurchaseEvent {
			return domain.PurchaseEvent{
				Chain: domain.ChainETH, Contract: "0x6982508145454Ce325dDbE47a25d4ec3d2311933",
				TokenName: "Pepe", TokenSymbol: "PEPE", NativeAmount: 0.5, TokenAmount: 10,
				Buyer: "0xbuyer", TxID: tx, BlockNumber: block, BlockTime: at,
			}
		}

		require.NoError(t, q.Park(ctx, "d", ev("0x2", 11, now)))
		require.NoError(t, q.Park(ctx, "d", ev("0x1", 10, now.Add(-time.Minute))))
		require.NoError(t, q.Park(ctx, "d", ev("0x1", 10, now.Add(-time.Minute))))
		require.NoError(t, q.Park(ctx, "d", ev("0x0", 1, now.Add(-30*24*time.Hour))))

		got, err := q.Pending(ctx, "d", domain.ChainETH)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"0x0", "0x1", "0x2"}, []string{got[0].TxID, got[1].TxID, got[2].TxID})
		assert.Equal(t, "PEPE", got[1].TokenSymbol)
		assert.True(t, got[1].BlockTime.Equal(now.Add(-time.Minute)))

		require.NoError(t, q.Release(ctx, "d", domain.ChainETH, got[2].Key()))
		n, err := q.Prune(ctx, now.Add(-7*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		count, err := q.Count(ctx, "d", domain.ChainETH)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("cursor", func(t *testing.T) {
		repo := NewCursorRepo(db)

		c, err := repo.Get(ctx, domain.ChainETH, "blocks")
		require.NoError(t, err)
		assert.Nil(t, c)

		require.NoError(t, repo.Save(ctx, domain.Cursor{Chain: domain.ChainETH, Key: "blocks", Position: "10"}))
		require.NoError(t, repo.Save(ctx, domain.Cursor{Chain: domain.ChainETH, Key: "blocks", Position: "20"}))

		c, err = repo.Get(ctx, domain.ChainETH, "blocks")
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, "20", c.Position)

		all, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestPostgres_SchemaVersion(t *testing.T) {
	db := setupTestDB(t)

	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	// Re-running is a no-op.
	require.NoError(t, db.Migrate(context.Background()))
}

func TestConfig_Pool(t *testing.T) {
	maxOpen, maxIdle, lifetime := Config{}.pool()
	assert.Equal(t, 10, maxOpen)
	assert.Equal(t, 2, maxIdle)
	assert.Equal(t, time.Hour, lifetime)

	maxOpen, maxIdle, lifetime = Config{MaxConns: 4, MinConns: 8, ConnMaxLifetime: time.Minute}.pool()
	assert.Equal(t, 4, maxOpen)
	assert.Equal(t, 4, maxIdle)
	assert.Equal(t, time.Minute, lifetime)
}
