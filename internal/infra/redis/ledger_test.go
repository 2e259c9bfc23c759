package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vietddude/buywatch/internal/core/domain"
)

func setupRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := NewClient(ctx, Config{URL: fmt.Sprintf("redis://%s/0", endpoint)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLedger_Key(t *testing.T) {
	l := NewLedger(Wrap(redis.NewClient(&redis.Options{}), ""))
	assert.Equal(t, "buywatch:seen:SOLANA:-1001", l.key("-1001", domain.ChainSolana))

	l = NewLedger(Wrap(redis.NewClient(&redis.Options{}), "staging:"))
	assert.Equal(t, "staging:seen:ETH:42", l.key("42", domain.ChainETH))

	q := NewPendingQueue(Wrap(redis.NewClient(&redis.Options{}), ""))
	assert.Equal(t, "buywatch:pending:ETH:42", q.key("42", domain.ChainETH))
}

func TestLedger_Redis(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	l := NewLedger(client)
	now := time.Now()
	oldKey := domain.EventKey{TxID: "0xold", Contract: "0xpepe"}
	newKey := domain.EventKey{TxID: "0xnew", Contract: "0xpepe"}

	require.NoError(t, l.MarkSeen(ctx, "d1", domain.ChainETH, oldKey, now.Add(-8*24*time.Hour)))
	require.NoError(t, l.MarkSeen(ctx, "d1", domain.ChainETH, newKey, now))
	require.NoError(t, l.MarkSeen(ctx, "d2", domain.ChainETH, newKey, now))

	seen, err := l.HasSeen(ctx, "d1", domain.ChainETH, newKey)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = l.HasSeen(ctx, "d1", domain.ChainETH, domain.EventKey{TxID: "0xnew", Contract: "0xusdt"})
	require.NoError(t, err)
	assert.False(t, seen, "same tx, other token")

	seen, err = l.HasSeen(ctx, "d1", domain.ChainBase, newKey)
	require.NoError(t, err)
	assert.False(t, seen, "ledger is scoped per chain")

	n, err := l.Prune(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := l.Count(ctx, "d1", domain.ChainETH)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPendingQueue_Redis(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	q := NewPendingQueue(client)
	now := time.Now().UTC()
	ev := func(tx string, at time.Time) domain.PurchaseEvent {
		return domain.PurchaseEvent{Chain: domain.ChainSolana, Contract: "Mint", TxID: tx, BlockTime: at}
	}

	require.NoError(t, q.Park(ctx, "d1", ev("sig2", now)))
	require.NoError(t, q.Park(ctx, "d1", ev("sig1", now.Add(-time.Minute))))
	require.NoError(t, q.Park(ctx, "d1", ev("sig1", now.Add(-time.Minute))))
	require.NoError(t, q.Park(ctx, "d1", ev("sig0", now.Add(-30*24*time.Hour))))

	got, err := q.Pending(ctx, "d1", domain.ChainSolana)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"sig0", "sig1", "sig2"}, []string{got[0].TxID, got[1].TxID, got[2].TxID})

	require.NoError(t, q.Release(ctx, "d1", domain.ChainSolana, got[2].Key()))
	n, err := q.Prune(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := q.Count(ctx, "d1", domain.ChainSolana)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
