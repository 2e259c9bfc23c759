package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/storage"
)

var _ storage.DedupLedger = (*Ledger)(nil)

// Ledger implements storage.DedupLedger with one sorted set per destination and chain.
// Members are event keys (tx/contract) scored by block time (unix seconds).
type Ledger struct {
	client *Client
	rdb    *redis.Client
}

// NewLedger creates a Redis-backed dedup ledger.
func NewLedger(client *Client) *Ledger {
	return &Ledger{client: client, rdb: client.rdb}
}

func (l *Ledger) key(destination string, chain domain.ChainID) string {
	return l.client.Key("seen", string(chain), destination)
}

// HasSeen checks membership with ZSCORE.
func (l *Ledger) HasSeen(
	ctx context.Context,
	destination string,
	chain domain.ChainID,
	key domain.EventKey,
) (bool, error) {
	err := l.rdb.ZScore(ctx, l.key(destination, chain), key.String()).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("zscore failed: %w", err)
	}
	return true, nil
}

// MarkSeen adds the transaction. Existing members keep their original score.
func (l *Ledger) MarkSeen(
	ctx context.Context,
	destination string,
	chain domain.ChainID,
	key domain.EventKey,
	blockTime time.Time,
) error {
	err := l.rdb.ZAddNX(ctx, l.key(destination, chain), redis.Z{
		Score:  float64(blockTime.Unix()),
		Member: key.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// Prune removes members scored before olderThan from every ledger key.
func (l *Ledger) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	max := "(" + strconv.FormatInt(olderThan.Unix(), 10)
	var total int64

	iter := l.rdb.Scan(ctx, 0, l.client.Key("seen", "*"), 100).Iterator()
	for iter.Next(ctx) {
		n, err := l.rdb.ZRemRangeByScore(ctx, iter.Val(), "-inf", max).Result()
		if err != nil {
			return total, fmt.Errorf("zremrangebyscore failed: %w", err)
		}
		total += n
	}
	if err := iter.Err(); err != nil {
		return total, fmt.Errorf("scan failed: %w", err)
	}
	return total, nil
}

// Count returns the ledger size for a destination and chain.
func (l *Ledger) Count(ctx context.Context, destination string, chain domain.ChainID) (int, error) {
	n, err := l.rdb.ZCard(ctx, l.key(destination, chain)).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(n), nil
}
