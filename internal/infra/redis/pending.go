package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/storage"
)

var _ storage.PendingQueue = (*PendingQueue)(nil)

type parkedEntry struct {
	Event    domain.PurchaseEvent `json:"event"`
	ParkedAt time.Time            `json:"parked_at"`
}

// PendingQueue implements storage.PendingQueue with one hash per destination and chain,
// field = event key, value = the JSON encoded event.
type PendingQueue struct {
	client *Client
	rdb    *redis.Client
}

func NewPendingQueue(client *Client) *PendingQueue {
	return &PendingQueue{client: client, rdb: client.rdb}
}

func (q *PendingQueue) key(destination string, chain domain.ChainID) string {
	return q.client.Key("pending", string(chain), destination)
}

// Park uses HSETNX so a purchase parked twice keeps its first entry.
func (q *PendingQueue) Park(ctx context.Context, destination string, ev domain.PurchaseEvent) error {
	body, err := json.Marshal(parkedEntry{Event: ev, ParkedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode pending purchase: %w", err)
	}
	if err := q.rdb.HSetNX(ctx, q.key(destination, ev.Chain), ev.Key().String(), body).Err(); err != nil {
		return fmt.Errorf("hsetnx failed: %w", err)
	}
	return nil
}

func (q *PendingQueue) Pending(ctx context.Context, destination string, chain domain.ChainID) ([]domain.PurchaseEvent, error) {
	entries, err := q.entries(ctx, q.key(destination, chain))
	if err != nil {
		return nil, err
	}
	list := make([]parkedEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		if c := storage.CompareBlocks(list[i].Event, list[j].Event); c != 0 {
			return c < 0
		}
		return list[i].ParkedAt.Before(list[j].ParkedAt)
	})

	out := make([]domain.PurchaseEvent, len(list))
	for i, e := range list {
		out[i] = e.Event
	}
	return out, nil
}

func (q *PendingQueue) entries(ctx context.Context, key string) (map[string]parkedEntry, error) {
	raw, err := q.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}
	out := make(map[string]parkedEntry, len(raw))
	for field, body := range raw {
		var e parkedEntry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("failed to decode pending purchase %s: %w", field, err)
		}
		out[field] = e
	}
	return out, nil
}

func (q *PendingQueue) Release(ctx context.Context, destination string, chain domain.ChainID, key domain.EventKey) error {
	if err := q.rdb.HDel(ctx, q.key(destination, chain), key.String()).Err(); err != nil {
		return fmt.Errorf("hdel failed: %w", err)
	}
	return nil
}

// Prune walks every pending hash and drops entries whose block time is before olderThan.
func (q *PendingQueue) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	var total int64
	iter := q.rdb.Scan(ctx, 0, q.client.Key("pending", "*"), 100).Iterator()
	for iter.Next(ctx) {
		entries, err := q.entries(ctx, iter.Val())
		if err != nil {
			return total, err
		}
		var stale []string
		for field, e := range entries {
			if e.Event.BlockTime.Before(olderThan) {
				stale = append(stale, field)
			}
		}
		if len(stale) == 0 {
			continue
		}
		n, err := q.rdb.HDel(ctx, iter.Val(), stale...).Result()
		if err != nil {
			return total, fmt.Errorf("hdel failed: %w", err)
		}
		total += n
	}
	if err := iter.Err(); err != nil {
		return total, fmt.Errorf("scan failed: %w", err)
	}
	return total, nil
}

func (q *PendingQueue) Count(ctx context.Context, destination string, chain domain.ChainID) (int, error) {
	n, err := q.rdb.HLen(ctx, q.key(destination, chain)).Result()
	if err != nil {
		return 0, fmt.Errorf("hlen failed: %w", err)
	}
	return int(n), nil
}
