package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/storage"
)

var _ storage.PendingQueue = (*PendingRepo)(nil)

// PendingRepo implements storage.PendingQueue using PostgreSQL. The event is kept as
// JSONB; the key and ordering columns are duplicated for lookups.
type PendingRepo struct {
	db *DB
}

func NewPendingRepo(db *DB) *PendingRepo {
	return &PendingRepo{db: db}
}

func (r *PendingRepo) Park(ctx context.Context, destination string, ev domain.PurchaseEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode pending purchase: %w", err)
	}
	key := ev.Key()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pending_purchases
			(destination_id, chain, tx_id, contract, block_number, block_time, event)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (destination_id, chain, tx_id, contract) DO NOTHING`,
		destination, string(ev.Chain), key.TxID, key.Contract,
		int64(ev.BlockNumber), ev.BlockTime.UTC(), body,
	)
	if err != nil {
		return fmt.Errorf("failed to park purchase: %w", err)
	}
	return nil
}

func (r *PendingRepo) Pending(ctx context.Context, destination string, chain domain.ChainID) ([]domain.PurchaseEvent, error) {
	var rows [][]byte
	err := r.db.SelectContext(ctx, &rows, `
		SELECT event FROM pending_purchases
		WHERE destination_id = $1 AND chain = $2
		ORDER BY block_time, block_number, parked_at`,
		destination, string(chain))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending purchases: %w", err)
	}

	out := make([]domain.PurchaseEvent, 0, len(rows))
	for _, raw := range rows {
		var ev domain.PurchaseEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode pending purchase: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *PendingRepo) Release(ctx context.Context, destination string, chain domain.ChainID, key domain.EventKey) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM pending_purchases
		WHERE destination_id = $1 AND chain = $2 AND tx_id = $3 AND contract = $4`,
		destination, string(chain), key.TxID, key.Contract)
	if err != nil {
		return fmt.Errorf("failed to release pending purchase: %w", err)
	}
	return nil
}

func (r *PendingRepo) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_purchases WHERE block_time < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune pending purchases: %w", err)
	}
	return res.RowsAffected()
}

func (r *PendingRepo) Count(ctx context.Context, destination string, chain domain.ChainID) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM pending_purchases WHERE destination_id = $1 AND chain = $2`,
		destination, string(chain))
	if err != nil {
		return 0, fmt.Errorf("failed to count pending purchases: %w", err)
	}
	return n, nil
}
