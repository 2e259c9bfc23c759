package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/storage"
)

var _ storage.DedupLedger = (*LedgerRepo)(nil)

// LedgerRepo implements storage.DedupLedger using PostgreSQL.
type LedgerRepo struct {
	db *DB
}

// NewLedgerRepo creates a new PostgreSQL dedup ledger.
func NewLedgerRepo(db *DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// HasSeen checks whether a purchase was notified to a destination.
func (r *LedgerRepo) HasSeen(
	ctx context.Context,
	destination string,
	chain domain.ChainID,
	key domain.EventKey,
) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM seen_purchases
			WHERE destination_id = $1 AND chain = $2 AND tx_id = $3 AND contract = $4
		)`, destination, string(chain), key.TxID, key.Contract)
	if err != nil {
		return false, fmt.Errorf("failed to check seen purchase: %w", err)
	}
	return exists, nil
}

// MarkSeen records a notified purchase. Repeated calls are no-ops.
func (r *LedgerRepo) MarkSeen(
	ctx context.Context,
	destination string,
	chain domain.ChainID,
	key domain.EventKey,
	blockTime time.Time,
) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO seen_purchases (destination_id, chain, tx_id, contract, block_time, seen_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (destination_id, chain, tx_id, contract) DO NOTHING`,
		destination, string(chain), key.TxID, key.Contract, blockTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark purchase seen: %w", err)
	}
	return nil
}

// Prune deletes records older than the threshold.
func (r *LedgerRepo) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM seen_purchases WHERE block_time < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune seen purchases: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of records for a destination and chain.
func (r *LedgerRepo) Count(ctx context.Context, destination string, chain domain.ChainID) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM seen_purchases WHERE destination_id = $1 AND chain = $2`,
		destination, string(chain))
	if err != nil {
		return 0, fmt.Errorf("failed to count seen purchases: %w", err)
	}
	return n, nil
}
