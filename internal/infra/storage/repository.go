package storage

import (
	"cmp"
	"context"
	"time"

	"github.com/vietddude/buywatch/internal/core/domain"
)

// ConfigStore owns destination configurations.
// Implementations return copies and must be safe for concurrent use.
type ConfigStore interface {
	// Get returns the destination config, or nil when the destination is unknown.
	Get(ctx context.Context, destination string) (*domain.DestinationConfig, error)

	// ListActive returns destinations with a non-empty watch set on chain, ordered by id.
	ListActive(ctx context.Context, chain domain.ChainID) ([]domain.DestinationConfig, error)

	// List returns every destination, ordered by id.
	List(ctx context.Context) ([]domain.DestinationConfig, error)

	// Upsert creates or replaces a destination config.
	Upsert(ctx context.Context, cfg domain.DestinationConfig) error
}

// DedupLedger records which purchases were already notified per destination and chain.
// A purchase is identified by its EventKey (transaction and token).
type DedupLedger interface {
	// HasSeen reports whether the purchase was notified to destination on chain.
	HasSeen(ctx context.Context, destination string, chain domain.ChainID, key domain.EventKey) (bool, error)

	// MarkSeen records a successful notification. blockTime ages the record for pruning.
	MarkSeen(
		ctx context.Context,
		destination string,
		chain domain.ChainID,
		key domain.EventKey,
		blockTime time.Time,
	) error

	// Prune deletes records whose block time is before olderThan.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// Count returns the number of records for a destination and chain.
	Count(ctx context.Context, destination string, chain domain.ChainID) (int, error)
}

// PendingQueue holds routed purchases that a destination could not take yet, so the
// chain cursor moves on without losing them. Entries are retried on later cycles until
// they are delivered or pruned past the retention horizon.
type PendingQueue interface {
	// Park stores ev for destination. Parking the same purchase twice keeps one entry.
	Park(ctx context.Context, destination string, ev domain.PurchaseEvent) error

	// Pending returns the parked purchases of destination on chain, oldest block first.
	Pending(ctx context.Context, destination string, chain domain.ChainID) ([]domain.PurchaseEvent, error)

	// Release removes a parked purchase. Unknown keys are ignored.
	Release(ctx context.Context, destination string, chain domain.ChainID, key domain.EventKey) error

	// Prune deletes parked purchases whose block time is before olderThan.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// Count returns the number of parked purchases for a destination and chain.
	Count(ctx context.Context, destination string, chain domain.ChainID) (int, error)
}

// CursorRepository persists data source read positions.
type CursorRepository interface {
	// Get returns the cursor, or nil when none was saved.
	Get(ctx context.Context, chain domain.ChainID, key string) (*domain.Cursor, error)

	// Save upserts a cursor.
	Save(ctx context.Context, cursor domain.Cursor) error
}

// CompareBlocks orders purchases by block time, then block number.
func CompareBlocks(a, b domain.PurchaseEvent) int {
	if c := a.BlockTime.Compare(b.BlockTime); c != 0 {
		return c
	}
	return cmp.Compare(a.BlockNumber, b.BlockNumber)
}
