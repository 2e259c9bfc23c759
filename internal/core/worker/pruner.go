package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/buywatch/internal/infra/storage"
	"github.com/vietddude/buywatch/internal/monitoring/metrics"
)

// Pruner deletes dedup records and parked purchases older than the retention period.
type Pruner struct {
	ledger    storage.DedupLedger
	pending   storage.PendingQueue
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker. A zero retention keeps records forever.
func NewPruner(ledger storage.DedupLedger, pending storage.PendingQueue, retention time.Duration) *Pruner {
	return &Pruner{
		ledger:    ledger,
		pending:   pending,
		retention: retention,
		now:       time.Now,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// 10% of retention, between one minute and one hour
	interval := min(p.retention/10, time.Hour)
	interval = max(interval, time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

// PruneOnce removes records older than the retention period and returns the count.
// Parked purchases past the horizon are given up on; their count is included.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	cutoff := p.now().Add(-p.retention)
	n, err := p.ledger.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.LedgerPruned.Add(float64(n))

	if p.pending == nil {
		return n, nil
	}
	dropped, err := p.pending.Prune(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("failed to prune pending purchases: %w", err)
	}
	if dropped > 0 {
		p.log.Warn("Dropped undelivered purchases past retention", "dropped", dropped, "retention", p.retention)
	}
	return n + dropped, nil
}

func (p *Pruner) prune(ctx context.Context) {
	n, err := p.PruneOnce(ctx)
	if err != nil {
		p.log.Error("Failed to prune dedup ledger", "error", err)
		return
	}
	if n > 0 {
		p.log.Info("Pruned dedup ledger", "removed", n, "retention", p.retention)
	}
}
