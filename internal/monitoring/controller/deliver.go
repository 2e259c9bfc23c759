package controller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/archive"
	"github.com/vietddude/buywatch/internal/monitoring/metrics"
	"github.com/vietddude/buywatch/internal/monitoring/render"
	"github.com/vietddude/buywatch/internal/monitoring/scheduler"
)

type counters struct {
	seen     atomic.Int64
	notified atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
	invalid  atomic.Int64
}

func (c *Controller) count(n *atomic.Int64, chain domain.ChainID, outcome string) {
	n.Add(1)
	metrics.EventsTotal.WithLabelValues(string(chain), outcome).Inc()
}

// deliver handles one routed event. Read failures defer the event; a failed or late send
// halts the destination for the rest of the cycle.
func (c *Controller) deliver(ctx context.Context, cnt *counters, dest domain.DestinationConfig, ev domain.PurchaseEvent) scheduler.Result {
	log := c.log.With("chain", ev.Chain, "destination", dest.ID, "tx", ev.TxID)
	c.count(&cnt.seen, ev.Chain, "seen")

	seen, err := c.cfg.Ledger.HasSeen(ctx, dest.ID, ev.Chain, ev.Key())
	if err != nil {
		log.Warn("Failed to read dedup ledger", "error", err)
		c.count(&cnt.failed, ev.Chain, "failed")
		return scheduler.Deferred
	}
	if seen {
		c.count(&cnt.skipped, ev.Chain, "skipped")
		return scheduler.Settled
	}

	snap, err := c.snapshot(ctx, ev)
	if err != nil {
		log.Warn("Market data unavailable, deferring event", "token", ev.Contract, "error", err)
		c.count(&cnt.skipped, ev.Chain, "skipped")
		return scheduler.Deferred
	}

	profile, err := c.cfg.Registry.Profile(ev.Chain)
	if err != nil {
		log.Error("Dropping event", "error", err)
		c.count(&cnt.invalid, ev.Chain, "invalid")
		return scheduler.Settled
	}
	msg, err := c.cfg.Renderer.Render(ev, snap, profile, dest)
	if err != nil {
		log.Error("Dropping event that cannot be rendered", "error", err)
		c.count(&cnt.invalid, ev.Chain, "invalid")
		return scheduler.Settled
	}

	if msg.AnimationURL != "" {
		if err := c.pace(ctx); err != nil {
			c.count(&cnt.skipped, ev.Chain, "skipped")
			return scheduler.Halted
		}
		err := detached(ctx, func(sctx context.Context) error {
			return c.cfg.Notifier.SendAnimation(sctx, dest.ID, msg.AnimationURL)
		})
		if err != nil {
			log.Warn("Failed to send animation", "error", err)
		}
	}

	if err := c.pace(ctx); err != nil {
		c.count(&cnt.skipped, ev.Chain, "skipped")
		return scheduler.Halted
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()
	if err := c.cfg.Notifier.SendMessage(sctx, dest.ID, msg); err != nil {
		log.Warn("Failed to send notification", "error", err)
		c.count(&cnt.failed, ev.Chain, "failed")
		return scheduler.Halted
	}
	c.count(&cnt.notified, ev.Chain, "notified")

	// Settled even when the mark fails, a retry would post the purchase twice.
	if err := c.cfg.Ledger.MarkSeen(sctx, dest.ID, ev.Chain, ev.Key(), ev.BlockTime); err != nil {
		log.Error("Failed to mark purchase as seen", "error", err)
	}

	if c.cfg.Archive != nil {
		nativePrice := snap.NativePriceUSD
		if nativePrice <= 0 {
			nativePrice = profile.NativePriceUSD
		}
		rec := archive.Record{
			Destination: dest.ID,
			Event:       ev,
			Snapshot:    snap,
			USDValue:    render.USDValue(ev.NativeAmount, nativePrice),
			NotifiedAt:  time.Now().UTC(),
		}
		if err := c.cfg.Archive.Record(sctx, rec); err != nil {
			log.Warn("Failed to archive purchase", "error", err)
		}
	}
	return scheduler.Settled
}

// pace waits for the next send slot. It fails once ctx is done so that no new send
// starts after the cycle deadline.
func (c *Controller) pace(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// detached runs fn outside the cycle deadline so an in-flight send can finish.
func detached(ctx context.Context, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()
	return fn(sctx)
}

// snapshot reads market data for the event's token and the buyer's balance. When the
// market source fails, the last good snapshot of the token is reused; a balance
// failure always defers the event.
func (c *Controller) snapshot(ctx context.Context, ev domain.PurchaseEvent) (domain.MarketSnapshot, error) {
	key := snapKey{chain: ev.Chain, token: ev.Contract.Key()}

	snap, err := c.cfg.Market.GetSnapshot(ctx, ev.Chain, ev.Contract)
	if err != nil {
		c.snapMu.Lock()
		cached, ok := c.snapshots[key]
		c.snapMu.Unlock()
		if !ok {
			return domain.MarketSnapshot{}, err
		}
		metrics.MarketFallbacks.WithLabelValues(string(ev.Chain)).Inc()
		c.log.Debug("Using cached market snapshot", "chain", ev.Chain, "token", ev.Contract, "fetched_at", cached.FetchedAt)
		snap = cached
	} else {
		c.snapMu.Lock()
		c.snapshots[key] = snap
		c.snapMu.Unlock()
	}

	balance, err := c.cfg.Market.GetWalletBalance(ctx, ev.Chain, ev.Buyer, ev.Contract)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	snap.WalletBalance = balance
	return snap, nil
}
