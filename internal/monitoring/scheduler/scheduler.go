// Package scheduler runs per-chain discovery cycles and routes purchases to the
// destinations watching them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/chain"
	"github.com/vietddude/buywatch/internal/infra/storage"
	"github.com/vietddude/buywatch/internal/monitoring/metrics"
)

// ErrCycleInProgress is returned when the previous cycle of a chain is still running.
var ErrCycleInProgress = errors.New("cycle already in progress")

// DefaultWorkers is the destination fan-out used when none is configured.
const DefaultWorkers = 2

// storeTimeout bounds pending-queue writes and the cursor commit, which also run after
// the cycle deadline so that nothing fetched is lost.
const storeTimeout = 5 * time.Second

// Result is what a DeliverFunc did with an event.
type Result int

const (
	// Settled events are done: notified, already seen, or dropped as invalid.
	Settled Result = iota
	// Deferred events are parked and retried next cycle. The destination's other events
	// are still delivered.
	Deferred
	// Halted means the destination takes no more sends this cycle. The event and every
	// later one of the destination are parked untried.
	Halted
)

// DeliverFunc handles one routed event.
type DeliverFunc func(ctx context.Context, dest domain.DestinationConfig, ev domain.PurchaseEvent) Result

// Outcome describes a finished cycle.
type Outcome struct {
	Chain        domain.ChainID
	Destinations int
	Contracts    int
	Events       int // events in the fetched batch
	Routed       int // (destination, event) pairs handed to deliver, retries included
	Retried      int // parked pairs handed to deliver
	Parked       int // pairs left in the pending queue
	Complete     bool
	Committed    bool
}

type slot struct {
	busy    atomic.Bool
	skipped atomic.Int64
}

// Scheduler owns the chain data sources and the non-overlap token of each chain.
type Scheduler struct {
	store   storage.ConfigStore
	pending storage.PendingQueue
	sources map[domain.ChainID]chain.DataSource
	slots   map[domain.ChainID]*slot
	workers int
	log     *slog.Logger
}

// New creates a scheduler over one data source per chain. pending keeps the pairs a
// destination could not take so the chain cursor never waits on one destination.
func New(store storage.ConfigStore, pending storage.PendingQueue, sources []chain.DataSource, workers int) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	s := &Scheduler{
		store:   store,
		pending: pending,
		sources: make(map[domain.ChainID]chain.DataSource, len(sources)),
		slots:   make(map[domain.ChainID]*slot, len(sources)),
		workers: workers,
		log:     slog.Default().With("component", "scheduler"),
	}
	for _, src := range sources {
		s.sources[src.Chain()] = src
		s.slots[src.Chain()] = &slot{}
	}
	return s
}

// Chains returns the chains that have a data source, sorted.
func (s *Scheduler) Chains() []domain.ChainID {
	out := make([]domain.ChainID, 0, len(s.sources))
	for id := range s.sources {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Skipped returns how many cycles of chain were dropped because one was running.
func (s *Scheduler) Skipped(id domain.ChainID) int64 {
	if sl, ok := s.slots[id]; ok {
		return sl.skipped.Load()
	}
	return 0
}

// RunCycle fetches new purchases for every contract watched on chain and hands each
// routed event to deliver. Destinations run in parallel up to the worker limit. Each
// destination first gets its parked events, then the fresh ones, in chain order.
//
// The batch cursor is committed after every fetch. Pairs that were not settled are
// parked per destination first; the cursor is kept only when parking failed.
func (s *Scheduler) RunCycle(ctx context.Context, id domain.ChainID, deliver DeliverFunc) (Outcome, error) {
	out := Outcome{Chain: id}
	src, ok := s.sources[id]
	if !ok {
		return out, fmt.Errorf("%w: no data source for %s", domain.ErrUnknownChain, id)
	}

	sl := s.slots[id]
	if !sl.busy.CompareAndSwap(false, true) {
		sl.skipped.Add(1)
		metrics.CyclesSkipped.WithLabelValues(string(id)).Inc()
		return out, ErrCycleInProgress
	}
	defer sl.busy.Store(false)

	dests, err := s.store.ListActive(ctx, id)
	if err != nil {
		return out, fmt.Errorf("%w: %v", domain.ErrConfigStoreUnavailable, err)
	}
	out.Destinations = len(dests)
	if len(dests) == 0 {
		out.Complete = true
		return out, nil
	}

	contracts := UnionContracts(id, dests)
	out.Contracts = len(contracts)

	batch, err := src.FetchNewPurchases(ctx, contracts)
	if err != nil {
		metrics.DataSourceFetches.WithLabelValues(string(id), "error").Inc()
		return out, fmt.Errorf("%w: %v", domain.ErrDataSourceUnavailable, err)
	}
	metrics.DataSourceFetches.WithLabelValues(string(id), "ok").Inc()
	out.Events = len(batch.Events)

	var (
		t tally
		g errgroup.Group
	)
	g.SetLimit(s.workers)
	for _, dest := range dests {
		fresh := Route(id, dest, batch.Events)
		g.Go(func() error {
			s.serve(ctx, id, dest, fresh, deliver, &t)
			return nil
		})
	}
	_ = g.Wait()
	out.Routed = int(t.routed.Load())
	out.Retried = int(t.retried.Load())
	out.Parked = int(t.parked.Load())
	out.Complete = !t.unsettled.Load() && ctx.Err() == nil
	metrics.PendingPurchases.WithLabelValues(string(id)).Set(float64(out.Parked))

	if t.parkFailed.Load() {
		// Unparked events come back with the same batch next cycle.
		s.log.Warn("Cursor kept, some purchases could not be parked", "chain", id, "events", out.Events)
		return out, nil
	}
	cctx, cancel := detach(ctx)
	defer cancel()
	if err := src.Commit(cctx, batch); err != nil {
		// Events are redelivered next cycle and filtered by the dedup ledger.
		s.log.Warn("Failed to commit cursor", "chain", id, "error", err)
		return out, nil
	}
	out.Committed = true
	return out, nil
}

type tally struct {
	routed     atomic.Int64
	retried    atomic.Int64
	parked     atomic.Int64
	unsettled  atomic.Bool
	parkFailed atomic.Bool
}

// serve delivers the parked and fresh events of one destination. After a Halted result
// nothing else is attempted for the destination this cycle.
func (s *Scheduler) serve(
	ctx context.Context,
	id domain.ChainID,
	dest domain.DestinationConfig,
	fresh []domain.PurchaseEvent,
	deliver DeliverFunc,
	t *tally,
) {
	log := s.log.With("chain", id, "destination", dest.ID)

	parked, err := s.pending.Pending(ctx, dest.ID, id)
	if err != nil {
		log.Warn("Failed to read pending purchases", "error", err)
		t.unsettled.Store(true)
	}

	halted := false
	attempt := func(ev domain.PurchaseEvent) Result {
		if halted || ctx.Err() != nil {
			return Halted
		}
		t.routed.Add(1)
		r := deliver(ctx, dest, ev)
		if r == Halted {
			halted = true
		}
		return r
	}

	known := make(map[domain.EventKey]bool, len(parked))
	for _, ev := range parked {
		known[ev.Key()] = true
		if !dest.HasWatch(id, ev.Contract) {
			s.release(ctx, log, dest.ID, ev)
			continue
		}
		if !halted && ctx.Err() == nil {
			t.retried.Add(1)
		}
		if attempt(ev) == Settled {
			s.release(ctx, log, dest.ID, ev)
			continue
		}
		t.unsettled.Store(true)
		t.parked.Add(1)
	}

	for _, ev := range fresh {
		if known[ev.Key()] {
			continue
		}
		if attempt(ev) == Settled {
			continue
		}
		t.unsettled.Store(true)
		pctx, cancel := detach(ctx)
		err := s.pending.Park(pctx, dest.ID, ev)
		cancel()
		if err != nil {
			log.Error("Failed to park purchase", "tx", ev.TxID, "error", err)
			t.parkFailed.Store(true)
			continue
		}
		t.parked.Add(1)
	}
}

func (s *Scheduler) release(ctx context.Context, log *slog.Logger, dest string, ev domain.PurchaseEvent) {
	rctx, cancel := detach(ctx)
	defer cancel()
	// A leftover entry is retried, found in the dedup ledger and released again.
	if err := s.pending.Release(rctx, dest, ev.Chain, ev.Key()); err != nil {
		log.Warn("Failed to release pending purchase", "tx", ev.TxID, "error", err)
	}
}

// detach returns a context that outlives ctx's deadline by at most storeTimeout.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
}

// UnionContracts returns the distinct contracts watched on chain, first-seen order.
func UnionContracts(id domain.ChainID, dests []domain.DestinationConfig) []domain.ContractAddress {
	var all []domain.ContractAddress
	for _, d := range dests {
		all = append(all, d.Watching(id)...)
	}
	return chain.UniqueContracts(all)
}

// Route returns the events whose contract dest watches, keeping their order.
func Route(id domain.ChainID, dest domain.DestinationConfig, events []domain.PurchaseEvent) []domain.PurchaseEvent {
	var out []domain.PurchaseEvent
	for _, ev := range events {
		if ev.Chain == id && dest.HasWatch(id, ev.Contract) {
			out = append(out, ev)
		}
	}
	return out
}

// Run calls fn immediately and then on every tick until ctx is cancelled. Ticks do
// not wait for fn; RunCycle's token turns an overlapping tick into a skip.
func (s *Scheduler) Run(ctx context.Context, id domain.ChainID, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	tick := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	s.log.Info("Starting chain loop", "chain", id, "interval", interval)
	tick()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Chain loop stopped", "chain", id)
			return
		case <-ticker.C:
			tick()
		}
	}
}
