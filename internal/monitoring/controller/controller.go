// Package controller drives the poll cycles of every chain and turns routed purchases
// into paced notifications.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/archive"
	"github.com/vietddude/buywatch/internal/infra/storage"
	"github.com/vietddude/buywatch/internal/monitoring/metrics"
	"github.com/vietddude/buywatch/internal/monitoring/render"
	"github.com/vietddude/buywatch/internal/monitoring/scheduler"
)

const (
	defaultCycleTimeout = 30 * time.Second
	defaultScanInterval = 10 * time.Second

	// sendTimeout bounds a send that was started before the cycle deadline.
	sendTimeout = 15 * time.Second
)

// MarketData supplies token prices and wallet balances.
type MarketData interface {
	GetSnapshot(ctx context.Context, chain domain.ChainID, contract domain.ContractAddress) (domain.MarketSnapshot, error)
	GetWalletBalance(ctx context.Context, chain domain.ChainID, wallet string, contract domain.ContractAddress) (float64, error)
}

// Notifier delivers messages to a destination.
type Notifier interface {
	SendMessage(ctx context.Context, dest string, msg domain.RenderedMessage) error
	SendAnimation(ctx context.Context, dest string, url string) error
}

// Archiver stores delivered notifications.
type Archiver interface {
	Record(ctx context.Context, records ...archive.Record) error
}

// Config wires the controller.
type Config struct {
	Registry  *domain.Registry
	Store     storage.ConfigStore
	Ledger    storage.DedupLedger
	Scheduler *scheduler.Scheduler
	Market    MarketData
	Notifier  Notifier
	Renderer  *render.Renderer
	Archive   Archiver // optional

	CycleTimeout  time.Duration
	SendInterval  time.Duration // minimum gap between two sends, 0 disables pacing
	ScanIntervals map[domain.ChainID]time.Duration
}

type snapKey struct {
	chain domain.ChainID
	token string
}

// Controller runs chain cycles and owns the last reports.
type Controller struct {
	cfg     Config
	limiter *rate.Limiter
	log     *slog.Logger

	snapMu    sync.Mutex
	snapshots map[snapKey]domain.MarketSnapshot

	reportMu  sync.RWMutex
	lastChain map[domain.ChainID]domain.ChainReport
	lastCycle *domain.CycleReport

	// serializes read-modify-write of destination configs
	mutateMu sync.Mutex
}

// New creates a controller.
func New(cfg Config) *Controller {
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = defaultCycleTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.SendInterval), 1)
	}
	return &Controller{
		cfg:       cfg,
		limiter:   limiter,
		log:       slog.Default().With("component", "controller"),
		snapshots: make(map[snapKey]domain.MarketSnapshot),
		lastChain: make(map[domain.ChainID]domain.ChainReport),
	}
}

// Registry returns the chain profiles.
func (c *Controller) Registry() *domain.Registry {
	return c.cfg.Registry
}

// Tick runs one cycle on every chain concurrently and waits for all of them.
func (c *Controller) Tick(ctx context.Context) domain.CycleReport {
	report := domain.CycleReport{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Chains:    make(map[domain.ChainID]domain.ChainReport),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, id := range c.cfg.Scheduler.Chains() {
		g.Go(func() error {
			cr := c.TickChain(ctx, id)
			mu.Lock()
			report.Chains[id] = cr
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.reportMu.Lock()
	c.lastCycle = &report
	c.reportMu.Unlock()

	totals := report.Totals()
	c.log.Info("Tick finished",
		"id", report.ID,
		"chains", len(report.Chains),
		"notified", totals.Notified,
		"failed", totals.Failed,
	)
	return report
}

// TickChain runs one cycle of a single chain under the cycle deadline.
func (c *Controller) TickChain(ctx context.Context, id domain.ChainID) domain.ChainReport {
	started := time.Now()
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CycleTimeout)
	defer cancel()

	var cnt counters
	out, err := c.cfg.Scheduler.RunCycle(cctx, id, func(ctx context.Context, dest domain.DestinationConfig, ev domain.PurchaseEvent) scheduler.Result {
		return c.deliver(ctx, &cnt, dest, ev)
	})

	cr := domain.ChainReport{
		Chain:    id,
		Seen:     int(cnt.seen.Load()),
		Notified: int(cnt.notified.Load()),
		Skipped:  int(cnt.skipped.Load()),
		Failed:   int(cnt.failed.Load()),
		Invalid:  int(cnt.invalid.Load()),
		Pending:  out.Parked,
		Started:  started.UTC(),
		Duration: time.Since(started),
	}
	switch {
	case errors.Is(err, scheduler.ErrCycleInProgress):
		cr.Status = domain.CycleStatusSkipped
	case errors.Is(err, domain.ErrConfigStoreUnavailable), errors.Is(err, domain.ErrUnknownChain):
		cr.Status = domain.CycleStatusFailed
		cr.Error = err.Error()
	case err != nil:
		cr.Status = domain.CycleStatusPartial
		cr.Error = err.Error()
	case !out.Complete:
		cr.Status = domain.CycleStatusPartial
		if cctx.Err() != nil {
			cr.Error = "cycle deadline exceeded"
		}
	default:
		cr.Status = domain.CycleStatusOK
	}

	if err != nil && cr.Status != domain.CycleStatusSkipped {
		c.log.Warn("Chain cycle failed", "chain", id, "status", cr.Status, "error", err)
	} else if cr.Seen > 0 {
		c.log.Info("Chain cycle finished",
			"chain", id,
			"status", cr.Status,
			"seen", cr.Seen,
			"notified", cr.Notified,
			"skipped", cr.Skipped,
			"failed", cr.Failed,
			"pending", cr.Pending,
			"duration", cr.Duration,
		)
	}

	metrics.CyclesTotal.WithLabelValues(string(id), string(cr.Status)).Inc()
	if cr.Status != domain.CycleStatusSkipped {
		metrics.CycleDuration.WithLabelValues(string(id)).Observe(cr.Duration.Seconds())
		c.reportMu.Lock()
		c.lastChain[id] = cr
		c.reportMu.Unlock()
	}
	return cr
}

// Run starts an independent loop per chain at its scan interval and blocks until
// ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range c.cfg.Scheduler.Chains() {
		interval := c.cfg.ScanIntervals[id]
		if interval <= 0 {
			interval = defaultScanInterval
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.cfg.Scheduler.Run(ctx, id, interval, func(ctx context.Context) {
				c.TickChain(ctx, id)
			})
		}()
	}
	wg.Wait()
}

// LastReports returns the most recent non-skipped report of every chain.
func (c *Controller) LastReports() map[domain.ChainID]domain.ChainReport {
	c.reportMu.RLock()
	defer c.reportMu.RUnlock()
	out := make(map[domain.ChainID]domain.ChainReport, len(c.lastChain))
	for k, v := range c.lastChain {
		out[k] = v
	}
	return out
}

// LastCycle returns the last full tick report, or nil.
func (c *Controller) LastCycle() *domain.CycleReport {
	c.reportMu.RLock()
	defer c.reportMu.RUnlock()
	return c.lastCycle
}

// Skipped returns the number of overlapping cycles dropped for a chain.
func (c *Controller) Skipped(id domain.ChainID) int64 {
	return c.cfg.Scheduler.Skipped(id)
}
