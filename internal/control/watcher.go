package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	solrpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/vietddude/buywatch/internal/core/config"
	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/core/worker"
	"github.com/vietddude/buywatch/internal/infra/archive"
	"github.com/vietddude/buywatch/internal/infra/chain"
	"github.com/vietddude/buywatch/internal/infra/chain/evm"
	"github.com/vietddude/buywatch/internal/infra/chain/solana"
	"github.com/vietddude/buywatch/internal/infra/market"
	"github.com/vietddude/buywatch/internal/infra/notify"
	"github.com/vietddude/buywatch/internal/infra/rpc/provider"
	"github.com/vietddude/buywatch/internal/infra/rpc/routing"
	"github.com/vietddude/buywatch/internal/monitoring/command"
	"github.com/vietddude/buywatch/internal/monitoring/controller"
	"github.com/vietddude/buywatch/internal/monitoring/health"
	"github.com/vietddude/buywatch/internal/monitoring/metrics"
	"github.com/vietddude/buywatch/internal/monitoring/render"
	"github.com/vietddude/buywatch/internal/monitoring/scheduler"
)

// Watcher is the main application struct that manages the monitor lifecycle.
type Watcher struct {
	cfg          *config.AppConfig
	stores       *Stores
	controller   *controller.Controller
	handler      *command.Handler
	listener     *notify.Listener
	notifier     controller.Notifier
	archive      *archive.Archive
	pruner       *worker.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server
	clients      map[domain.ChainID]*routing.Client
	log          *slog.Logger

	wg sync.WaitGroup
}

// Option customizes a Watcher.
type Option func(*options)

type options struct {
	notifier controller.Notifier
}

// WithNotifier replaces the configured notifier.
func WithNotifier(n controller.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// NewWatcher creates a new Watcher instance with all dependencies initialized.
func NewWatcher(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*Watcher, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	registry, err := domain.NewRegistry(cfg.Profiles())
	if err != nil {
		return nil, fmt.Errorf("failed to build chain registry: %w", err)
	}

	// 1. Storage
	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		cfg:     cfg,
		stores:  stores,
		clients: make(map[domain.ChainID]*routing.Client),
		log:     slog.Default().With("component", "watcher"),
	}

	// 2. Market data
	dex := market.NewDexScreener(cfg.Market.DexScreenerURL, cfg.Market.Timeout, registry, market.DefaultRetryConfig)
	var gecko *market.CoinGecko
	if cfg.Market.CoinGeckoURL != "" {
		gecko = market.NewCoinGecko(
			cfg.Market.CoinGeckoURL,
			cfg.Market.Timeout,
			cfg.Market.NativePriceTTL,
			market.DefaultRetryConfig,
		)
	}

	// 3. Chain data sources
	var (
		sources   []chain.DataSource
		balances  = make(map[domain.ChainID]chain.BalanceReader)
		providers = make(map[domain.ChainID][]provider.Provider)
		intervals = make(map[domain.ChainID]time.Duration)
		chains    []domain.ChainID
	)
	for _, cc := range cfg.Chains {
		if len(cc.Providers) == 0 {
			_ = w.stores.Close()
			return nil, fmt.Errorf("chain %s has no providers", cc.ID)
		}
		intervals[cc.ID] = cc.ScanInterval
		chains = append(chains, cc.ID)

		if cc.ID == domain.ChainSolana {
			// solana-go speaks JSON-RPC itself; failover is left to the endpoint.
			src := solana.NewSource(solrpc.New(cc.Providers[0].URL), stores.Cursors, dex, solana.Config{
				SignatureLimit: cc.SignatureLimit,
			})
			sources = append(sources, src)
			balances[cc.ID] = src
			w.log.Info("Chain source ready", "chain", cc.ID, "provider", cc.Providers[0].Name)
			continue
		}

		var ps []provider.Provider
		for _, pc := range cc.Providers {
			ps = append(ps, provider.NewHTTPProvider(pc.Name, pc.URL, pc.Timeout))
		}
		client := routing.NewClient(cc.ID, ps, routing.DefaultRetryConfig)
		w.clients[cc.ID] = client
		providers[cc.ID] = ps

		src := evm.NewSource(cc.ID, client, stores.Cursors, evm.Config{
			Confirmations: cc.Confirmations,
			MaxBlockRange: cc.MaxBlockRange,
		})
		sources = append(sources, src)
		balances[cc.ID] = src
		w.log.Info("Chain source ready", "chain", cc.ID, "providers", len(ps))
	}

	// 4. Notifier
	var tg *notify.Telegram
	notifier := o.notifier
	if notifier == nil {
		if cfg.Telegram.DryRun {
			notifier = notify.NewLogNotifier(100)
			w.log.Warn("Dry run: messages are logged, not sent")
		} else {
			tg, err = notify.NewTelegram(cfg.Telegram.Token)
			if err != nil {
				_ = w.stores.Close()
				return nil, err
			}
			notifier = tg
		}
	}
	w.notifier = notifier

	// 5. Controller config and delivery archive
	ctrlCfg := controller.Config{
		Registry:      registry,
		Store:         stores.Configs,
		Ledger:        stores.Ledger,
		Scheduler:     scheduler.New(stores.Configs, stores.Pending, sources, cfg.Monitor.Workers),
		Market:        market.NewSource(registry, dex, gecko, balances),
		Notifier:      notifier,
		Renderer:      render.New(cfg.Telegram.CommunityURL),
		CycleTimeout:  cfg.Monitor.CycleTimeout,
		SendInterval:  cfg.Monitor.SendInterval,
		ScanIntervals: intervals,
	}
	admin := health.Admin{
		Token:   cfg.Server.AdminToken,
		Store:   stores.Configs,
		Ledger:  stores.Ledger,
		Pending: stores.Pending,
	}
	if cfg.ClickHouse.Enabled() {
		a, err := archive.Open(ctx, cfg.ClickHouse)
		if err != nil {
			_ = w.stores.Close()
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		w.archive = a
		ctrlCfg.Archive = a
		admin.Stats = a
	}

	// 6. Controller, commands, health
	w.controller = controller.New(ctrlCfg)
	w.handler = command.NewHandler(w.controller, registry)
	if tg != nil && cfg.Telegram.Commands {
		w.listener = notify.NewListener(tg, w.handler)
	}
	w.pruner = worker.NewPruner(stores.Ledger, stores.Pending, cfg.Monitor.Retention)
	w.healthMon = health.NewMonitor(w.controller, chains, intervals, providers)
	w.healthServer = health.NewServer(w.healthMon, w.controller, admin, cfg.Server.Port)

	return w, nil
}

// Controller exposes the cycle driver.
func (w *Watcher) Controller() *controller.Controller {
	return w.controller
}

// Handler exposes the command handler.
func (w *Watcher) Handler() *command.Handler {
	return w.handler
}

// Start starts the watcher and all its components. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	// Start Health Server
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("Health server failed", "error", err)
		}
	}()

	if db := w.stores.DB(); db != nil {
		db.StartMetricsCollector(ctx)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.log.Info("Starting monitor", "chains", len(w.cfg.Chains))
		w.controller.Run(ctx)
	}()

	if w.listener != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.listener.Run(ctx)
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pruner.Start(ctx)
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runMetricsUpdater(ctx)
	}()

	return nil
}

// Stop shuts the HTTP server down, waits for the loops to exit once their context is
// cancelled, and closes the backends.
func (w *Watcher) Stop(ctx context.Context) error {
	w.log.Info("Stopping Watcher...")

	err := w.healthServer.Stop(ctx)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.log.Warn("Timed out waiting for loops to stop")
	}

	for id, c := range w.clients {
		if cerr := c.Close(); cerr != nil {
			w.log.Warn("Failed to close RPC client", "chain", id, "error", cerr)
		}
	}
	if w.archive != nil {
		if cerr := w.archive.Close(); cerr != nil {
			w.log.Warn("Failed to close archive", "error", cerr)
		}
	}
	if cerr := w.stores.Close(); cerr != nil {
		w.log.Warn("Failed to close storage", "error", cerr)
	}
	return err
}

func (w *Watcher) runMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for id, c := range w.clients {
				for _, p := range c.Providers() {
					h := p.GetHealth()
					available := 0.0
					if h.Available {
						available = 1
					}
					metrics.ProviderAvailable.WithLabelValues(string(id), p.GetName()).Set(available)
					metrics.ProviderErrorRate.WithLabelValues(string(id), p.GetName()).Set(h.ErrorRate)
				}
			}
		}
	}
}
