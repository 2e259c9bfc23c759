package control

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/buywatch/internal/core/config"
	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/notify"
)

func testConfig() *config.AppConfig {
	cfg, err := config.Parse([]byte(`
server:
  port: 0
telegram:
  dry_run: true
monitor:
  send_interval: 0s
  cycle_timeout: 200ms
chains:
  - id: eth
    scan_interval: 100ms
    providers:
      - name: local
        url: http://127.0.0.1:1
        timeout: 100ms
  - id: solana
    scan_interval: 100ms
    providers:
      - name: local
        url: http://127.0.0.1:1
`))
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestWatcher_Lifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	w, err := NewWatcher(ctx, testConfig())
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if got := w.Controller().Registry().Chains(); len(got) != 2 {
		t.Fatalf("expected 2 chains, got %v", got)
	}
	if w.listener != nil {
		t.Error("dry run should not poll for commands")
	}
	if _, ok := w.notifier.(*notify.LogNotifier); !ok {
		t.Errorf("dry run notifier = %T, want *notify.LogNotifier", w.notifier)
	}

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// No destinations are configured, so cycles complete without touching the RPC.
	time.Sleep(300 * time.Millisecond)
	reports := w.Controller().LastReports()
	if len(reports) == 0 {
		t.Error("expected at least one chain report")
	}
	for id, r := range reports {
		if r.Status != domain.CycleStatusOK {
			t.Errorf("chain %s status = %s (%s), want ok", id, r.Status, r.Error)
		}
	}

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestWatcher_CommandsReachStore(t *testing.T) {
	ctx := context.Background()
	logs := notify.NewLogNotifier(10)

	w, err := NewWatcher(ctx, testConfig(), WithNotifier(logs))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.stores.Close()

	reply, ok := w.Handler().HandleText(ctx, "-1001", "/addtoken ETH 0x6982508145454Ce325dDbE47a25d4ec3d2311933")
	if !ok {
		t.Fatal("command was not handled")
	}
	if reply == "" {
		t.Fatal("empty reply")
	}

	cfg, err := w.stores.Configs.Get(ctx, "-1001")
	if err != nil || cfg == nil {
		t.Fatalf("Get = %v, %v", cfg, err)
	}
	if cfg.WatchCount() != 1 {
		t.Errorf("watch count = %d, want 1", cfg.WatchCount())
	}
}

func TestOpenStores_RequiresDatabaseForPostgresLedger(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.Ledger = "postgres"
	if _, err := OpenStores(context.Background(), cfg); err == nil {
		t.Fatal("expected an error without database.url")
	}
}

func TestNewWatcher_ChainWithoutProviders(t *testing.T) {
	cfg := testConfig()
	cfg.Chains[0].Providers = nil
	if _, err := NewWatcher(context.Background(), cfg); err == nil {
		t.Fatal("expected an error for a chain without providers")
	}
}
