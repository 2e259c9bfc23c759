package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/buywatch/internal/control"
	"github.com/vietddude/buywatch/internal/core/worker"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete dedup records older than monitor.retention",
	Run:   runPrune,
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single cycle on every chain and print the report",
	Run:   runTick,
}

func init() {
	tickCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log notifications instead of sending them")
	rootCmd.AddCommand(pruneCmd, tickCmd)
}

func runPrune(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stores, err := control.OpenStores(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = stores.Close()
	}()

	n, err := worker.NewPruner(stores.Ledger, stores.Pending, cfg.Monitor.Retention).PruneOnce(ctx)
	if err != nil {
		slog.Error("Failed to prune", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Pruned %d record(s) older than %s\n", n, cfg.Monitor.Retention)
}

func runTick(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewWatcher(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize Watcher", "error", err)
		os.Exit(1)
	}

	report := app.Controller().Tick(ctx)
	writeCycleReport(os.Stdout, report)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		slog.Warn("Error during shutdown", "error", err)
	}
	if report.Failed() {
		os.Exit(1)
	}
}
