package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/buywatch/internal/control"
	"github.com/vietddude/buywatch/internal/core/config"
)

const shutdownTimeout = 15 * time.Second

var (
	cfgPath string
	isDebug bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "buywatch",
	Short: "Token buy monitor",
	Long: `buywatch polls EVM chains and Solana for purchases of watched tokens
and posts them to Telegram chats.`,
	Run: runWatcher,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to the YAML config")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "log at debug level")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log notifications instead of sending them")
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func setupLogging(level string) {
	lvl, ok := logLevels[level]
	if !ok {
		lvl = slog.LevelInfo
	}
	if isDebug {
		lvl = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{Level: lvl, TimeFormat: time.RFC3339})
}

// loadConfig reads .env and --config, then installs the logger. It exits on a bad config.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		setupLogging("")
		slog.Error("Failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging.Level)
	if dryRun {
		cfg.Telegram.DryRun = true
	}
	return cfg
}

func runWatcher(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewWatcher(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize watcher", "error", err)
		os.Exit(1)
	}
	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start watcher", "error", err)
		os.Exit(1)
	}
	slog.Info("Watcher started",
		"config", cfgPath,
		"chains", len(cfg.Chains),
		"port", cfg.Server.Port,
		"dry_run", cfg.Telegram.DryRun,
	)

	<-ctx.Done()
	stop()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("Watcher stopped")
}
