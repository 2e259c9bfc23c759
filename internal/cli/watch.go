package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/buywatch/internal/control"
	"github.com/vietddude/buywatch/internal/core/config"
	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/monitoring/controller"
)

var destination string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage the watch configuration of a destination",
}

var watchAddCmd = &cobra.Command{
	Use:   "add [chain] [contract]",
	Short: "Watch a token for the destination",
	Args:  cobra.ExactArgs(2),
	Run: withWatches(func(ctx context.Context, c *controller.Controller, args []string) error {
		chainID := domain.ParseChainID(args[0])
		if err := c.AddWatch(ctx, destination, chainID, args[1]); err != nil {
			return err
		}
		fmt.Printf("Watching %s on %s for %s\n", args[1], chainID, destination)
		return nil
	}),
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove [chain] [contract]",
	Short: "Stop watching a token for the destination",
	Args:  cobra.ExactArgs(2),
	Run: withWatches(func(ctx context.Context, c *controller.Controller, args []string) error {
		chainID := domain.ParseChainID(args[0])
		if err := c.RemoveWatch(ctx, destination, chainID, args[1]); err != nil {
			return err
		}
		fmt.Printf("Removed %s on %s for %s\n", args[1], chainID, destination)
		return nil
	}),
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tokens watched by the destination",
	Args:  cobra.NoArgs,
	Run: withWatches(func(ctx context.Context, c *controller.Controller, args []string) error {
		cfg, err := c.ListWatches(ctx, destination)
		if err != nil {
			return err
		}
		for _, id := range c.Registry().Chains() {
			for _, tk := range cfg.Watching(id) {
				fmt.Printf("%s\t%s\n", id, tk)
			}
		}
		fmt.Printf("%d token(s), emoji %s\n", cfg.WatchCount(), cfg.Glyph())
		return nil
	}),
}

var watchAnimationCmd = &cobra.Command{
	Use:   "set-animation [url]",
	Short: "Set the animation sent before each buy, empty clears it",
	Args:  cobra.ExactArgs(1),
	Run: withWatches(func(ctx context.Context, c *controller.Controller, args []string) error {
		return c.SetAnimation(ctx, destination, args[0])
	}),
}

var watchEmojiCmd = &cobra.Command{
	Use:   "set-emoji [emoji]",
	Short: "Set the emoji used in buy messages",
	Args:  cobra.ExactArgs(1),
	Run: withWatches(func(ctx context.Context, c *controller.Controller, args []string) error {
		return c.SetEmoji(ctx, destination, args[0])
	}),
}

func init() {
	watchCmd.PersistentFlags().StringVar(&destination, "dest", "", "destination chat id (required)")
	_ = watchCmd.MarkPersistentFlagRequired("dest")
	watchCmd.AddCommand(watchAddCmd, watchRemoveCmd, watchListCmd, watchAnimationCmd, watchEmojiCmd)
	rootCmd.AddCommand(watchCmd)
}

// withWatches runs fn against a controller backed by the configured database.
func withWatches(fn func(ctx context.Context, c *controller.Controller, args []string) error) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		c, closeFn, err := openWatches(ctx, cfg)
		if err != nil {
			slog.Error("Failed to open storage", "error", err)
			os.Exit(1)
		}
		defer closeFn()

		if err := fn(ctx, c, args); err != nil {
			slog.Error("Command failed", "command", cmd.Name(), "destination", destination, "error", err)
			os.Exit(1)
		}
	}
}

func openWatches(ctx context.Context, cfg *config.AppConfig) (*controller.Controller, func(), error) {
	stores, err := control.OpenStores(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if !stores.Persistent {
		_ = stores.Close()
		return nil, nil, fmt.Errorf("watch commands need database.url")
	}
	registry, err := domain.NewRegistry(cfg.Profiles())
	if err != nil {
		_ = stores.Close()
		return nil, nil, err
	}
	c := controller.New(controller.Config{Registry: registry, Store: stores.Configs, Ledger: stores.Ledger})
	return c, func() { _ = stores.Close() }, nil
}
