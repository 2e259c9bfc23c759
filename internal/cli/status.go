package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vietddude/buywatch/internal/control"
	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/archive"
	"github.com/vietddude/buywatch/internal/infra/storage"
	"github.com/vietddude/buywatch/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show destinations, read cursors and delivery totals",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stores, err := control.OpenStores(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = stores.Close()
	}()
	if !stores.Persistent {
		slog.Warn("No database configured, status only covers this process")
	}

	cfgs, err := stores.Configs.List(ctx)
	if err != nil {
		slog.Error("Failed to list destinations", "error", err)
		os.Exit(1)
	}
	if err := writeDestinations(ctx, os.Stdout, cfgs, stores.Ledger, stores.Pending); err != nil {
		slog.Error("Failed to count notifications", "error", err)
		os.Exit(1)
	}

	if db := stores.DB(); db != nil {
		if v, err := db.SchemaVersion(ctx); err == nil {
			fmt.Printf("Schema version %d\n", v)
		}
		cursors, err := postgres.NewCursorRepo(db).List(ctx)
		if err != nil {
			slog.Error("Failed to query cursors", "error", err)
			os.Exit(1)
		}
		writeCursors(os.Stdout, cursors)
	}

	if cfg.ClickHouse.Enabled() {
		a, err := archive.Open(ctx, cfg.ClickHouse)
		if err != nil {
			slog.Error("Failed to open archive", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = a.Close()
		}()
		stats, err := a.Stats(ctx)
		if err != nil {
			slog.Error("Failed to read archive stats", "error", err)
			os.Exit(1)
		}
		writeStats(os.Stdout, stats)
	}
}

func writeDestinations(ctx context.Context, out io.Writer, cfgs []domain.DestinationConfig, ledger storage.DedupLedger, pending storage.PendingQueue) error {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("Destinations")
	t.AppendHeader(table.Row{"Destination", "Chain", "Tokens", "Notified", "Pending", "Emoji", "Animation"})

	for _, cfg := range cfgs {
		chains := make([]string, 0, len(cfg.Watches))
		for id := range cfg.Watches {
			chains = append(chains, string(id))
		}
		sort.Strings(chains)

		for _, c := range chains {
			id := domain.ChainID(c)
			tokens := cfg.Watching(id)
			if len(tokens) == 0 {
				continue
			}
			n, err := ledger.Count(ctx, cfg.ID, id)
			if err != nil {
				return err
			}
			parked, err := pending.Count(ctx, cfg.ID, id)
			if err != nil {
				return err
			}
			names := make([]string, len(tokens))
			for i, tk := range tokens {
				names[i] = string(tk)
			}
			t.AppendRow(table.Row{cfg.ID, c, strings.Join(names, "\n"), n, parked, cfg.Glyph(), cfg.AnimationURL})
		}
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", fmt.Sprintf("%d destination(s)", len(cfgs))})
	t.Render()
	return nil
}

func writeCursors(out io.Writer, cursors []domain.Cursor) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("Cursors")
	t.AppendHeader(table.Row{"Chain", "Key", "Position", "Updated"})
	for _, c := range cursors {
		t.AppendRow(table.Row{c.Chain, c.Key, c.Position, c.UpdatedAt.Format(time.RFC3339)})
	}
	t.Render()
}

func writeStats(out io.Writer, stats []archive.ChainStats) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("Delivered")
	t.AppendHeader(table.Row{"Chain", "Purchases", "Volume USD", "Last"})
	for _, s := range stats {
		t.AppendRow(table.Row{s.Chain, s.Purchases, fmt.Sprintf("%.2f", s.USDVolume), s.LastNotified.Format(time.RFC3339)})
	}
	t.Render()
}

func writeCycleReport(out io.Writer, report domain.CycleReport) {
	ids := make([]string, 0, len(report.Chains))
	for id := range report.Chains {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle("Cycle " + report.ID)
	t.AppendHeader(table.Row{"Chain", "Status", "Seen", "Notified", "Skipped", "Failed", "Invalid", "Duration", "Error"})
	for _, id := range ids {
		c := report.Chains[domain.ChainID(id)]
		t.AppendRow(table.Row{
			id, c.Status, c.Seen, c.Notified, c.Skipped, c.Failed, c.Invalid,
			c.Duration.Round(time.Millisecond), c.Error,
		})
	}
	tot := report.Totals()
	t.AppendFooter(table.Row{"Total", "", tot.Seen, tot.Notified, tot.Skipped, tot.Failed, tot.Invalid, "", ""})
	t.Render()
}
