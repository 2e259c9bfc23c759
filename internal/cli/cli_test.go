package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/archive"
	"github.com/vietddude/buywatch/internal/infra/storage/memory"
)

func TestWriteCycleReport(t *testing.T) {
	report := domain.CycleReport{
		ID: "c-1",
		Chains: map[domain.ChainID]domain.ChainReport{
			domain.ChainSolana: {Status: domain.CycleStatusPartial, Seen: 2, Notified: 1, Failed: 1, Error: "cycle deadline exceeded"},
			domain.ChainETH:    {Status: domain.CycleStatusOK, Seen: 3, Notified: 3},
		},
	}

	var buf bytes.Buffer
	writeCycleReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "c-1")
	assert.Contains(t, out, "cycle deadline exceeded")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("ETH")), bytes.Index(buf.Bytes(), []byte("SOLANA")), "chains are sorted")
	assert.Contains(t, strings.ToLower(out), "total")
}

func TestWriteDestinations(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	require.NoError(t, ledger.MarkSeen(ctx, "-42", domain.ChainETH, domain.EventKey{TxID: "0x1", Contract: "0xtoken"}, time.Now()))
	require.NoError(t, ledger.MarkSeen(ctx, "-42", domain.ChainETH, domain.EventKey{TxID: "0x2", Contract: "0xtoken"}, time.Now()))

	pending := memory.NewPendingQueue()
	require.NoError(t, pending.Park(ctx, "-42", domain.PurchaseEvent{Chain: domain.ChainETH, Contract: "0xToken", TxID: "0x3"}))

	cfg := domain.NewDestination("-42")
	cfg.AddWatch(domain.ChainETH, "0xToken")
	cfg.Emoji = "🐸"

	var buf bytes.Buffer
	require.NoError(t, writeDestinations(ctx, &buf, []domain.DestinationConfig{cfg}, ledger, pending))
	out := buf.String()

	assert.Contains(t, out, "-42")
	assert.Contains(t, out, "0xToken")
	assert.Contains(t, out, "🐸")
	assert.Contains(t, strings.ToLower(out), "pending")
	assert.Contains(t, strings.ToLower(out), "1 destination(s)")
}

func TestWriteStats(t *testing.T) {
	var buf bytes.Buffer
	writeStats(&buf, []archive.ChainStats{{Chain: domain.ChainBase, Purchases: 7, USDVolume: 1234.5}})
	assert.Contains(t, buf.String(), "1234.50")
	assert.Contains(t, buf.String(), "BASE")
}
