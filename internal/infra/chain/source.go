// Package chain defines the per-chain purchase data sources.
package chain

import (
	"context"
	"fmt"
	"sort"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/storage"
)

// DataSource reports new purchases of watched tokens on one chain.
//
// FetchNewPurchases does not advance the read position. The returned batch carries the
// cursors that Commit persists once every event has been handled, so fetching again
// without a commit yields the same events.
type DataSource interface {
	Chain() domain.ChainID
	FetchNewPurchases(ctx context.Context, contracts []domain.ContractAddress) (*Batch, error)
	Commit(ctx context.Context, batch *Batch) error
}

// BalanceReader reads a wallet's token balance in whole-token units.
type BalanceReader interface {
	TokenBalance(ctx context.Context, wallet string, contract domain.ContractAddress) (float64, error)
}

// TokenInfo is the display metadata of a token.
type TokenInfo struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// TokenInfoResolver looks up token metadata when the chain itself does not expose it.
type TokenInfoResolver interface {
	TokenInfo(ctx context.Context, chain domain.ChainID, contract domain.ContractAddress) (TokenInfo, error)
}

// Batch is the result of one fetch.
type Batch struct {
	Chain   domain.ChainID
	Events  []domain.PurchaseEvent
	Cursors []domain.Cursor
}

// Empty reports whether the batch carries nothing to deliver or commit.
func (b *Batch) Empty() bool {
	return b == nil || (len(b.Events) == 0 && len(b.Cursors) == 0)
}

// SortEvents orders events by block, keeping the fetch order within a block.
func SortEvents(events []domain.PurchaseEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].BlockNumber < events[j].BlockNumber
	})
}

// SaveCursors persists every cursor of a batch.
func SaveCursors(ctx context.Context, repo storage.CursorRepository, batch *Batch) error {
	if batch == nil {
		return nil
	}
	for _, c := range batch.Cursors {
		if err := repo.Save(ctx, c); err != nil {
			return fmt.Errorf("failed to save cursor %s/%s: %w", c.Chain, c.Key, err)
		}
	}
	return nil
}

// UniqueContracts drops duplicate contracts by comparison key, keeping first-seen order.
func UniqueContracts(contracts []domain.ContractAddress) []domain.ContractAddress {
	seen := make(map[string]struct{}, len(contracts))
	out := make([]domain.ContractAddress, 0, len(contracts))
	for _, c := range contracts {
		if _, ok := seen[c.Key()]; ok {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	return out
}
