package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/chain"
)

// Source combines DexScreener token prices, CoinGecko native prices and
// per-chain wallet balance readers.
type Source struct {
	registry *domain.Registry
	dex      *DexScreener
	gecko    *CoinGecko
	balances map[domain.ChainID]chain.BalanceReader
	log      *slog.Logger
}

// NewSource creates a market data source. gecko may be nil, in which case snapshots
// carry no native price and rendering uses the chain's reference price.
func NewSource(
	registry *domain.Registry,
	dex *DexScreener,
	gecko *CoinGecko,
	balances map[domain.ChainID]chain.BalanceReader,
) *Source {
	if balances == nil {
		balances = make(map[domain.ChainID]chain.BalanceReader)
	}
	return &Source{
		registry: registry,
		dex:      dex,
		gecko:    gecko,
		balances: balances,
		log:      slog.Default().With("component", "market"),
	}
}

// GetSnapshot returns a token's market snapshot.
func (s *Source) GetSnapshot(ctx context.Context, chainID domain.ChainID, contract domain.ContractAddress) (domain.MarketSnapshot, error) {
	profile, err := s.registry.Profile(chainID)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	snap, err := s.dex.Snapshot(ctx, chainID, contract)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: %v", domain.ErrMarketDataUnavailable, err)
	}

	if s.gecko != nil && profile.CoinGeckoID != "" {
		native, err := s.gecko.NativePrice(ctx, profile.CoinGeckoID)
		if err != nil {
			s.log.Debug("Native price unavailable, using reference price",
				"chain", chainID,
				"coin", profile.CoinGeckoID,
				"error", err,
			)
		} else {
			snap.NativePriceUSD = native
		}
	}
	return snap, nil
}

// GetWalletBalance returns a wallet's balance of the token.
func (s *Source) GetWalletBalance(
	ctx context.Context,
	chainID domain.ChainID,
	wallet string,
	contract domain.ContractAddress,
) (float64, error) {
	reader, ok := s.balances[chainID]
	if !ok {
		return 0, fmt.Errorf("%w: no balance reader for %s", domain.ErrMarketDataUnavailable, chainID)
	}
	bal, err := reader.TokenBalance(ctx, wallet, contract)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrMarketDataUnavailable, err)
	}
	return bal, nil
}
