package market

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/chain"
)

// ErrNoPair is returned when DexScreener lists no pair for the token on the chain.
var ErrNoPair = errors.New("no trading pair listed")

// Pair is a DexScreener pair entry.
type Pair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD  string `json:"priceUsd"`
	Liquidity *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	FDV       float64 `json:"fdv"`
	MarketCap float64 `json:"marketCap"`
}

func (p Pair) liquidityUSD() float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.USD
}

// DexScreener reads token prices from the DexScreener public API.
type DexScreener struct {
	baseURL  string
	registry *domain.Registry
	client   jsonClient
}

// NewDexScreener creates a DexScreener client.
func NewDexScreener(baseURL string, timeout time.Duration, registry *domain.Registry, retry RetryConfig) *DexScreener {
	return &DexScreener{
		baseURL:  strings.TrimRight(baseURL, "/"),
		registry: registry,
		client:   newJSONClient(timeout, retry),
	}
}

// BestPair returns the most liquid priced pair on the chain whose base token is contract.
func (d *DexScreener) BestPair(ctx context.Context, chainID domain.ChainID, contract domain.ContractAddress) (*Pair, error) {
	profile, err := d.registry.Profile(chainID)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Pairs []Pair `json:"pairs"`
	}
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, url.PathEscape(string(contract)))
	if err := d.client.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	var best *Pair
	for i := range resp.Pairs {
		p := &resp.Pairs[i]
		if p.ChainID != profile.DexScreenerID {
			continue
		}
		if !domain.SameAddress(domain.ContractAddress(p.BaseToken.Address), contract) {
			continue
		}
		if parseFloat(p.PriceUSD) <= 0 {
			continue
		}
		if best == nil || p.liquidityUSD() > best.liquidityUSD() {
			best = p
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoPair, contract, chainID)
	}
	return best, nil
}

// Snapshot returns price, market cap and supply for a token.
// Supply is derived from the fully diluted valuation.
func (d *DexScreener) Snapshot(ctx context.Context, chainID domain.ChainID, contract domain.ContractAddress) (domain.MarketSnapshot, error) {
	pair, err := d.BestPair(ctx, chainID, contract)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	price := parseFloat(pair.PriceUSD)
	snap := domain.MarketSnapshot{
		PriceUSD:     price,
		MarketCapUSD: pair.MarketCap,
		FetchedAt:    time.Now(),
	}
	if snap.MarketCapUSD == 0 {
		snap.MarketCapUSD = pair.FDV
	}
	if pair.FDV > 0 && price > 0 {
		snap.TotalSupply = pair.FDV / price
	}
	return snap, nil
}

// TokenInfo resolves a token's name and symbol from its best pair.
func (d *DexScreener) TokenInfo(ctx context.Context, chainID domain.ChainID, contract domain.ContractAddress) (chain.TokenInfo, error) {
	pair, err := d.BestPair(ctx, chainID, contract)
	if err != nil {
		return chain.TokenInfo{}, err
	}
	return chain.TokenInfo{
		Name:   strings.TrimSpace(pair.BaseToken.Name),
		Symbol: strings.TrimSpace(pair.BaseToken.Symbol),
	}, nil
}

var _ chain.TokenInfoResolver = (*DexScreener)(nil)
