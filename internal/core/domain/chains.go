package domain

import (
	"fmt"
	"sort"
	"strings"
)

type ChainID string

const (
	ChainETH    ChainID = "ETH"
	ChainSolana ChainID = "SOLANA"
	ChainBNB    ChainID = "BNB"
	ChainBase   ChainID = "BASE"
)

// AddressKind selects the address validity rules of a chain.
type AddressKind string

const (
	AddressKindEVM    AddressKind = "evm"
	AddressKindSolana AddressKind = "solana"
)

// ParseChainID normalizes user input ("eth", " Solana ") to a ChainID.
// It does not check that the chain is registered.
func ParseChainID(s string) ChainID {
	return ChainID(strings.ToUpper(strings.TrimSpace(s)))
}

// ChainProfile is the static per-chain metadata used for link building and valuation.
type ChainProfile struct {
	ID             ChainID
	Name           string
	NativeSymbol   string
	ExplorerURL    string
	NativePriceUSD float64
	ChartTemplate  string // {addr} is replaced with the contract address
	TradeTemplate  string
	AddressKind    AddressKind
	DexScreenerID  string
	CoinGeckoID    string
}

// Complete reports whether every field needed for rendering is set.
func (p ChainProfile) Complete() bool {
	return p.ID != "" && p.Name != "" && p.NativeSymbol != "" && p.ExplorerURL != "" &&
		p.ChartTemplate != "" && p.TradeTemplate != ""
}

// ChartLink builds the chart URL for a contract.
func (p ChainProfile) ChartLink(contract ContractAddress) string {
	return strings.ReplaceAll(p.ChartTemplate, "{addr}", string(contract))
}

// TradeLink builds the swap URL for a contract.
func (p ChainProfile) TradeLink(contract ContractAddress) string {
	return strings.ReplaceAll(p.TradeTemplate, "{addr}", string(contract))
}

// DefaultProfiles are the built-in chain profiles.
var DefaultProfiles = map[ChainID]ChainProfile{
	ChainETH: {
		ID:             ChainETH,
		Name:           "Ethereum",
		NativeSymbol:   "ETH",
		ExplorerURL:    "https://etherscan.io",
		NativePriceUSD: 3500,
		ChartTemplate:  "https://www.geckoterminal.com/eth/pools/{addr}",
		TradeTemplate:  "https://app.uniswap.org/swap?chain=ethereum&outputCurrency={addr}",
		AddressKind:    AddressKindEVM,
		DexScreenerID:  "ethereum",
		CoinGeckoID:    "ethereum",
	},
	ChainSolana: {
		ID:             ChainSolana,
		Name:           "Solana",
		NativeSymbol:   "SOL",
		ExplorerURL:    "https://solscan.io",
		NativePriceUSD: 150,
		ChartTemplate:  "https://www.geckoterminal.com/solana/pools/{addr}",
		TradeTemplate:  "https://jup.ag/swap/SOL-{addr}",
		AddressKind:    AddressKindSolana,
		DexScreenerID:  "solana",
		CoinGeckoID:    "solana",
	},
	ChainBNB: {
		ID:             ChainBNB,
		Name:           "BNB Chain",
		NativeSymbol:   "BNB",
		ExplorerURL:    "https://bscscan.com",
		NativePriceUSD: 600,
		ChartTemplate:  "https://www.geckoterminal.com/bsc/pools/{addr}",
		TradeTemplate:  "https://pancakeswap.finance/swap?outputCurrency={addr}",
		AddressKind:    AddressKindEVM,
		DexScreenerID:  "bsc",
		CoinGeckoID:    "binancecoin",
	},
	ChainBase: {
		ID:             ChainBase,
		Name:           "Base",
		NativeSymbol:   "ETH",
		ExplorerURL:    "https://basescan.org",
		NativePriceUSD: 3500,
		ChartTemplate:  "https://www.geckoterminal.com/base/pools/{addr}",
		TradeTemplate:  "https://app.uniswap.org/swap?chain=base&outputCurrency={addr}",
		AddressKind:    AddressKindEVM,
		DexScreenerID:  "base",
		CoinGeckoID:    "ethereum",
	},
}

// Registry maps every supported chain to exactly one profile.
// It is built once at startup and read-only afterwards.
type Registry struct {
	profiles map[ChainID]ChainProfile
}

// NewRegistry builds a registry from the given profiles.
func NewRegistry(profiles map[ChainID]ChainProfile) (*Registry, error) {
	r := &Registry{profiles: make(map[ChainID]ChainProfile, len(profiles))}
	for id, p := range profiles {
		if p.ID == "" {
			p.ID = id
		}
		if p.ID != id {
			return nil, fmt.Errorf("profile %s registered under %s", p.ID, id)
		}
		if !p.Complete() {
			return nil, fmt.Errorf("incomplete profile for chain %s", id)
		}
		r.profiles[id] = p
	}
	return r, nil
}

// DefaultRegistry returns a registry of the built-in profiles.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultProfiles)
	if err != nil {
		panic(err)
	}
	return r
}

// Profile returns the profile for a chain or ErrUnknownChain.
func (r *Registry) Profile(id ChainID) (ChainProfile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return ChainProfile{}, fmt.Errorf("%w: %s", ErrUnknownChain, id)
	}
	return p, nil
}

// Has reports whether the chain is registered.
func (r *Registry) Has(id ChainID) bool {
	_, ok := r.profiles[id]
	return ok
}

// Chains returns the registered chain ids in sorted order.
func (r *Registry) Chains() []ChainID {
	ids := make([]ChainID, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
