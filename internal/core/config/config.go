package config

import (
	"time"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/archive"
	redisclient "github.com/vietddude/buywatch/internal/infra/redis"
	"github.com/vietddude/buywatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Database   postgres.Config    `yaml:"database"`
	Redis      redisclient.Config `yaml:"redis"`
	ClickHouse archive.Config     `yaml:"clickhouse"`
	Telegram   TelegramConfig     `yaml:"telegram"`
	Market     MarketConfig       `yaml:"market"`
	Monitor    MonitorConfig      `yaml:"monitor"`
	Chains     []ChainConfig      `yaml:"chains"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	AdminToken string `yaml:"admin_token"` // bearer token for /api/admin, empty disables the check
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// TelegramConfig configures the bot used for notifications and operator commands.
type TelegramConfig struct {
	Token        string `yaml:"token"`
	Commands     bool   `yaml:"commands"` // long-poll for operator commands
	DryRun       bool   `yaml:"dry_run"`  // log messages instead of sending
	CommunityURL string `yaml:"community_url"`
}

// MarketConfig configures the market data clients.
type MarketConfig struct {
	DexScreenerURL string        `yaml:"dexscreener_url"`
	CoinGeckoURL   string        `yaml:"coingecko_url"`
	Timeout        time.Duration `yaml:"timeout"`
	NativePriceTTL time.Duration `yaml:"native_price_ttl"`
}

// MonitorConfig tunes the polling and dispatch pipeline.
type MonitorConfig struct {
	Workers      int           `yaml:"workers"`       // parallel destinations per chain cycle
	SendInterval time.Duration `yaml:"send_interval"` // pacing between notifier sends
	CycleTimeout time.Duration `yaml:"cycle_timeout"` // per chain cycle deadline
	Retention    time.Duration `yaml:"retention"`     // dedup horizon, 0 = keep forever
	Ledger       string        `yaml:"ledger"`        // memory, redis, postgres
}

// ChainConfig holds settings for a specific blockchain.
type ChainConfig struct {
	ID             domain.ChainID   `yaml:"id"`
	ScanInterval   time.Duration    `yaml:"scan_interval"`
	Confirmations  uint64           `yaml:"confirmations"`   // EVM only
	MaxBlockRange  uint64           `yaml:"max_block_range"` // EVM only
	SignatureLimit int              `yaml:"signature_limit"` // Solana only
	Providers      []ProviderConfig `yaml:"providers"`

	// Optional overrides of the built-in chain profile.
	ExplorerURL    string  `yaml:"explorer_url"`
	NativePriceUSD float64 `yaml:"native_price_usd"`
	ChartTemplate  string  `yaml:"chart_template"`
	TradeTemplate  string  `yaml:"trade_template"`
}

// ProviderConfig holds settings for an RPC provider.
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Profiles merges chain overrides into the built-in profiles for the configured chains.
func (c *AppConfig) Profiles() map[domain.ChainID]domain.ChainProfile {
	out := make(map[domain.ChainID]domain.ChainProfile, len(c.Chains))
	for _, cc := range c.Chains {
		p, ok := domain.DefaultProfiles[cc.ID]
		if !ok {
			p = domain.ChainProfile{ID: cc.ID}
		}
		if cc.ExplorerURL != "" {
			p.ExplorerURL = cc.ExplorerURL
		}
		if cc.NativePriceUSD > 0 {
			p.NativePriceUSD = cc.NativePriceUSD
		}
		if cc.ChartTemplate != "" {
			p.ChartTemplate = cc.ChartTemplate
		}
		if cc.TradeTemplate != "" {
			p.TradeTemplate = cc.TradeTemplate
		}
		out[cc.ID] = p
	}
	return out
}
