package config

import (
	"fmt"
	"os"
	"time"

	"github.com/vietddude/buywatch/internal/core/domain"
	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${VAR} references and applying defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Telegram.CommunityURL == "" {
		cfg.Telegram.CommunityURL = "https://t.me/buyxanbot"
	}

	if cfg.Market.DexScreenerURL == "" {
		cfg.Market.DexScreenerURL = "https://api.dexscreener.com"
	}
	if cfg.Market.CoinGeckoURL == "" {
		cfg.Market.CoinGeckoURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.Market.Timeout == 0 {
		cfg.Market.Timeout = 10 * time.Second
	}
	if cfg.Market.NativePriceTTL == 0 {
		cfg.Market.NativePriceTTL = time.Minute
	}

	if cfg.Monitor.Workers <= 0 {
		cfg.Monitor.Workers = 2
	}
	if cfg.Monitor.SendInterval == 0 {
		cfg.Monitor.SendInterval = time.Second
	}
	if cfg.Monitor.CycleTimeout == 0 {
		cfg.Monitor.CycleTimeout = 30 * time.Second
	}
	if cfg.Monitor.Retention == 0 {
		cfg.Monitor.Retention = 7 * 24 * time.Hour
	}
	if cfg.Monitor.Ledger == "" {
		cfg.Monitor.Ledger = "memory"
	}

	for i := range cfg.Chains {
		c := &cfg.Chains[i]
		c.ID = domain.ParseChainID(string(c.ID))
		if c.ScanInterval == 0 {
			c.ScanInterval = 10 * time.Second
		}
		if c.MaxBlockRange == 0 {
			c.MaxBlockRange = 500
		}
		if c.SignatureLimit == 0 {
			c.SignatureLimit = 25
		}
		for j := range c.Providers {
			if c.Providers[j].Timeout == 0 {
				c.Providers[j].Timeout = 10 * time.Second
			}
		}
	}
}

func (c *AppConfig) validate() error {
	seen := make(map[domain.ChainID]bool)
	for _, cc := range c.Chains {
		if _, ok := domain.DefaultProfiles[cc.ID]; !ok {
			return fmt.Errorf("%w: %q", domain.ErrUnknownChain, cc.ID)
		}
		if seen[cc.ID] {
			return fmt.Errorf("chain %s configured twice", cc.ID)
		}
		seen[cc.ID] = true
	}
	switch c.Monitor.Ledger {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unsupported ledger backend %q", c.Monitor.Ledger)
	}
	if c.Monitor.Ledger == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("ledger backend redis requires redis.url")
	}
	if c.Monitor.Ledger == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("ledger backend postgres requires database.url")
	}
	return nil
}
