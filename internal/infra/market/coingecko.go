package market

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// CoinGecko reads native asset USD prices, cached per coin id.
type CoinGecko struct {
	baseURL string
	ttl     time.Duration
	client  jsonClient

	mu    sync.Mutex
	cache map[string]cachedPrice
	now   func() time.Time
}

type cachedPrice struct {
	price   float64
	fetched time.Time
}

// NewCoinGecko creates a CoinGecko client.
func NewCoinGecko(baseURL string, timeout, ttl time.Duration, retry RetryConfig) *CoinGecko {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CoinGecko{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		client:  newJSONClient(timeout, retry),
		cache:   make(map[string]cachedPrice),
		now:     time.Now,
	}
}

// NativePrice returns the USD price of a coin, e.g. "ethereum" or "solana".
func (g *CoinGecko) NativePrice(ctx context.Context, coinID string) (float64, error) {
	g.mu.Lock()
	if c, ok := g.cache[coinID]; ok && g.now().Sub(c.fetched) < g.ttl {
		g.mu.Unlock()
		return c.price, nil
	}
	g.mu.Unlock()

	q := url.Values{}
	q.Set("ids", coinID)
	q.Set("vs_currencies", "usd")
	endpoint := g.baseURL + "/simple/price?" + q.Encode()

	var resp map[string]map[string]float64
	if err := g.client.getJSON(ctx, endpoint, &resp); err != nil {
		return 0, err
	}
	price := resp[coinID]["usd"]
	if price <= 0 {
		return 0, fmt.Errorf("no usd price for %s", coinID)
	}

	g.mu.Lock()
	g.cache[coinID] = cachedPrice{price: price, fetched: g.now()}
	g.mu.Unlock()
	return price, nil
}
