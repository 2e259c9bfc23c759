package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/rpc/provider"
	"github.com/vietddude/buywatch/internal/monitoring/metrics"
)

// ErrNoProviders is returned when a chain has no configured providers.
var ErrNoProviders = errors.New("no rpc providers configured")

// Client routes JSON-RPC calls for one chain across its providers.
// Healthy providers are tried first, in configured order.
type Client struct {
	chain     domain.ChainID
	providers []provider.Provider
	retry     RetryConfig
}

// NewClient creates a failover client for a chain.
func NewClient(chain domain.ChainID, providers []provider.Provider, retry RetryConfig) *Client {
	return &Client{
		chain:     chain,
		providers: providers,
		retry:     retry,
	}
}

// Chain returns the chain this client serves.
func (c *Client) Chain() domain.ChainID {
	return c.chain
}

// Providers returns the configured providers.
func (c *Client) Providers() []provider.Provider {
	return c.providers
}

// Call performs method with failover. A fatal error from any provider aborts the call.
func (c *Client) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if len(c.providers) == 0 {
		return nil, fmt.Errorf("%s: %w", c.chain, ErrNoProviders)
	}

	var lastErr error
	for _, p := range c.ordered() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		result, err := CallWithRetry(ctx, p, method, params, c.retry)
		metrics.RPCCallsTotal.WithLabelValues(string(c.chain), p.GetName(), method).Inc()
		metrics.RPCLatency.WithLabelValues(string(c.chain), p.GetName(), method).Observe(time.Since(start).Seconds())
		if err == nil {
			return result, nil
		}

		metrics.RPCErrorsTotal.WithLabelValues(string(c.chain), p.GetName()).Inc()
		lastErr = err

		action := ClassifyError(err)
		if action == ActionFatal {
			return nil, fmt.Errorf("fatal error from provider %s: %w", p.GetName(), err)
		}
		slog.Debug("RPC provider failed, trying next",
			"chain", c.chain,
			"provider", p.GetName(),
			"method", method,
			"action", action.String(),
			"error", err,
		)
	}

	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// CallResult performs method and decodes the result into out.
func (c *Client) CallResult(ctx context.Context, out any, method string, params ...any) error {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// ordered puts available providers ahead of throttled or failing ones.
func (c *Client) ordered() []provider.Provider {
	out := make([]provider.Provider, 0, len(c.providers))
	var degraded []provider.Provider
	for _, p := range c.providers {
		if p.IsAvailable() {
			out = append(out, p)
		} else {
			degraded = append(degraded, p)
		}
	}
	return append(out, degraded...)
}

// Close closes every provider.
func (c *Client) Close() error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
