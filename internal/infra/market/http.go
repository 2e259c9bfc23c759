// Package market reads token and native asset prices from public market APIs.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig controls retries of market API requests.
type RetryConfig struct {
	MaxTries     uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig retries three times starting at half a second.
var DefaultRetryConfig = RetryConfig{
	MaxTries:     3,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// StatusError is a non-2xx response from a market API.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: http %d: %s", e.URL, e.Status, e.Body)
}

type jsonClient struct {
	httpClient *http.Client
	retry      RetryConfig
}

func newJSONClient(timeout time.Duration, retry RetryConfig) jsonClient {
	if retry.MaxTries == 0 {
		retry = DefaultRetryConfig
	}
	return jsonClient{
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
	}
}

// getJSON fetches url into out. 4xx responses other than 429 and undecodable
// bodies are not retried.
func (c jsonClient) getJSON(ctx context.Context, url string, out any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retry.InitialDelay
	policy.MaxInterval = c.retry.MaxDelay

	operation := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("GET %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr := &StatusError{URL: url, Status: resp.StatusCode, Body: string(body)}
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
					return struct{}{}, backoff.RetryAfter(secs)
				}
				return struct{}{}, statusErr
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				return struct{}{}, backoff.Permanent(statusErr)
			default:
				return struct{}{}, statusErr
			}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("decode %s: %w", url, err))
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.retry.MaxTries),
	)
	return err
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
