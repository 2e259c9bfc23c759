package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// RPCError is the error object of a JSON-RPC reply.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ThrottleError reports an endpoint that refused the call because of rate limiting,
// either while its cooldown is running or from the reply itself.
type ThrottleError struct {
	Provider   string
	Status     Status
	RetryAfter time.Duration
	Detail     string
}

func (e *ThrottleError) Error() string {
	msg := fmt.Sprintf("provider %s %s", e.Provider, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter.Round(time.Second))
	}
	return msg
}

// StatusError is a non-200 HTTP reply that is not a rate limit.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// HTTPProvider is a Provider speaking JSON-RPC over HTTP POST.
type HTTPProvider struct {
	name     string
	endpoint string
	client   *http.Client
	ids      atomic.Uint64
	tracker  *Tracker
}

// NewHTTPProvider returns a provider for endpoint. timeout bounds each request.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tracker: NewTracker(),
	}
}

// Call sends one request. While a 429 or 403 cooldown is running it fails fast with a
// ThrottleError instead of reaching the endpoint.
func (p *HTTPProvider) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if wait := p.tracker.RetryAfter(); wait > 0 {
		return nil, &ThrottleError{Provider: p.name, Status: p.tracker.Status(), RetryAfter: wait}
	}
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: p.ids.Add(1), Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	start := time.Now()
	body, err := p.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		p.tracker.Failure()
		return nil, fmt.Errorf("failed to decode %s reply: %w", method, err)
	}
	if resp.Error != nil {
		p.tracker.Failure()
		if IsThrottleMessage(resp.Error.Message) {
			return nil, &ThrottleError{Provider: p.name, Status: StatusThrottled, Detail: resp.Error.Message}
		}
		return nil, resp.Error
	}

	p.tracker.Success(time.Since(start))
	return resp.Result, nil
}

// post delivers payload and returns the body of a 200 reply. Every other outcome is
// recorded on the tracker.
func (p *HTTPProvider) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.tracker.Failure()
		return nil, fmt.Errorf("failed to reach %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusForbidden:
		p.tracker.Throttle(resp.StatusCode, resp.Header.Get("Retry-After"))
		return nil, &ThrottleError{
			Provider:   p.name,
			Status:     p.tracker.Status(),
			RetryAfter: p.tracker.RetryAfter(),
			Detail:     http.StatusText(resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.tracker.Failure()
		return nil, fmt.Errorf("failed to read reply from %s: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		p.tracker.Failure()
		if IsThrottleMessage(string(body)) {
			return nil, &ThrottleError{Provider: p.name, Status: StatusThrottled, Detail: string(body)}
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (p *HTTPProvider) GetName() string {
	return p.name
}

func (p *HTTPProvider) GetHealth() HealthStatus {
	return p.tracker.Snapshot()
}

func (p *HTTPProvider) IsAvailable() bool {
	return p.tracker.Snapshot().Available
}

// Close drops idle keep-alive connections.
func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
