package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProvider_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req["method"] != "eth_blockNumber" {
			t.Errorf("unexpected method %v", req["method"])
		}
		if _, ok := req["params"].([]any); !ok {
			t.Errorf("params must be an array, got %T", req["params"])
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("test", server.URL, time.Second)
	raw, err := p.Call(context.Background(), "eth_blockNumber", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil || hex != "0x10" {
		t.Errorf("expected 0x10, got %s (%v)", raw, err)
	}
	if !p.IsAvailable() {
		t.Error("provider should be available after success")
	}
}

func TestHTTPProvider_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("test", server.URL, time.Second)
	_, err := p.Call(context.Background(), "eth_getLogs", []any{})

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32602 {
		t.Fatalf("expected RPCError -32602, got %v", err)
	}
}

func TestHTTPProvider_RateLimited(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewHTTPProvider("test", server.URL, time.Second)
	_, err := p.Call(context.Background(), "eth_blockNumber", nil)
	var throttle *ThrottleError
	if !errors.As(err, &throttle) || throttle.Status != StatusThrottled {
		t.Fatalf("expected a throttle error, got %v", err)
	}
	if throttle.RetryAfter <= 0 || throttle.RetryAfter > time.Minute {
		t.Errorf("retry after = %v", throttle.RetryAfter)
	}

	// Second call short-circuits while cooling down
	if _, err := p.Call(context.Background(), "eth_blockNumber", nil); !errors.As(err, &throttle) {
		t.Fatalf("expected throttled error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls)
	}
	if p.IsAvailable() {
		t.Error("throttled provider should not be available")
	}
}

func TestHTTPProvider_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	p := NewHTTPProvider("test", server.URL, time.Second)
	_, err := p.Call(context.Background(), "eth_blockNumber", nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
	if h := p.GetHealth(); h.ErrorRate != 1 || h.LastErrorAt.IsZero() {
		t.Errorf("failure not recorded: %+v", h)
	}
}

func TestHTTPProvider_ThrottleInBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"daily request count exceeded"}}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("test", server.URL, time.Second)
	_, err := p.Call(context.Background(), "eth_getLogs", []any{})

	var throttle *ThrottleError
	if !errors.As(err, &throttle) {
		t.Fatalf("expected a throttle error, got %v", err)
	}
}
