// Package provider talks JSON-RPC to a single node endpoint and keeps a rolling view of
// how that endpoint has been answering.
package provider

import (
	"context"
	"encoding/json"
	"time"
)

// Provider is one JSON-RPC endpoint of a chain.
type Provider interface {
	GetName() string
	GetHealth() HealthStatus
	IsAvailable() bool
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)
	Close() error
}

// Status classifies how an endpoint is answering right now.
type Status int

const (
	StatusHealthy Status = iota
	// StatusDegraded means slow answers or a high share of failures.
	StatusDegraded
	// StatusThrottled is a 429 cooldown.
	StatusThrottled
	// StatusBlocked is a 403 cooldown.
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "healthy"
	}
}

// Cooling reports whether the endpoint asked to be left alone.
func (s Status) Cooling() bool {
	return s == StatusThrottled || s == StatusBlocked
}

// HealthStatus is a snapshot of the recent calls made to a provider. Latency is the mean
// over the successful calls in the window and ErrorRate the share of failed ones.
type HealthStatus struct {
	Available     bool
	Status        Status
	Latency       time.Duration
	ErrorRate     float64
	LastSuccessAt time.Time
	LastErrorAt   time.Time
}
