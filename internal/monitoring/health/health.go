// Package health provides system health monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/buywatch/internal/core/domain"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ProviderHealth is the state of one RPC endpoint.
type ProviderHealth struct {
	Name      string        `json:"name"`
	Available bool          `json:"available"`
	Status    string        `json:"status"`
	Latency   time.Duration `json:"latency"`
	ErrorRate float64       `json:"error_rate"`
}

// ChainHealth contains health metrics for a specific chain.
type ChainHealth struct {
	Chain         domain.ChainID     `json:"chain"`
	Status        SystemStatus       `json:"status"`
	LastCycle     domain.CycleStatus `json:"last_cycle,omitempty"`
	LastCycleAt   time.Time          `json:"last_cycle_at,omitempty"`
	LastError     string             `json:"last_error,omitempty"`
	Stale         bool               `json:"stale"`
	SkippedCycles int64              `json:"skipped_cycles"`
	Providers     []ProviderHealth   `json:"providers,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus                   `json:"system_status"`
	Chains       map[domain.ChainID]ChainHealth `json:"chains"`
}

// Worst aggregates chain states: any critical chain makes the system critical.
func Worst(chains map[domain.ChainID]ChainHealth) SystemStatus {
	status := StatusHealthy
	for _, c := range chains {
		if c.Status == StatusCritical {
			return StatusCritical
		}
		if c.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}
