package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/buywatch/internal/core/domain"
	"github.com/vietddude/buywatch/internal/infra/rpc/provider"
)

// Reports exposes the cycle results of the monitor loop.
type Reports interface {
	LastReports() map[domain.ChainID]domain.ChainReport
	LastCycle() *domain.CycleReport
	Skipped(chain domain.ChainID) int64
}

// Monitor derives chain health from the last cycle reports and the RPC providers.
type Monitor struct {
	reports   Reports
	chains    []domain.ChainID
	intervals map[domain.ChainID]time.Duration
	providers map[domain.ChainID][]provider.Provider
	now       func() time.Time

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport map[domain.ChainID]ChainHealth
}

// NewMonitor creates a health monitor. intervals is the expected time between two
// cycles of each chain.
func NewMonitor(
	reports Reports,
	chains []domain.ChainID,
	intervals map[domain.ChainID]time.Duration,
	providers map[domain.ChainID][]provider.Provider,
) *Monitor {
	return &Monitor{
		reports:    reports,
		chains:     chains,
		intervals:  intervals,
		providers:  providers,
		now:        time.Now,
		lastReport: make(map[domain.ChainID]ChainHealth),
	}
}

// CheckHealth evaluates every chain. Results are reused for a second to keep
// repeated health checks cheap.
func (m *Monitor) CheckHealth(ctx context.Context) map[domain.ChainID]ChainHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastCheck) < time.Second && len(m.lastReport) > 0 {
		return m.lastReport
	}

	last := m.reports.LastReports()
	report := make(map[domain.ChainID]ChainHealth, len(m.chains))
	for _, id := range m.chains {
		h := ChainHealth{
			Chain:         id,
			Status:        StatusHealthy,
			SkippedCycles: m.reports.Skipped(id),
		}

		if cr, ok := last[id]; ok {
			h.LastCycle = cr.Status
			h.LastCycleAt = cr.Started
			h.LastError = cr.Error
			switch {
			case cr.Status == domain.CycleStatusFailed:
				h.Status = StatusCritical
			case cr.Status == domain.CycleStatusPartial || cr.Failed > 0:
				h.Status = StatusDegraded
			}
			if interval := m.intervals[id]; interval > 0 && now.Sub(cr.Started.Add(cr.Duration)) > 3*interval {
				h.Stale = true
				h.Status = worse(h.Status, StatusDegraded)
			}
		}

		providers := m.providers[id]
		available := 0
		for _, p := range providers {
			ph := p.GetHealth()
			if ph.Available {
				available++
			}
			h.Providers = append(h.Providers, ProviderHealth{
				Name:      p.GetName(),
				Available: ph.Available,
				Status:    ph.Status.String(),
				Latency:   ph.Latency,
				ErrorRate: ph.ErrorRate,
			})
		}
		switch {
		case len(providers) > 0 && available == 0:
			h.Status = StatusCritical
		case available < len(providers):
			h.Status = worse(h.Status, StatusDegraded)
		}

		report[id] = h
	}

	m.lastCheck = now
	m.lastReport = report
	return report
}

func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
