package domain

import "time"

// CycleStatus summarizes how a chain cycle ended.
type CycleStatus string

const (
	CycleStatusOK      CycleStatus = "ok"
	CycleStatusPartial CycleStatus = "partial" // deadline hit or events left for the next cycle
	CycleStatusFailed  CycleStatus = "failed"
	CycleStatusSkipped CycleStatus = "skipped" // previous cycle still running
)

// ChainReport holds the counters of one chain cycle.
type ChainReport struct {
	Chain    ChainID       `json:"chain"`
	Status   CycleStatus   `json:"status"`
	Seen     int           `json:"seen"`
	Notified int           `json:"notified"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Invalid  int           `json:"invalid"`
	Pending  int           `json:"pending"` // parked pairs left for later cycles
	Error    string        `json:"error,omitempty"`
	Started  time.Time     `json:"started_at"`
	Duration time.Duration `json:"duration"`
}

// CycleReport is the result of one tick across all chains.
type CycleReport struct {
	ID        string                  `json:"id"`
	StartedAt time.Time               `json:"started_at"`
	Chains    map[ChainID]ChainReport `json:"chains"`
}

// Failed reports whether any chain cycle failed outright.
func (r CycleReport) Failed() bool {
	for _, c := range r.Chains {
		if c.Status == CycleStatusFailed {
			return true
		}
	}
	return false
}

// Totals sums the per-chain counters.
func (r CycleReport) Totals() ChainReport {
	var t ChainReport
	for _, c := range r.Chains {
		t.Seen += c.Seen
		t.Notified += c.Notified
		t.Skipped += c.Skipped
		t.Failed += c.Failed
		t.Invalid += c.Invalid
		t.Pending += c.Pending
	}
	return t
}
