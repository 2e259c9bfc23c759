package provider

import (
	"net/http"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker()
	tr.now = clock.now
	tr.created = clock.t
	return tr, clock
}

func TestTracker_Latency(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Success(100 * time.Millisecond)
	tr.Success(300 * time.Millisecond)
	tr.Failure()

	h := tr.Snapshot()
	if h.Latency != 200*time.Millisecond {
		t.Errorf("latency = %v, want 200ms", h.Latency)
	}
	if h.ErrorRate < 0.33 || h.ErrorRate > 0.34 {
		t.Errorf("error rate = %v, want 1/3", h.ErrorRate)
	}

	// Old samples leave the window.
	for i := 0; i < 2*trackerWindow; i++ {
		tr.Success(50 * time.Millisecond)
	}
	h = tr.Snapshot()
	if h.Latency != 50*time.Millisecond || h.ErrorRate != 0 {
		t.Errorf("window did not roll: %+v", h)
	}
}

func TestTracker_Throttle(t *testing.T) {
	tr, clock := newTestTracker()
	if tr.Status() != StatusHealthy {
		t.Fatal("new tracker should be healthy")
	}

	tr.Throttle(http.StatusTooManyRequests, "30")
	if got := tr.Status(); got != StatusThrottled {
		t.Errorf("status = %s, want throttled", got)
	}
	if got := tr.RetryAfter(); got != 30*time.Second {
		t.Errorf("retry after = %v, want 30s", got)
	}
	if tr.Snapshot().Available {
		t.Error("throttled endpoint reported available")
	}

	clock.t = clock.t.Add(31 * time.Second)
	if got := tr.Status(); got != StatusHealthy {
		t.Errorf("status after cooldown = %s, want healthy", got)
	}

	tr.Throttle(http.StatusForbidden, "")
	if got := tr.Status(); got != StatusBlocked {
		t.Errorf("status = %s, want blocked", got)
	}
	if got := tr.RetryAfter(); got != blockCooldown {
		t.Errorf("retry after = %v, want %v", got, blockCooldown)
	}
}

func TestTracker_RetryAfterDate(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Throttle(http.StatusTooManyRequests, clock.t.Add(2*time.Minute).Format(http.TimeFormat))
	if got := tr.RetryAfter(); got != 2*time.Minute {
		t.Errorf("retry after = %v, want 2m", got)
	}

	tr.Throttle(http.StatusTooManyRequests, "soon")
	if got := tr.RetryAfter(); got != throttleDefault {
		t.Errorf("unparseable header: retry after = %v, want %v", got, throttleDefault)
	}
}

func TestTracker_FailingThenRecovering(t *testing.T) {
	tr, clock := newTestTracker()
	for i := 0; i < minSamples; i++ {
		tr.Failure()
	}
	if !tr.Snapshot().Available {
		t.Error("failures inside the grace period should not mark the endpoint unavailable")
	}

	clock.t = clock.t.Add(recoveryGrace + time.Second)
	h := tr.Snapshot()
	if h.Available || h.Status != StatusDegraded {
		t.Errorf("expected unavailable and degraded, got %+v", h)
	}

	for i := 0; i < trackerWindow; i++ {
		tr.Success(10 * time.Millisecond)
	}
	h = tr.Snapshot()
	if !h.Available || h.Status != StatusHealthy {
		t.Errorf("expected recovery, got %+v", h)
	}
}

func TestIsThrottleMessage(t *testing.T) {
	if !IsThrottleMessage("Project Rate Limit reached") {
		t.Error("expected match")
	}
	if !IsThrottleMessage("Your app has exceeded its compute units per second capacity") {
		t.Error("expected match")
	}
	if IsThrottleMessage("execution reverted") {
		t.Error("unexpected match")
	}
}
