package provider

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	trackerWindow = 50
	minSamples    = 10

	slowAnswer      = 3 * time.Second
	throttleDefault = time.Minute
	blockCooldown   = 10 * time.Minute

	// Above this failure share, with no success within recoveryGrace, the endpoint is
	// dropped to the back of the failover order.
	unhealthyRate = 0.5
	recoveryGrace = time.Minute
)

var throttleMarkers = []string{
	"rate limit",
	"too many requests",
	"request count exceeded",
	"quota exceeded",
	"compute units",
}

// IsThrottleMessage reports whether an error body reads like a rate-limit reply.
func IsThrottleMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range throttleMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

type outcome struct {
	latency time.Duration
	failed  bool
}

// Tracker keeps the outcome of the last calls to one endpoint together with any cooldown
// the endpoint imposed. Old outcomes fall out of the window, so a provider recovers once
// it answers again.
type Tracker struct {
	mu sync.Mutex

	ring  [trackerWindow]outcome
	next  int
	count int

	coolUntil time.Time
	coolKind  Status

	created     time.Time
	lastSuccess time.Time
	lastFailure time.Time

	now func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.created = t.now()
	return t
}

// Success records an answered call.
func (t *Tracker) Success(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.push(outcome{latency: latency})
	t.lastSuccess = t.now()
}

// Failure records a call that produced no usable answer.
func (t *Tracker) Failure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.push(outcome{failed: true})
	t.lastFailure = t.now()
}

// Throttle records a 429 or 403 reply and starts the matching cooldown. retryAfter is the
// raw Retry-After header, either delta seconds or an HTTP date.
func (t *Tracker) Throttle(code int, retryAfter string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.push(outcome{failed: true})
	t.lastFailure = now

	if code == http.StatusForbidden {
		t.coolKind = StatusBlocked
		t.coolUntil = now.Add(blockCooldown)
		return
	}
	wait, ok := parseRetryAfter(retryAfter, now)
	if !ok {
		wait = throttleDefault
	}
	t.coolKind = StatusThrottled
	t.coolUntil = now.Add(wait)
}

func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, secs > 0
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}

func (t *Tracker) push(o outcome) {
	t.ring[t.next] = o
	t.next = (t.next + 1) % trackerWindow
	if t.count < trackerWindow {
		t.count++
	}
}

// RetryAfter is the time left on the current cooldown.
func (t *Tracker) RetryAfter() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d := t.coolUntil.Sub(t.now()); d > 0 {
		return d
	}
	return 0
}

// Status classifies the endpoint from its cooldown and recent window.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(t.now())
}

// Snapshot summarizes the window.
func (t *Tracker) Snapshot() HealthStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	latency, rate := t.stats()
	h := HealthStatus{
		Status:        t.statusLocked(now),
		Latency:       latency,
		ErrorRate:     rate,
		LastSuccessAt: t.lastSuccess,
		LastErrorAt:   t.lastFailure,
	}

	since := t.lastSuccess
	if since.IsZero() {
		since = t.created
	}
	failing := t.count >= minSamples && rate > unhealthyRate && now.Sub(since) > recoveryGrace
	h.Available = !failing && !h.Status.Cooling()
	return h
}

func (t *Tracker) statusLocked(now time.Time) Status {
	if now.Before(t.coolUntil) {
		return t.coolKind
	}
	if t.count < minSamples {
		return StatusHealthy
	}
	latency, rate := t.stats()
	if latency > slowAnswer || rate > unhealthyRate {
		return StatusDegraded
	}
	return StatusHealthy
}

// stats returns the mean latency of successful calls and the failure share of the window.
func (t *Tracker) stats() (time.Duration, float64) {
	if t.count == 0 {
		return 0, 0
	}
	var (
		total  time.Duration
		ok     int
		failed int
	)
	for _, o := range t.ring[:t.count] {
		if o.failed {
			failed++
			continue
		}
		total += o.latency
		ok++
	}
	var mean time.Duration
	if ok > 0 {
		mean = total / time.Duration(ok)
	}
	return mean, float64(failed) / float64(t.count)
}
