package health

import (
	"math/rand/v2"
	"time"

	"github.com/cuemby/grove/pkg/types"
)

// Config controls how many consecutive terminal results are required before
// a child flips between healthy and unhealthy.
type Config struct {
	// Retries is the number of consecutive failing computations before the
	// child is reported unhealthy.
	Retries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Retries: 3}
}

// Status tracks the health of one computed child across its Computations.
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive non-success
	// terminal results.
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive SUCCESS results.
	ConsecutiveSuccesses int

	// LastChecked is when the last Computation completed.
	LastChecked time.Time

	// LastResult is the terminal Result of the last Computation.
	LastResult types.Result

	// Healthy indicates if the child is currently considered healthy.
	Healthy bool

	// StartedAt is when health tracking started for this child.
	StartedAt time.Time
}

// NewStatus creates a new Status, healthy until proven otherwise.
func NewStatus() *Status {
	return &Status{Healthy: true, StartedAt: time.Now()}
}

// Update folds in the terminal result of a completed Computation. A child
// becomes unhealthy only after Config.Retries consecutive non-success
// results, and healthy again on its very next success — the same hysteresis
// Warren used for container checks, now driven by build outcomes instead of
// network probes.
func (s *Status) Update(result types.Result, at time.Time, cfg Config) {
	s.LastChecked = at
	s.LastResult = result

	if result == types.ResultSuccess {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= cfg.Retries {
		s.Healthy = false
	}
}

// InStartPeriod returns true while a freshly observed child has not yet had
// its first Computation, so orphan/disabled logic can give it a grace period.
func (s *Status) InStartPeriod(grace time.Duration) bool {
	if grace == 0 {
		return false
	}
	return time.Since(s.StartedAt) < grace
}

// ReportCache memoizes an aggregate health report (one Status per child,
// say) and recomputes it on a jittered interval so that many containers
// polled by the host platform at once don't all recompute on the same tick.
// Resolves the HEALTH_REPORT_CACHE_MIN open question: any jittering
// strategy whose mean sits within ±25% of the configured interval is
// acceptable, so refreshes are drawn uniformly from the window's second
// half (mean 0.75×interval).
type ReportCache struct {
	refresh  func() any
	interval time.Duration

	value    any
	expireAt time.Time
}

// NewReportCache builds a cache that calls refresh to recompute its value,
// at most once per interval.
func NewReportCache(interval time.Duration, refresh func() any) *ReportCache {
	return &ReportCache{refresh: refresh, interval: interval}
}

// Get returns the cached value, recomputing it if the jittered deadline has
// passed.
func (c *ReportCache) Get(now time.Time) any {
	if c.value == nil || !now.Before(c.expireAt) {
		c.value = c.refresh()
		c.expireAt = now.Add(c.nextWindow())
	}
	return c.value
}

func (c *ReportCache) nextWindow() time.Duration {
	half := c.interval / 2
	if half <= 0 {
		return c.interval
	}
	jitter := time.Duration(rand.Int64N(int64(half)))
	return half + jitter
}

// ClampHealthReportInterval enforces the documented [10, 1440] minute bound on
// HEALTH_REPORT_CACHE_MIN.
func ClampHealthReportInterval(minutes int) time.Duration {
	switch {
	case minutes < 10:
		minutes = 10
	case minutes > 1440:
		minutes = 1440
	}
	return time.Duration(minutes) * time.Minute
}
