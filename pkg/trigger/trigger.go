// Package trigger implements the Periodic Trigger: a per-container timer
// that asks to schedule a build once its configured interval has mostly
// elapsed (spec §4.8).
package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuemby/grove/pkg/types"
)

// intervalPattern matches the persisted interval grammar (spec §6):
// digits optionally followed by a unit; unit-less means minutes.
var intervalPattern = regexp.MustCompile(`^(\d+)(ms|s|m|h|d)?$`)

// ParseInterval parses a human interval string into a clamped duration
// (spec §6: "values clamped to [1 minute, 30 days]").
func ParseInterval(s string) (time.Duration, error) {
	m := intervalPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("trigger: invalid interval %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("trigger: invalid interval %q: %w", s, err)
	}

	var d time.Duration
	switch m[2] {
	case "ms":
		d = time.Duration(n) * time.Millisecond
	case "s":
		d = time.Duration(n) * time.Second
	case "h":
		d = time.Duration(n) * time.Hour
	case "d":
		d = time.Duration(n) * 24 * time.Hour
	case "m", "":
		d = time.Duration(n) * time.Minute
	}

	return clamp(d), nil
}

func clamp(d time.Duration) time.Duration {
	if d < types.MinTriggerInterval {
		return types.MinTriggerInterval
	}
	if d > types.MaxTriggerInterval {
		return types.MaxTriggerInterval
	}
	return d
}

// enqueueDelay and jitterDivisor implement the almostInterval formula
// of spec §4.8 step 2.
const (
	enqueueDelay  = 5 * time.Second
	jitterDivisor = 20
)

// Container is the minimal surface a Trigger needs from a Computed
// Container: when it last ran, and how to ask for a new run.
type Container interface {
	LastComputationTimestamp() (time.Time, bool)
	ScheduleBuild(delay time.Duration, cause types.Cause) bool
}

// Trigger fires a build once roughly Interval has elapsed since the
// container's last recorded computation.
type Trigger struct {
	Interval time.Duration
}

// New constructs a Trigger, clamping interval to the documented bounds.
func New(interval time.Duration) Trigger {
	return Trigger{Interval: clamp(interval)}
}

// almostInterval compensates for minute-granularity dispatch jitter and
// the fixed enqueue delay (spec §4.8 step 2).
func (t Trigger) almostInterval() time.Duration {
	return t.Interval - t.Interval/jitterDivisor - 15*time.Second
}

// Run implements spec §4.8's run() algorithm: it is meant to be called
// once per minute tick (or on the trigger's own coarser schedule).
func (t Trigger) Run(container Container) {
	last, ok := container.LastComputationTimestamp()
	if !ok {
		// First scheduling is handled separately at creation time.
		return
	}
	if time.Since(last) < t.almostInterval() {
		return
	}
	container.ScheduleBuild(enqueueDelay, types.TimerCause{})
}

// CoarseSchedule returns a crontab-style schedule used purely to decide how
// often Run itself needs to be invoked; running Run more often never
// changes outcomes (spec §4.8, closing paragraph).
func (t Trigger) CoarseSchedule() (cron.Schedule, error) {
	return cron.ParseStandard(t.CoarseSpec())
}

// CoarseSpec returns the crontab expression CoarseSchedule parses, for
// diagnostics that want to display it without a cron.Schedule in hand.
func (t Trigger) CoarseSpec() string {
	return coarseSpec(t.Interval)
}

// coarseSpec picks a crontab expression that fires at least as often as
// necessary to notice the interval has almost elapsed.
func coarseSpec(interval time.Duration) string {
	switch {
	case interval <= 5*time.Minute:
		return "* * * * *"
	case interval <= 15*time.Minute:
		return "*/5 * * * *"
	case interval <= 30*time.Minute:
		return "*/15 * * * *"
	case interval <= time.Hour:
		return "*/30 * * * *"
	case interval <= 24*time.Hour:
		hours := int(interval / time.Hour)
		if hours < 1 {
			hours = 1
		}
		return fmt.Sprintf("0 */%d * * *", hours)
	default:
		return "0 0 * * *"
	}
}
