package container

import (
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/cuemby/grove/pkg/trigger"
)

// TriggerRunner adapts one (container, trigger) pair to pkg/cron's
// TriggerRunner interface: Due consults the trigger's coarse schedule so
// the minute tick doesn't bother invoking Run() on containers whose
// trigger has nothing new to decide this minute (spec §4.8's closing
// paragraph: the coarse schedule is "purely to choose how often run()
// itself is called").
type TriggerRunner struct {
	Container *ComputedContainer
	Trigger   trigger.Trigger
	schedule  cronlib.Schedule
}

// NewTriggerRunner builds a TriggerRunner, pre-computing the trigger's
// coarse crontab schedule.
func NewTriggerRunner(c *ComputedContainer, t trigger.Trigger) (*TriggerRunner, error) {
	sched, err := t.CoarseSchedule()
	if err != nil {
		return nil, err
	}
	return &TriggerRunner{Container: c, Trigger: t, schedule: sched}, nil
}

// Due reports whether the coarse schedule says this minute is one where
// the trigger should be asked to run.
func (r *TriggerRunner) Due(minute time.Time) bool {
	next := r.schedule.Next(minute.Add(-time.Second))
	return !next.After(minute)
}

// Run invokes the trigger's run() algorithm against the container.
func (r *TriggerRunner) Run() {
	r.Trigger.Run(r.Container)
}
