// Package cron drives the minute tick that walks every computed container's
// attached triggers (spec §4.10). It owns the only wall-clock-aligned timer
// in the process; everything else reacts to it.
package cron

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/grove/pkg/log"
)

// TriggerRunner is one (container, trigger) pair the Cron drives on every
// tick it is due.
type TriggerRunner interface {
	// Due reports whether sched says this trigger should run at minute t.
	Due(t time.Time) bool
	// Run invokes the trigger's run() algorithm; panics/errors are caught
	// by the Cron loop and logged, never allowed to stop the tick (spec
	// §4.10: "Exceptions thrown by any trigger are caught and logged").
	Run()
}

// Registry supplies the current set of runners on every tick; grove's
// container registry implements this by flattening container -> triggers.
type Registry interface {
	Runners() []TriggerRunner
}

// Cron ticks every 60 seconds, aligned to the wall-clock minute, and on
// each tick asks every registered trigger to run if due.
type Cron struct {
	registry Registry
	logger   zerolog.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	lastTick time.Time
	running  bool
}

// New creates a Cron driving registry.
func New(registry Registry) *Cron {
	return &Cron{
		registry: registry,
		logger:   log.WithComponent("cron"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the minute-tick loop in the background.
func (c *Cron) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.lastTick = time.Now().Truncate(time.Minute)
	c.mu.Unlock()

	go c.run()
}

// Stop halts the loop.
func (c *Cron) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()
	close(c.stopCh)
}

func (c *Cron) run() {
	for {
		next := c.nextWholeMinute()
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			c.catchUpAndTick(next)
		case <-c.stopCh:
			timer.Stop()
			return
		}
	}
}

func (c *Cron) nextWholeMinute() time.Time {
	now := time.Now()
	return now.Truncate(time.Minute).Add(time.Minute)
}

// catchUpAndTick advances the internal reference calendar one minute at a
// time from lastTick up to wallTime, firing a tick for each intended
// minute (spec §4.10: "On wake-up after a suspension it catches up ...
// so a paused process still fires triggers exactly once per intended
// minute").
func (c *Cron) catchUpAndTick(wallTime time.Time) {
	c.mu.Lock()
	cursor := c.lastTick.Add(time.Minute)
	c.mu.Unlock()

	for !cursor.After(wallTime) {
		c.tick(cursor)
		cursor = cursor.Add(time.Minute)
	}

	c.mu.Lock()
	c.lastTick = wallTime
	c.mu.Unlock()
}

func (c *Cron) tick(minute time.Time) {
	for _, runner := range c.registry.Runners() {
		c.runSafely(minute, runner)
	}
}

func (c *Cron) runSafely(minute time.Time, runner TriggerRunner) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Time("minute", minute).Msg("trigger run panicked")
		}
	}()
	if !runner.Due(minute) {
		return
	}
	runner.Run()
}
