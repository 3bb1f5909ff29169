package container

import (
	"sync"

	"github.com/cuemby/grove/pkg/cron"
	"github.com/cuemby/grove/pkg/health"
	"github.com/cuemby/grove/pkg/log"
	"github.com/cuemby/grove/pkg/metrics"
)

// Registry tracks every ComputedContainer live in this process, satisfying
// metrics.Registry so the Collector can poll it without either package
// importing the other's concrete type.
type Registry struct {
	mu         sync.RWMutex
	containers map[string]*ComputedContainer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{containers: make(map[string]*ComputedContainer)}
}

// Add registers c under its full name, replacing any prior entry.
func (r *Registry) Add(c *ComputedContainer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers[c.FullName] = c
}

// Remove drops a container from the registry, e.g. after Delete.
func (r *Registry) Remove(fullName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers, fullName)
}

// Get returns the container registered under fullName, if any.
func (r *Registry) Get(fullName string) (*ComputedContainer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.containers[fullName]
	return c, ok
}

// Runners implements cron.Registry by flattening every container's
// attached triggers into one list of TriggerRunner.
func (r *Registry) Runners() []cron.TriggerRunner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []cron.TriggerRunner
	for _, c := range r.containers {
		for _, t := range c.Triggers() {
			runner, err := NewTriggerRunner(c, t)
			if err != nil {
				log.WithContainer(c.FullName).Warn().Err(err).Msg("skipping trigger with invalid coarse schedule")
				continue
			}
			out = append(out, runner)
		}
	}
	return out
}

// HealthReport returns every registered container's build-health snapshot,
// keyed by full name. This is the refresh function HEALTH_REPORT_CACHE_MIN
// drives through a health.ReportCache.
func (r *Registry) HealthReport() map[string]health.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report := make(map[string]health.Status, len(r.containers))
	for name, c := range r.containers {
		report[name] = c.Health()
	}
	return report
}

// Snapshot implements metrics.Registry.
func (r *Registry) Snapshot() []metrics.ContainerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]metrics.ContainerSnapshot, 0, len(r.containers))
	for _, c := range r.containers {
		out = append(out, metrics.ContainerSnapshot{
			FullName:   c.FullName,
			Disabled:   c.IsDisabled(),
			ChildCount: c.ChildCount(),
		})
	}
	return out
}
