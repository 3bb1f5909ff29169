package metrics

import "time"

// ContainerSnapshot is one computed container's state at collection time.
type ContainerSnapshot struct {
	FullName     string
	Disabled     bool
	ChildCount   int
}

// Registry is the subset of the Computed Container registry the collector
// needs. pkg/container's top-level registry satisfies this without metrics
// importing container and container importing metrics.
type Registry interface {
	Snapshot() []ContainerSnapshot
}

// Collector polls a Registry on an interval and republishes its state as
// gauges, mirroring the node/service poll loop Warren used for its cluster
// metrics.
type Collector struct {
	registry Registry
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector over registry, polling every
// interval.
func NewCollector(registry Registry, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{registry: registry, interval: interval, stopCh: make(chan struct{})}
}

// Start begins collecting metrics in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snapshots := c.registry.Snapshot()

	counts := map[string]int{"true": 0, "false": 0}
	for _, s := range snapshots {
		label := "false"
		if s.Disabled {
			label = "true"
		}
		counts[label]++
		ChildrenTotal.WithLabelValues(s.FullName).Set(float64(s.ChildCount))
	}
	for label, count := range counts {
		ContainersTotal.WithLabelValues(label).Set(float64(count))
	}
}
