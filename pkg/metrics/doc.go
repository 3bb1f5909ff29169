/*
Package metrics defines and registers grove's Prometheus metrics and exposes
them over HTTP for scraping, plus the /health, /ready and /live handlers
used by process supervisors.

# Metrics

Containers and children report instant counts (ContainersTotal,
ChildrenTotal); Computations report duration histograms and terminal-result
counters (ComputationDuration, ComputationsTotal); the orphan strategy, the
global throttle, the event log writer and the queue gate each report their
own counters and gauges. All names follow the grove_<component>_<unit>
convention.

# Collector

Collector polls a Registry (satisfied by pkg/container's top-level
registry) on an interval and republishes container/child counts as gauges:

	collector := metrics.NewCollector(registry, 15*time.Second)
	collector.Start()
	defer collector.Stop()

# Timer

Timer is a small stopwatch helper for recording a histogram observation at
the end of an operation:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

# Health endpoints

HealthHandler, ReadyHandler and LivenessHandler read a package-level
component registry (RegisterComponent / UpdateComponent) and serve JSON
status for supervisors. Readiness requires the childstore and eventlog
components to be registered and healthy.
*/
package metrics
