/*
Package health tracks build-health telemetry for computed containers: the
consecutive-failure/success streak of a child's Computations, and a cache of
the aggregate health report the host platform polls.

# Status

Status implements hysteresis over Computation results rather than raw
network probes:

	Healthy → 1 failing build  → Still healthy
	Healthy → 2 failing builds → Still healthy
	Healthy → 3 failing builds → Unhealthy!
	Unhealthy → 1 success      → Healthy!

Call Update once per completed Computation with its terminal types.Result.

# ReportCache

Host platforms typically poll an aggregate health report across every
container in a tree. ReportCache memoizes that computation and refreshes it
on a jittered interval (the second half of the configured window, mean
0.75×interval) so simultaneous polls across many containers don't all
recompute in the same tick:

	cache := health.NewReportCache(health.ClampHealthReportInterval(cfg.HealthReportCacheM), func() any {
		return computeAggregateReport(containers)
	})
	report := cache.Get(time.Now())
*/
package health
