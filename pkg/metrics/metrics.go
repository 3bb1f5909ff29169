package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Container metrics
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grove_containers_total",
			Help: "Total number of computed containers by disabled state",
		},
		[]string{"disabled"},
	)

	ChildrenTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grove_children_total",
			Help: "Total number of children tracked across all containers",
		},
		[]string{"container"},
	)

	// Computation metrics
	ComputationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grove_computation_duration_seconds",
			Help:    "Time taken for a Computation to run to a terminal result",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	ComputationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grove_computations_total",
			Help: "Total number of Computations that reached a terminal result, by result",
		},
		[]string{"result"},
	)

	ComputationsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grove_computations_skipped_total",
			Help: "Total number of scheduleBuild calls refused because the container was disabled, deleted or already running a Computation",
		},
	)

	// Orphan strategy metrics
	OrphansDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grove_orphans_deleted_total",
			Help: "Total number of children deleted by the orphan strategy, by reason",
		},
		[]string{"reason"}, // "num_to_keep" or "days_to_keep"
	)

	// Reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grove_reconciliation_duration_seconds",
			Help:    "Time taken for a Child Observer reconciliation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grove_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	// Throttle metrics
	ThrottleInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grove_throttle_in_flight",
			Help: "Current number of computations admitted by the global throttle",
		},
	)

	ThrottleRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grove_throttle_rejected_total",
			Help: "Total number of queue checks (CanRun) rejected by the global throttle",
		},
	)

	// Event log metrics
	EventLogFlushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grove_eventlog_flush_total",
			Help: "Total number of event log flushes, by trigger",
		},
		[]string{"trigger"}, // "size", "interval", "sentinel"
	)

	EventLogRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grove_eventlog_rotations_total",
			Help: "Total number of event log rotations",
		},
	)

	// Queue gate metrics
	QueueGateBlockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grove_queue_gate_blocked_total",
			Help: "Total number of tasks refused entry by the queue gate due to a disabled ancestor",
		},
	)
)

func init() {
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(ChildrenTotal)
	prometheus.MustRegister(ComputationDuration)
	prometheus.MustRegister(ComputationsTotal)
	prometheus.MustRegister(ComputationsSkippedTotal)
	prometheus.MustRegister(OrphansDeletedTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ThrottleInFlight)
	prometheus.MustRegister(ThrottleRejectedTotal)
	prometheus.MustRegister(EventLogFlushTotal)
	prometheus.MustRegister(EventLogRotationsTotal)
	prometheus.MustRegister(QueueGateBlockedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
