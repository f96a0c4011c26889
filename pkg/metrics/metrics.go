package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Snapshot assembly metrics
	SnapshotBuilds        *prometheus.CounterVec
	SnapshotBuildDuration *prometheus.HistogramVec
	SectionFailures       *prometheus.CounterVec

	// Query planner metrics
	PlannerQueries   *prometheus.CounterVec
	PlannerFallbacks *prometheus.CounterVec
	DegradedQueries  *prometheus.CounterVec

	// Joiner metrics
	JoinFetches *prometheus.CounterVec
	JoinMisses  *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics on the
// default registry.
func NewMetrics(namespace, subsystem string) *Metrics {
	return newMetrics(namespace, subsystem, prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on a caller-supplied registry; tests use this
// to avoid duplicate registration across cases.
func NewMetricsWith(namespace, subsystem string, reg prometheus.Registerer) *Metrics {
	return newMetrics(namespace, subsystem, reg)
}

func newMetrics(namespace, subsystem string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SnapshotBuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "snapshot_builds_total",
			Help:      "Total number of snapshot builds by role and outcome",
		}, []string{"role", "status"}),
		SnapshotBuildDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "snapshot_build_duration_seconds",
			Help:      "Time spent assembling role snapshots",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"role"}),
		SectionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "snapshot_section_failures_total",
			Help:      "Total number of snapshot sections degraded to empty",
		}, []string{"section"}),
		PlannerQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "planner_queries_total",
			Help:      "Total number of planned collection queries",
		}, []string{"collection", "status"}),
		PlannerFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "planner_fallbacks_total",
			Help:      "Total number of fallback queries by reason",
		}, []string{"collection", "reason"}),
		DegradedQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "planner_degraded_queries_total",
			Help:      "Total number of queries answered from a degraded path",
		}, []string{"collection"}),
		JoinFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "join_fetches_total",
			Help:      "Total number of join target fetches",
		}, []string{"collection"}),
		JoinMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "join_misses_total",
			Help:      "Total number of join targets filled from defaults",
		}, []string{"collection"}),
	}
}
