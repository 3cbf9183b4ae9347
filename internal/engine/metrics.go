package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	unitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_engine_units_total",
			Help: "Finished units by kind and status.",
		},
		[]string{"kind", "status"},
	)

	unitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "governor_engine_unit_duration_seconds",
			Help:    "Wall time of finished units by kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	runsAborted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "governor_engine_runs_aborted_total",
			Help: "Runs cut short by an unrecoverable failure.",
		},
	)
)

func init() {
	prometheus.MustRegister(unitsTotal, unitDuration, runsAborted)
}
