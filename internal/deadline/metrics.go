package deadline

import "github.com/prometheus/client_golang/prometheus"

var (
	timeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_deadline_timeouts_total",
			Help: "Invocations that exceeded their budget, by strategy and kind.",
		},
		[]string{"strategy", "kind"},
	)

	abandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "governor_deadline_abandoned_total",
			Help: "Goroutines abandoned by the dedicated strategy.",
		},
	)

	abandonedRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "governor_deadline_abandoned_running",
			Help: "Abandoned goroutines that have not returned yet.",
		},
	)

	invocationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "governor_deadline_invocation_duration_seconds",
			Help:    "Wall time of invocations under a deadline, as observed by the caller.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"strategy", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(timeoutsTotal, abandonedTotal, abandonedRunning, invocationSeconds)
}
