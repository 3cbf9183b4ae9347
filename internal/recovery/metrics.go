package recovery

import "github.com/prometheus/client_golang/prometheus"

var actionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "governor_recovery_actions_total",
		Help: "Recovery handler decisions by phase and action.",
	},
	[]string{"phase", "action"},
)

func init() {
	prometheus.MustRegister(actionsTotal)

	for _, phase := range []Phase{PhaseExecution, PhaseLifecycle} {
		for _, action := range []Action{ActionSwallowed, ActionRethrown, ActionConverted} {
			actionsTotal.WithLabelValues(string(phase), string(action))
		}
	}
}
