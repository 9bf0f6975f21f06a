package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks run/step counters, scoped to a private registry per
// Engine instance (the same promauto.With(prometheus.NewRegistry())
// pattern internal/health uses) so constructing more than one Engine,
// as tests do, never panics on duplicate collector registration.
type Metrics struct {
	RunsStarted   *prometheus.CounterVec
	RunsCompleted *prometheus.CounterVec
	StepsTotal    *prometheus.CounterVec
	StepRetries   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "execution_runs_started_total",
			Help: "Total number of workflow runs started.",
		}, []string{"workflow_id"}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "execution_runs_completed_total",
			Help: "Total number of workflow runs that reached a terminal state.",
		}, []string{"workflow_id", "status"}),
		StepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "execution_steps_total",
			Help: "Total number of step executions by outcome.",
		}, []string{"workflow_id", "status"}),
		StepRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "execution_step_retries_total",
			Help: "Total number of step retry attempts.",
		}, []string{"workflow_id", "step_id"}),
	}
}
