package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	VotesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "council",
		Name:      "votes_recorded_total",
		Help:      "Vote signals accepted, by decision kind.",
	}, []string{"kind"})

	DecisionsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "council",
		Name:      "decisions_finalized_total",
		Help:      "Decisions that reached a terminal outcome.",
	}, []string{"kind", "outcome"})

	EffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "council",
		Name:      "effect_failures_total",
		Help:      "Directory side effects that failed after retries.",
	}, []string{"effect"})

	CycleRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "council",
		Name:      "scheduler_cycle_runs_total",
		Help:      "Scheduler cycle executions by result.",
	}, []string{"cycle", "result"})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "council",
		Name:      "scheduler_cycle_duration_seconds",
		Help:      "Time spent running a scheduler cycle for one community.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"cycle"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
