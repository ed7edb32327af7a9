package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AttemptsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizbook_attempts_recorded_total",
			Help: "Attempts recorded, by result, container kind and draft state",
		},
		[]string{"result", "container", "state"},
	)

	AttemptsRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizbook_attempts_removed_total",
			Help: "Attempts removed by retraction or question deletion",
		},
		[]string{"operation"},
	)

	InvariantViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quizbook_invariant_violations_total",
			Help: "Corrupted attempt histories detected",
		},
	)

	AnalyticsDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quizbook_analytics_duration_seconds",
			Help:    "Time spent loading and aggregating a quiz book",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
)

// Register adds the collectors to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(AttemptsRecorded, AttemptsRemoved, InvariantViolations, AnalyticsDuration)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
