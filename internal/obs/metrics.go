// Metrics exposed at /reversal/metrics, grounded on the example
// pack's chidi150c-coinbase/metrics.go Prometheus wiring.
package obs

import "github.com/prometheus/client_golang/prometheus"

var (
	PredictRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxreversal_predict_requests_total",
			Help: "Prediction requests by signal and model version.",
		},
		[]string{"signal", "model_version"},
	)

	PredictLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fxreversal_predict_latency_seconds",
			Help:    "End-to-end latency of a single prediction.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model_version"},
	)

	Stage1ProbabilityHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fxreversal_stage1_probability",
			Help:    "Distribution of Stage-1 reversal probabilities served.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 10),
		},
	)

	ModelSwitchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxreversal_model_switch_total",
			Help: "Active model version switches.",
		},
		[]string{"to_version"},
	)

	CacheHitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxreversal_cache_hit_total",
			Help: "Cache lookups by outcome (hit|miss|unavailable).",
		},
		[]string{"outcome"},
	)

	ExperimentAssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxreversal_experiment_assignments_total",
			Help: "A/B assignment counts by experiment and variant.",
		},
		[]string{"experiment_id", "variant"},
	)
)

func init() {
	prometheus.MustRegister(
		PredictRequestsTotal,
		PredictLatencySeconds,
		Stage1ProbabilityHistogram,
		ModelSwitchTotal,
		CacheHitTotal,
		ExperimentAssignmentsTotal,
	)
}
