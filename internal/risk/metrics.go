package risk

import "github.com/prometheus/client_golang/prometheus"

var (
	evaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cerberus",
		Subsystem: "risk",
		Name:      "evaluations_total",
		Help:      "Login evaluations by resulting action.",
	}, []string{"action"}) // allow|flag|trap

	evaluationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cerberus",
		Subsystem: "risk",
		Name:      "evaluation_errors_total",
		Help:      "Evaluations rejected before a verdict, by stage.",
	}, []string{"stage"})

	scoreDistribution = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cerberus",
		Subsystem: "risk",
		Name:      "total_score",
		Help:      "Distribution of fused risk scores.",
		Buckets:   []float64{0, 25, 30, 50, 70, 80, 100, 130},
	})
)

func init() {
	prometheus.MustRegister(evaluations, evaluationErrors, scoreDistribution)
}
