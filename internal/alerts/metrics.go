package alerts

import "github.com/prometheus/client_golang/prometheus"

var (
	alertsStored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cerberus",
		Subsystem: "alerts",
		Name:      "stored_total",
		Help:      "Alert persistence attempts by result.",
	}, []string{"result"})

	deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cerberus",
		Subsystem: "alerts",
		Name:      "deliveries_total",
		Help:      "Live alert delivery attempts by outcome.",
	}, []string{"outcome"}) // delivered|unreachable|failed
)

func init() {
	prometheus.MustRegister(alertsStored, deliveries)
}
