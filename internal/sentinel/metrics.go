package sentinel

import "github.com/prometheus/client_golang/prometheus"

var (
	loginDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cerberus",
		Subsystem: "sentinel",
		Name:      "login_decisions_total",
		Help:      "Login attempts by decision.",
	}, []string{"action"})

	phishingClicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cerberus",
		Subsystem: "sentinel",
		Name:      "phishing_clicks_total",
		Help:      "Phishing simulation clicks that opened a decoy.",
	})
)

func init() {
	prometheus.MustRegister(loginDecisions, phishingClicks)
}
