package decoy

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cerberus",
		Subsystem: "decoy",
		Name:      "sessions_created_total",
		Help:      "Total decoy sessions created.",
	})

	sessionsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cerberus",
		Subsystem: "decoy",
		Name:      "sessions_ended_total",
		Help:      "Total decoy sessions leaving active, by how they ended.",
	}, []string{"status", "path"}) // status: expired|terminated; path: read|sweep|api

	pageVisits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cerberus",
		Subsystem: "decoy",
		Name:      "page_visits_total",
		Help:      "Visit attempts by outcome.",
	}, []string{"outcome"}) // recorded|ignored

	credentialCaptures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cerberus",
		Subsystem: "decoy",
		Name:      "credential_captures_total",
		Help:      "Credential submissions by outcome.",
	}, []string{"outcome"}) // recorded|ignored
)

func init() {
	prometheus.MustRegister(
		sessionsCreated,
		sessionsEnded,
		pageVisits,
		credentialCaptures,
	)
}

func outcome(ok bool) string {
	if ok {
		return "recorded"
	}
	return "ignored"
}
