// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Verification results
const (
	ResultValid   = "valid"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Outbox outcomes
const (
	OutcomeEnqueued = "enqueued"
	OutcomeDone     = "done"
	OutcomeRetry    = "retry"
	OutcomeDead     = "dead"
)

var (
	GateVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_verifications_total",
		Help: "Access code verifications performed at the gate, by result.",
	}, []string{"result"})

	OutboxEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_total",
		Help: "Outbox events processed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	OutboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbox_events",
		Help: "Rows in the Postgres outbox, by status. Sampled by the cleanup loop.",
	}, []string{"status"})

	WatchSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guest_message_subscribers",
		Help: "Open guest message subscriptions.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
