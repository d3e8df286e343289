package cerbhttp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics tracks issuance and validation outcomes. Registered on the
// server's own registry so multiple servers can coexist in one process.
type metrics struct {
	registry *prometheus.Registry

	ticketsIssued      *prometheus.CounterVec
	authFailures       *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	replaysDetected    prometheus.Counter
	decisionsGranted   prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		ticketsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cerberos",
			Name:      "tickets_issued_total",
			Help:      "Tickets issued, by kind (tgt, st, renewal).",
		}, []string{"kind"}),
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cerberos",
			Name:      "auth_failures_total",
			Help:      "Authentication failures, by reason.",
		}, []string{"reason"}),
		validationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cerberos",
			Name:      "validation_failures_total",
			Help:      "Ticket validation failures, by reason.",
		}, []string{"reason"}),
		replaysDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cerberos",
			Name:      "replays_detected_total",
			Help:      "Nonce replays rejected by the replay guard.",
		}),
		decisionsGranted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cerberos",
			Name:      "authorization_decisions_granted_total",
			Help:      "Service validations that granted access.",
		}),
	}
}
