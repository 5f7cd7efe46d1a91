// Package metricsvc exposes the integrity engine's prometheus metrics.
package metricsvc

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	violationsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mitihani",
		Name:      "violations_recorded_total",
		Help:      "Violations appended to the ledger, by type.",
	}, []string{"type"})

	admissionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mitihani",
		Name:      "admissions_rejected_total",
		Help:      "Exam requests rejected before processing, by reason.",
	}, []string{"reason"})

	enforcementDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mitihani",
		Name:      "enforcement_decisions_total",
		Help:      "Policy decisions on admitted requests, by decision.",
	}, []string{"decision"})

	notificationsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mitihani",
		Name:      "notifications_queued_total",
		Help:      "Events accepted by the notification dispatcher, by type.",
	}, []string{"type"})

	notificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mitihani",
		Name:      "notifications_dropped_total",
		Help:      "Events dropped because the notification queue was full, by type.",
	}, []string{"type"})
)

func ViolationRecorded(typ string)      { violationsRecorded.WithLabelValues(typ).Inc() }
func AdmissionRejected(reason string)   { admissionsRejected.WithLabelValues(reason).Inc() }
func EnforcementDecision(decision string) { enforcementDecisions.WithLabelValues(decision).Inc() }
func NotificationQueued(typ string)     { notificationsQueued.WithLabelValues(typ).Inc() }
func NotificationDropped(typ string)    { notificationsDropped.WithLabelValues(typ).Inc() }

// Handler serves the metrics endpoint, mounted on the debug mux.
func Handler() http.Handler {
	return promhttp.Handler()
}
