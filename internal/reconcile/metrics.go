package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	passesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paydrift",
		Subsystem: "reconcile",
		Name:      "passes_total",
		Help:      "Total reconciliation passes by outcome.",
	}, []string{"outcome"}) // "applied", "no_pending", "no_subscription", "lock_timeout", "error"

	passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paydrift",
		Subsystem: "reconcile",
		Name:      "pass_duration_seconds",
		Help:      "Duration of a full reconciliation pass in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	eventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paydrift",
		Subsystem: "reconcile",
		Name:      "events_ingested_total",
		Help:      "Inbound provider events recorded by kind.",
	}, []string{"kind", "duplicate"})

	eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paydrift",
		Subsystem: "reconcile",
		Name:      "events_processed_total",
		Help:      "Events marked processed by kind.",
	}, []string{"kind"})

	emailsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paydrift",
		Subsystem: "reconcile",
		Name:      "emails_sent_total",
		Help:      "Dunning and dispute emails sent by type.",
	}, []string{"type"}) // "payment_failed", "payment_recovered", "dispute_created"

	triggerDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paydrift",
		Subsystem: "reconcile",
		Name:      "triggers_dropped_total",
		Help:      "Reconciliation triggers dropped because the queue was full. The sweeper picks these customers up.",
	})

	sweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paydrift",
		Subsystem: "reconcile",
		Name:      "sweeps_total",
		Help:      "Total sweeper runs.",
	})
)

func init() {
	prometheus.MustRegister(
		passesTotal,
		passDuration,
		eventsIngested,
		eventsProcessed,
		emailsSent,
		triggerDropped,
		sweepsTotal,
	)
}
