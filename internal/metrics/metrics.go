package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OutboxRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stocksync_outbox_records_total",
			Help: "Outbox records handed to the shared log",
		},
		[]string{"outcome"}, // appended|failed
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stocksync_events_total",
			Help: "Announcements seen by the dispatcher",
		},
		[]string{"type", "outcome"}, // processed|duplicate|rejected|handler_failed
	)

	PurchasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stocksync_purchases_total",
			Help: "Purchase attempts by kind and outcome",
		},
		[]string{"kind", "outcome"}, // local|remote|applied , ok|not_found|insufficient|unavailable|error
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stocksync_heartbeats_total",
			Help: "Heartbeats written by this store",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		OutboxRecordsTotal,
		EventsTotal,
		PurchasesTotal,
		HeartbeatsTotal,
	)
}
