package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsAccepted  prometheus.Counter
	eventsDuplicate prometheus.Counter
	eventsRejected  prometheus.Counter
)

func newCollectors() (prometheus.Counter, prometheus.Counter, prometheus.Counter) {
	acc := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_events_accepted_total",
		Help: "Device-reported events persisted to the ledger",
	})
	dup := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_events_duplicate_total",
		Help: "Device-reported events skipped as idempotent retries",
	})
	rej := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_events_rejected_total",
		Help: "Device-reported events rejected by validation",
	})
	return acc, dup, rej
}

func init() {
	eventsAccepted, eventsDuplicate, eventsRejected = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers ingestion metrics on the provided
// registry. If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(eventsAccepted, eventsDuplicate, eventsRejected)
}

// ResetMetrics reinitializes metric collectors for testing purposes.
func ResetMetrics(reg prometheus.Registerer) {
	eventsAccepted, eventsDuplicate, eventsRejected = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
