package command

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandsSent    *prometheus.CounterVec
	commandsAcked   *prometheus.CounterVec
	commandsTimeout *prometheus.CounterVec
	commandsFailed  *prometheus.CounterVec
	ackLatency      *prometheus.HistogramVec
	pendingGauge    prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.HistogramVec, prometheus.Gauge) {
	sent := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_commands_sent_total",
			Help: "Number of commands published to devices",
		},
		[]string{"kind"},
	)
	acked := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_commands_acked_total",
			Help: "Number of commands acknowledged by devices",
		},
		[]string{"kind"},
	)
	timeout := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_commands_timeout_total",
			Help: "Number of commands that expired without an acknowledgment",
		},
		[]string{"kind"},
	)
	failed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_commands_failed_total",
			Help: "Number of commands whose publish failed",
		},
		[]string{"kind"},
	)
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "device_command_ack_latency_seconds",
			Help:    "Latency from publish to acknowledgment",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	pending := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "device_commands_pending",
			Help: "Commands currently awaiting acknowledgment",
		},
	)
	return sent, acked, timeout, failed, lat, pending
}

func init() {
	commandsSent, commandsAcked, commandsTimeout, commandsFailed, ackLatency, pendingGauge = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatcher metrics on the provided
// registry. If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(commandsSent, commandsAcked, commandsTimeout, commandsFailed, ackLatency, pendingGauge)
}

// ResetMetrics reinitializes metric collectors for testing purposes
// and registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	commandsSent, commandsAcked, commandsTimeout, commandsFailed, ackLatency, pendingGauge = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
