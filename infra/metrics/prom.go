package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/openwash/fleetd/core/metrics"
)

// PromSink records fleet activity in Prometheus metrics.
type PromSink struct {
	payments *prometheus.CounterVec
	revenue  *prometheus.CounterVec
	offline  *prometheus.GaugeVec
}

// NewPromSink registers fleet metrics on the default Prometheus
// registerer. The Prometheus server should be started separately using
// cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_payment_events_total",
		Help: "Ingested payment events by device and status",
	}, []string{"device_id", "type", "status"})
	revenue := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_payment_amount_total",
		Help: "Sum of ingested payment amounts by device",
	}, []string{"device_id"})
	offline := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_device_offline",
		Help: "1 when the device's latest liveness judgment is offline",
	}, []string{"device_id"})

	if err := reg.Register(payments); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			payments = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(revenue); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			revenue = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(offline); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			offline = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return nil, err
		}
	}
	return &PromSink{payments: payments, revenue: revenue, offline: offline}, nil
}

// RecordPayment increments the counters for one payment event.
func (s *PromSink) RecordPayment(rec coremetrics.PaymentRecord) error {
	s.payments.WithLabelValues(rec.DeviceID, rec.Type, rec.Status).Inc()
	if rec.Status == "SUCCEEDED" && rec.Amount > 0 {
		s.revenue.WithLabelValues(rec.DeviceID).Add(rec.Amount)
	}
	return nil
}

// RecordLiveness sets the offline gauge for the device.
func (s *PromSink) RecordLiveness(rec coremetrics.LivenessRecord) error {
	v := 0.0
	if rec.Offline {
		v = 1.0
	}
	s.offline.WithLabelValues(rec.DeviceID).Set(v)
	return nil
}
