// Package metrics defines the sink interfaces device activity is
// recorded through. Implementations live under infra/metrics.
package metrics

import "time"

// PaymentRecord is one ingested payment event to be recorded.
type PaymentRecord struct {
	DeviceID string
	Type     string
	Status   string
	Amount   float64
	Time     time.Time
}

// LivenessRecord is a point-in-time liveness judgment for a device.
type LivenessRecord struct {
	DeviceID   string
	Offline    bool
	LastSeenMS int64
	Time       time.Time
}

// Sink records fleet activity for observability purposes.
type Sink interface {
	RecordPayment(rec PaymentRecord) error
}

// LivenessRecorder records liveness snapshots. Sinks may implement it
// in addition to Sink.
type LivenessRecorder interface {
	RecordLiveness(rec LivenessRecord) error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordPayment(PaymentRecord) error   { return nil }
func (NopSink) RecordLiveness(LivenessRecord) error { return nil }
