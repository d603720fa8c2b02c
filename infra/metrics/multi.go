package metrics

import coremetrics "github.com/openwash/fleetd/core/metrics"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordPayment forwards the record to all sinks, returning the first
// error encountered.
func (m *MultiSink) RecordPayment(rec coremetrics.PaymentRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordPayment(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordLiveness forwards liveness snapshots to sinks that support
// them.
func (m *MultiSink) RecordLiveness(rec coremetrics.LivenessRecord) error {
	for _, s := range m.Sinks {
		if lr, ok := s.(coremetrics.LivenessRecorder); ok {
			if err := lr.RecordLiveness(rec); err != nil {
				return err
			}
		}
	}
	return nil
}
