package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/openwash/fleetd/core/metrics"
)

type countingSink struct {
	payments int
	liveness int
}

func (c *countingSink) RecordPayment(coremetrics.PaymentRecord) error { c.payments++; return nil }
func (c *countingSink) RecordLiveness(coremetrics.LivenessRecord) error {
	c.liveness++
	return nil
}

func TestMultiSinkFanOut(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	m := NewMultiSink(a, b, coremetrics.NopSink{})

	require.NoError(t, m.RecordPayment(coremetrics.PaymentRecord{DeviceID: "d1", Status: "SUCCEEDED", Amount: 50, Time: time.Now()}))
	require.NoError(t, m.RecordLiveness(coremetrics.LivenessRecord{DeviceID: "d1", Offline: true, Time: time.Now()}))

	assert.Equal(t, 1, a.payments)
	assert.Equal(t, 1, b.payments)
	assert.Equal(t, 1, a.liveness)
	assert.Equal(t, 1, b.liveness)
}

func TestPromSinkRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	require.NoError(t, err)
	// A second construction reuses the registered collectors.
	s, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	require.NoError(t, err)
	require.NoError(t, s.RecordPayment(coremetrics.PaymentRecord{DeviceID: "d1", Type: "PAYMENT", Status: "SUCCEEDED", Amount: 10}))
	require.NoError(t, s.RecordLiveness(coremetrics.LivenessRecord{DeviceID: "d1", Offline: false}))
}
