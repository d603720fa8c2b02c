// Package events defines the event types published on the internal
// bus while inbound device traffic is processed.
package events

import (
	"time"

	"github.com/openwash/fleetd/core/model"
)

// AckEvent is published for each command resolution: acknowledgment,
// timeout, publish failure or cancellation.
type AckEvent struct {
	DeviceID  string
	CommandID string
	Kind      model.CommandKind
	State     model.CommandState
	Err       error
	Latency   time.Duration
}

// StateEvent is published when a device state report has been applied.
type StateEvent struct {
	DeviceID string
	State    map[string]any
}

// LogBatchEvent is published after a device log upload has been
// ingested and confirmed.
type LogBatchEvent struct {
	DeviceID   string
	Accepted   int
	Duplicates int
	Rejected   int
}
