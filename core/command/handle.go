package command

import (
	"context"
	"time"

	"github.com/openwash/fleetd/core/model"
)

// Result is the final outcome of a dispatched command.
type Result struct {
	DeviceID  string
	CommandID string
	Kind      model.CommandKind
	State     model.CommandState
	// AckPayload carries whatever the device attached to its ack.
	AckPayload map[string]any
	// Err is set for FAILED and TIMED_OUT outcomes.
	Err     error
	Latency time.Duration
}

// Handle observes the asynchronous resolution of one command. Send
// returns immediately; the outcome arrives on Done exactly once.
type Handle struct {
	deviceID  string
	commandID string
	done      chan Result
}

func newHandle(deviceID, commandID string) *Handle {
	return &Handle{deviceID: deviceID, commandID: commandID, done: make(chan Result, 1)}
}

// DeviceID returns the target device.
func (h *Handle) DeviceID() string { return h.deviceID }

// CommandID returns the identifier correlating the eventual ack.
func (h *Handle) CommandID() string { return h.commandID }

// Done returns the channel carrying the single resolution.
func (h *Handle) Done() <-chan Result { return h.done }

// Wait blocks until resolution or context cancellation.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-h.done:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (h *Handle) resolve(res Result) {
	// Buffered by one and written exactly once by the registry.
	h.done <- res
}
