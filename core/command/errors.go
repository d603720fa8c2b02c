package command

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError reports a malformed command payload. It is returned
// synchronously, before anything is published.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid command: %s", e.Reason)
	}
	return fmt.Sprintf("invalid command: %s: %s", e.Field, e.Reason)
}

// TransportError reports a failed publish. The command never left the
// system, so retrying is safe.
type TransportError struct {
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError reports no ack before the deadline. The outcome is
// ambiguous: the device may or may not have executed the command, so
// callers must never treat it as a plain failure. The dispatcher does
// not retry on its own; blind retries of non-idempotent commands like
// MANUAL_PAYMENT would be unsafe.
type TimeoutError struct {
	DeviceID  string
	CommandID string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no ack from %s for command %s within %s", e.DeviceID, e.CommandID, e.Timeout)
}

// ErrCancelled resolves handles whose caller gave up. The command is
// not un-sent; a later orphan ack is dropped.
var ErrCancelled = errors.New("command cancelled by caller")
