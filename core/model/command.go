package model

import "time"

// CommandKind enumerates the commands a device understands.
type CommandKind string

const (
	CommandApplyConfig    CommandKind = "APPLY_CONFIG"
	CommandRestart        CommandKind = "RESTART"
	CommandCustom         CommandKind = "CUSTOM"
	CommandUpdateFirmware CommandKind = "UPDATE_FIRMWARE"
	CommandManualPayment  CommandKind = "MANUAL_PAYMENT"
)

// CommandState is the lifecycle state of a dispatched command.
type CommandState string

const (
	CommandPending  CommandState = "PENDING"
	CommandAcked    CommandState = "ACKED"
	CommandTimedOut CommandState = "TIMED_OUT"
	CommandFailed   CommandState = "FAILED"
)

// CommandEnvelope is the wire format published on the device command
// topic.
type CommandEnvelope struct {
	CommandID string         `json:"command_id"`
	Kind      CommandKind    `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	IssuedAt  int64          `json:"issued_at"`
}

// AckMessage is the wire format a device publishes on its ack topic
// after executing a command.
type AckMessage struct {
	DeviceID  string         `json:"device_id"`
	CommandID string         `json:"command_id"`
	Success   bool           `json:"success"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// PendingCommand records one in-flight acknowledgment wait.
type PendingCommand struct {
	CommandID  string
	DeviceID   string
	Kind       CommandKind
	Payload    map[string]any
	RequireAck bool
	CreatedAt  time.Time
	Deadline   time.Time
	State      CommandState
}
