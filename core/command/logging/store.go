package logging

import (
	"context"
	"time"
)

// Record captures one command dispatch and its final resolution. The
// registry itself is in-memory only; this trail is what survives a
// restart for operators reconciling in-flight commands.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	CommandID string    `json:"command_id"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
}

// Query defines filters for retrieving records.
type Query struct {
	Start    time.Time
	End      time.Time
	DeviceID string
	Kind     string
}

// LogStore persists Records and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}
