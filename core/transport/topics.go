package transport

import (
	"fmt"
	"strings"
)

// Topic scheme shared with device firmware. Each device owns a small
// topic namespace keyed by its identifier.
const (
	StateFilter = "device/+/state"
	AckFilter   = "device/+/ack"
	LogsFilter  = "device/+/logs"
)

// CommandTopic is where the service publishes command envelopes for a
// device.
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("device/%s/command", deviceID)
}

// LogsAckTopic is where the service confirms a persisted log upload so
// the device can drop its local queue.
func LogsAckTopic(deviceID string) string {
	return fmt.Sprintf("device/%s/logs/ack", deviceID)
}

// DeviceID extracts the device identifier from a device/{id}/... topic.
// The second return value is false when the topic does not follow the
// scheme.
func DeviceID(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "device" || parts[1] == "" || parts[1] == "+" {
		return "", false
	}
	return parts[1], true
}
