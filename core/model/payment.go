package model

import "fmt"

// PaymentEventType distinguishes money movements from informational
// device log entries.
type PaymentEventType string

const (
	EventPayment PaymentEventType = "PAYMENT"
	EventInfo    PaymentEventType = "INFO"
)

// PaymentStatus is the device-reported outcome of a transaction.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// QRDetail carries the charge reference for QR payments.
type QRDetail struct {
	ChargeID  string  `json:"chargeId"`
	NetAmount float64 `json:"net_amount"`
}

// PaymentEvent is one device-reported transaction or info entry.
// Timestamp is epoch seconds on the device clock. Exactly one of QR,
// Bank or Coin is expected to be set for PAYMENT events; Bank and Coin
// map banknote/coin denominations to counts.
type PaymentEvent struct {
	DeviceID    string           `json:"device_id"`
	Type        PaymentEventType `json:"type"`
	Status      PaymentStatus    `json:"status"`
	Timestamp   float64          `json:"timestamp"`
	TotalAmount float64          `json:"total_amount"`
	QR          *QRDetail        `json:"qr,omitempty"`
	Bank        map[string]int   `json:"bank,omitempty"`
	Coin        map[string]int   `json:"coin,omitempty"`
}

// DedupKey is the natural idempotency key of a PaymentEvent. Devices
// resend unacknowledged batches, so the same event can arrive many
// times with these exact fields.
func (e PaymentEvent) DedupKey() string {
	return fmt.Sprintf("%s|%v|%s|%s|%v", e.DeviceID, e.Timestamp, e.Type, e.Status, e.TotalAmount)
}

// LogBatch is the wire format of a device log upload.
type LogBatch struct {
	DeviceID string         `json:"device_id"`
	BatchID  string         `json:"batch_id,omitempty"`
	Items    []PaymentEvent `json:"items"`
}
