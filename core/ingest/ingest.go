package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/openwash/fleetd/core/logger"
	"github.com/openwash/fleetd/core/metrics"
	"github.com/openwash/fleetd/core/model"
)

// ErrDuplicateKey is returned by Ledger.InsertEvent when the dedup key
// already exists. It is a normal idempotent-retry outcome, not a
// failure: the ledger's uniqueness constraint backs up the
// check-then-insert below when concurrent retries race.
var ErrDuplicateKey = errors.New("duplicate event key")

// Ledger is the persistence collaborator for payment events.
type Ledger interface {
	ExistsByDedupKey(ctx context.Context, key string) (bool, error)
	InsertEvent(ctx context.Context, ev model.PaymentEvent) error
}

// RejectedItem reports one batch item that failed validation.
type RejectedItem struct {
	Reason string             `json:"reason"`
	Item   model.PaymentEvent `json:"item"`
}

// Result summarizes one batch ingestion.
type Result struct {
	Accepted   int            `json:"accepted"`
	Duplicates int            `json:"duplicates"`
	Rejected   []RejectedItem `json:"rejected"`
}

// Ingestor validates, deduplicates and persists device-reported
// payment event batches.
type Ingestor struct {
	ledger Ledger
	log    logger.Logger
	sink   metrics.Sink
}

// New creates an Ingestor backed by the given ledger.
func New(ledger Ledger, log logger.Logger) (*Ingestor, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ingest: nil ledger provided to New")
	}
	return &Ingestor{ledger: ledger, log: log}, nil
}

// SetSink configures the metrics sink accepted events are recorded on.
func (i *Ingestor) SetSink(sink metrics.Sink) {
	i.sink = sink
}

// Ingest processes the batch item by item. There is no all-or-nothing
// transaction: devices queue events locally and flush opportunistically,
// so one malformed item must never block its siblings or the device's
// queue would grow without bound.
func (i *Ingestor) Ingest(ctx context.Context, deviceID string, items []model.PaymentEvent) (Result, error) {
	var res Result
	for _, item := range items {
		item.DeviceID = deviceID
		if reason := validate(item); reason != "" {
			res.Rejected = append(res.Rejected, RejectedItem{Reason: reason, Item: item})
			eventsRejected.Inc()
			continue
		}
		exists, err := i.ledger.ExistsByDedupKey(ctx, item.DedupKey())
		if err != nil {
			return res, fmt.Errorf("dedup lookup: %w", err)
		}
		if exists {
			res.Duplicates++
			eventsDuplicate.Inc()
			continue
		}
		if err := i.ledger.InsertEvent(ctx, item); err != nil {
			if errors.Is(err, ErrDuplicateKey) {
				// Lost a race against a concurrent retry of the
				// same batch. Same outcome as the exists check.
				res.Duplicates++
				eventsDuplicate.Inc()
				continue
			}
			return res, fmt.Errorf("insert event: %w", err)
		}
		res.Accepted++
		eventsAccepted.Inc()
		if i.sink != nil {
			rec := metrics.PaymentRecord{
				DeviceID: item.DeviceID,
				Type:     string(item.Type),
				Status:   string(item.Status),
				Amount:   item.TotalAmount,
				Time:     time.Now(),
			}
			if err := i.sink.RecordPayment(rec); err != nil && i.log != nil {
				i.log.Warnf("record payment metric: %v", err)
			}
		}
	}
	if i.log != nil && (res.Accepted > 0 || len(res.Rejected) > 0) {
		i.log.Infof("ingested batch from %s: %d accepted, %d duplicates, %d rejected",
			deviceID, res.Accepted, res.Duplicates, len(res.Rejected))
	}
	return res, nil
}

// validate returns a rejection reason, or "" for a well-formed item.
func validate(ev model.PaymentEvent) string {
	switch ev.Type {
	case model.EventPayment, model.EventInfo:
	default:
		return "invalid type"
	}
	switch ev.Status {
	case model.PaymentPending, model.PaymentSucceeded, model.PaymentFailed, model.PaymentCancelled:
	default:
		return "invalid status"
	}
	if math.IsNaN(ev.Timestamp) || math.IsInf(ev.Timestamp, 0) {
		return "invalid timestamp"
	}
	if math.IsNaN(ev.TotalAmount) || math.IsInf(ev.TotalAmount, 0) {
		return "invalid total_amount"
	}
	return ""
}
