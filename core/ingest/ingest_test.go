package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwash/fleetd/core/metrics"
	"github.com/openwash/fleetd/core/model"
)

// fakeLedger keeps events in a map keyed by dedup key.
type fakeLedger struct {
	rows        map[string]model.PaymentEvent
	insertRaces int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: make(map[string]model.PaymentEvent)}
}

func (f *fakeLedger) ExistsByDedupKey(_ context.Context, key string) (bool, error) {
	_, ok := f.rows[key]
	return ok, nil
}

func (f *fakeLedger) InsertEvent(_ context.Context, ev model.PaymentEvent) error {
	key := ev.DedupKey()
	if _, ok := f.rows[key]; ok {
		return ErrDuplicateKey
	}
	if f.insertRaces > 0 {
		// Simulate a concurrent retry inserting between the exists
		// check and this insert.
		f.insertRaces--
		f.rows[key] = ev
		return ErrDuplicateKey
	}
	f.rows[key] = ev
	return nil
}

func paymentItem(ts, amount float64) model.PaymentEvent {
	return model.PaymentEvent{
		Type:        model.EventPayment,
		Status:      model.PaymentSucceeded,
		Timestamp:   ts,
		TotalAmount: amount,
		Coin:        map[string]int{"10": 5},
	}
}

func TestIngestAcceptsValidItems(t *testing.T) {
	ledger := newFakeLedger()
	ing, err := New(ledger, nil)
	require.NoError(t, err)

	res, err := ing.Ingest(context.Background(), "dev-1",
		[]model.PaymentEvent{paymentItem(1000, 50), paymentItem(1001, 30)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 0, res.Duplicates)
	assert.Empty(t, res.Rejected)
	assert.Len(t, ledger.rows, 2)
}

func TestIngestIsIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	ing, err := New(ledger, nil)
	require.NoError(t, err)

	batch := []model.PaymentEvent{paymentItem(1000, 50), paymentItem(1001, 30)}

	first, err := ing.Ingest(context.Background(), "dev-1", batch)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Accepted)

	second, err := ing.Ingest(context.Background(), "dev-1", batch)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Accepted)
	assert.Equal(t, 2, second.Duplicates)
	assert.Len(t, ledger.rows, 2, "row count unchanged after re-ingestion")
}

func TestIngestPartialAcceptance(t *testing.T) {
	ledger := newFakeLedger()
	ing, err := New(ledger, nil)
	require.NoError(t, err)

	bad := paymentItem(2000, 50)
	bad.Status = model.PaymentStatus("INVALID")

	res, err := ing.Ingest(context.Background(), "dev-1",
		[]model.PaymentEvent{paymentItem(1000, 50), bad})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 0, res.Duplicates)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "invalid status", res.Rejected[0].Reason)
	assert.Len(t, ledger.rows, 1, "rejected item must not be persisted")
}

func TestIngestRejectionReasons(t *testing.T) {
	ledger := newFakeLedger()
	ing, err := New(ledger, nil)
	require.NoError(t, err)

	nan := func() float64 { var z float64; return z / z }()
	items := []model.PaymentEvent{
		{Type: model.PaymentEventType("OTHER"), Status: model.PaymentSucceeded, Timestamp: 1, TotalAmount: 1},
		{Type: model.EventInfo, Status: model.PaymentStatus("OOPS"), Timestamp: 1, TotalAmount: 1},
		{Type: model.EventPayment, Status: model.PaymentSucceeded, Timestamp: nan, TotalAmount: 1},
		{Type: model.EventPayment, Status: model.PaymentSucceeded, Timestamp: 1, TotalAmount: nan},
	}
	res, err := ing.Ingest(context.Background(), "dev-1", items)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Accepted)
	require.Len(t, res.Rejected, 4)
	assert.Equal(t, "invalid type", res.Rejected[0].Reason)
	assert.Equal(t, "invalid status", res.Rejected[1].Reason)
	assert.Equal(t, "invalid timestamp", res.Rejected[2].Reason)
	assert.Equal(t, "invalid total_amount", res.Rejected[3].Reason)
}

func TestIngestInsertRaceCountsAsDuplicate(t *testing.T) {
	ledger := newFakeLedger()
	ledger.insertRaces = 1
	ing, err := New(ledger, nil)
	require.NoError(t, err)

	res, err := ing.Ingest(context.Background(), "dev-1", []model.PaymentEvent{paymentItem(1000, 50)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Accepted)
	assert.Equal(t, 1, res.Duplicates)
}

func TestIngestDedupKeyIncludesDevice(t *testing.T) {
	ledger := newFakeLedger()
	ing, err := New(ledger, nil)
	require.NoError(t, err)

	// The same event fields from two devices are two distinct events.
	_, err = ing.Ingest(context.Background(), "dev-1", []model.PaymentEvent{paymentItem(1000, 50)})
	require.NoError(t, err)
	res, err := ing.Ingest(context.Background(), "dev-2", []model.PaymentEvent{paymentItem(1000, 50)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Len(t, ledger.rows, 2)
}

type countingSink struct {
	records []metrics.PaymentRecord
}

func (s *countingSink) RecordPayment(rec metrics.PaymentRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func TestIngestRecordsAcceptedOnSink(t *testing.T) {
	ledger := newFakeLedger()
	ing, err := New(ledger, nil)
	require.NoError(t, err)
	sink := &countingSink{}
	ing.SetSink(sink)

	items := []model.PaymentEvent{
		paymentItem(1000, 50),
		paymentItem(1000, 50), // duplicate of the first
		{Type: model.PaymentEventType("OTHER"), Status: model.PaymentSucceeded, Timestamp: 1, TotalAmount: 1},
	}
	res, err := ing.Ingest(context.Background(), "dev-1", items)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)

	// Only the accepted item reaches the sink.
	require.Len(t, sink.records, 1)
	assert.Equal(t, "dev-1", sink.records[0].DeviceID)
	assert.Equal(t, 50.0, sink.records[0].Amount)
}
