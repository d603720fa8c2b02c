package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openwash/fleetd/core/command"
	"github.com/openwash/fleetd/core/devicestatus"
	"github.com/openwash/fleetd/core/ingest"
	"github.com/openwash/fleetd/core/model"
	"github.com/openwash/fleetd/infra/logger"
	"github.com/openwash/fleetd/infra/mqtt"
	"github.com/openwash/fleetd/internal/eventbus"
)

type fakeStore struct {
	mu     sync.Mutex
	states map[string][]map[string]any
	events map[string]model.PaymentEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		states: make(map[string][]map[string]any),
		events: make(map[string]model.PaymentEvent),
	}
}

func (f *fakeStore) UpdateDeviceLastState(_ context.Context, deviceID string, state map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[deviceID] = append(f.states[deviceID], state)
	return nil
}

func (f *fakeStore) ExistsByDedupKey(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.events[key]
	return ok, nil
}

func (f *fakeStore) InsertEvent(_ context.Context, ev model.PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ev.DedupKey()
	if _, ok := f.events[key]; ok {
		return ingest.ErrDuplicateKey
	}
	f.events[key] = ev
	return nil
}

func newProcessor(t *testing.T) (*Processor, *mqtt.MockTransport, *command.Dispatcher, *fakeStore) {
	t.Helper()
	tr := mqtt.NewMockTransport()
	store := newFakeStore()
	d, err := command.New(tr, logger.NopLogger{})
	require.NoError(t, err)
	ing, err := ingest.New(store, nil)
	require.NoError(t, err)
	p, err := New(tr, d, ing, store, logger.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	t.Cleanup(p.Close)
	return p, tr, d, store
}

// waitFor polls until cond holds; per-device workers are asynchronous.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestProcessorRoutesStateReports(t *testing.T) {
	p, tr, _, store := newProcessor(t)
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	p.SetBus(bus)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	status := devicestatus.NewMemoryStore()
	devicestatus.StartCollector(ctx, bus, status)

	payload, _ := json.Marshal(map[string]any{"status": "normal", "timestamp": 1700000000000.0})
	require.True(t, tr.Deliver("device/d1/state", payload))

	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.states["d1"]) == 1
	})
	assert.Equal(t, "normal", store.states["d1"][0]["status"])

	waitFor(t, func() bool {
		return len(status.List(devicestatus.Filter{})) == 1
	})
	assert.Equal(t, "d1", status.List(devicestatus.Filter{})[0].DeviceID)
}

func TestProcessorLastCommandOnlyOnGenuineAck(t *testing.T) {
	p, tr, d, store := newProcessor(t)
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	p.SetBus(bus)
	d.SetBus(bus)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	status := devicestatus.NewMemoryStore()
	devicestatus.StartCollector(ctx, bus, status)

	h, err := d.Send("d1", model.CommandRestart, nil, command.SendOptions{Timeout: 2 * time.Second})
	require.NoError(t, err)

	ack, _ := json.Marshal(model.AckMessage{DeviceID: "d1", CommandID: h.CommandID(), Success: true})
	require.True(t, tr.Deliver("device/d1/ack", ack))
	<-h.Done()

	waitFor(t, func() bool {
		list := status.List(devicestatus.Filter{})
		return len(list) == 1 && list[0].LastCommand.CommandID == h.CommandID()
	})
	got := status.List(devicestatus.Filter{})[0].LastCommand
	assert.Equal(t, string(model.CommandRestart), got.Kind)
	assert.Equal(t, string(model.CommandAcked), got.State)

	// An ack for a command nobody sent must not touch the summary. A
	// trailing state report proves the orphan ack has been processed:
	// same-device messages are strictly ordered.
	orphan, _ := json.Marshal(model.AckMessage{DeviceID: "d1", CommandID: "cmd-nobody-sent", Success: true})
	require.True(t, tr.Deliver("device/d1/ack", orphan))
	payload, _ := json.Marshal(map[string]any{"status": "normal"})
	require.True(t, tr.Deliver("device/d1/state", payload))
	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.states["d1"]) == 1
	})

	got = status.List(devicestatus.Filter{})[0].LastCommand
	assert.Equal(t, h.CommandID(), got.CommandID)
	assert.Equal(t, string(model.CommandAcked), got.State)
}

func TestProcessorStateLastWriteWins(t *testing.T) {
	_, tr, _, store := newProcessor(t)

	for i := 0; i < 20; i++ {
		payload, _ := json.Marshal(map[string]any{"status": "normal", "seq": float64(i)})
		require.True(t, tr.Deliver("device/d1/state", payload))
	}
	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.states["d1"]) == 20
	})
	// Same-device messages are applied in arrival order.
	store.mu.Lock()
	defer store.mu.Unlock()
	for i, st := range store.states["d1"] {
		assert.EqualValues(t, i, st["seq"])
	}
}

func TestProcessorRoutesAcks(t *testing.T) {
	_, tr, d, _ := newProcessor(t)

	h, err := d.Send("d1", model.CommandCustom, map[string]any{"command": "unlock"}, command.SendOptions{Timeout: 2 * time.Second})
	require.NoError(t, err)

	ack, _ := json.Marshal(model.AckMessage{DeviceID: "d1", CommandID: h.CommandID(), Success: true})
	require.True(t, tr.Deliver("device/d1/ack", ack))

	res := <-h.Done()
	assert.Equal(t, model.CommandAcked, res.State)
}

func TestProcessorRoutesLogsAndConfirmsAfterPersist(t *testing.T) {
	_, tr, _, store := newProcessor(t)

	batch := model.LogBatch{
		BatchID: "b-7",
		Items: []model.PaymentEvent{
			{Type: model.EventPayment, Status: model.PaymentSucceeded, Timestamp: 1000, TotalAmount: 50},
			{Type: model.EventPayment, Status: model.PaymentStatus("INVALID"), Timestamp: 1001, TotalAmount: 20},
		},
	}
	payload, _ := json.Marshal(batch)
	require.True(t, tr.Deliver("device/d1/logs", payload))

	waitFor(t, func() bool {
		return len(tr.Published("device/d1/logs/ack")) == 1
	})

	var confirmation map[string]any
	require.NoError(t, json.Unmarshal(tr.Published("device/d1/logs/ack")[0], &confirmation))
	assert.Equal(t, "b-7", confirmation["batch_id"])
	assert.EqualValues(t, 1, confirmation["accepted"])
	assert.EqualValues(t, 0, confirmation["duplicates"])
	assert.EqualValues(t, 1, confirmation["rejected"])

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.events, 1, "only the valid item is persisted")
}

func TestProcessorDropsMalformedPayloads(t *testing.T) {
	_, tr, _, store := newProcessor(t)

	require.True(t, tr.Deliver("device/d1/state", []byte("{not json")))
	require.True(t, tr.Deliver("device/d1/ack", []byte("{not json")))
	require.True(t, tr.Deliver("device/d1/logs", []byte("{not json")))
	assert.False(t, tr.Deliver("bogus/topic", []byte("{}")))

	// The processor keeps serving the device afterwards.
	payload, _ := json.Marshal(map[string]any{"status": "normal"})
	require.True(t, tr.Deliver("device/d1/state", payload))
	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.states["d1"]) == 1
	})
}

func TestProcessorParallelAcrossDevices(t *testing.T) {
	_, tr, _, store := newProcessor(t)

	for i := 0; i < 10; i++ {
		for _, dev := range []string{"a", "b", "c"} {
			payload, _ := json.Marshal(map[string]any{"status": "normal", "seq": float64(i)})
			require.True(t, tr.Deliver(fmt.Sprintf("device/%s/state", dev), payload))
		}
	}
	waitFor(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.states["a"]) == 10 && len(store.states["b"]) == 10 && len(store.states["c"]) == 10
	})
}
