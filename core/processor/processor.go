package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/openwash/fleetd/core/command"
	"github.com/openwash/fleetd/core/events"
	"github.com/openwash/fleetd/core/ingest"
	"github.com/openwash/fleetd/core/logger"
	"github.com/openwash/fleetd/core/model"
	"github.com/openwash/fleetd/core/transport"
	"github.com/openwash/fleetd/internal/eventbus"
)

// DeviceStore is the slice of the persistence collaborator the
// processor needs: last-state reconciliation.
type DeviceStore interface {
	UpdateDeviceLastState(ctx context.Context, deviceID string, state map[string]any) error
}

// workerQueueSize bounds the per-device inbox. A device flooding its
// own queue stalls only its own session.
const workerQueueSize = 64

// Processor routes inbound device traffic: state reports to the
// device store, acks to the command dispatcher, log uploads to the
// ingestor. Messages from different devices are handled in parallel;
// messages from the same device are handled in arrival order so a
// stale state report can never overwrite a newer one.
type Processor struct {
	transport  transport.Transport
	dispatcher *command.Dispatcher
	ingestor   *ingest.Ingestor
	store      DeviceStore
	bus        eventbus.EventBus
	log        logger.Logger

	mu      sync.Mutex
	workers map[string]chan transport.Message
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Processor. The bus is optional.
func New(tr transport.Transport, d *command.Dispatcher, ing *ingest.Ingestor, store DeviceStore, log logger.Logger) (*Processor, error) {
	if tr == nil || d == nil || ing == nil || store == nil {
		return nil, fmt.Errorf("processor: nil parameter provided to New")
	}
	return &Processor{
		transport:  tr,
		dispatcher: d,
		ingestor:   ing,
		store:      store,
		log:        log,
		workers:    make(map[string]chan transport.Message),
	}, nil
}

// SetBus configures the event bus processing outcomes are published on.
func (p *Processor) SetBus(bus eventbus.EventBus) {
	p.mu.Lock()
	p.bus = bus
	p.mu.Unlock()
}

// Start subscribes to the device topics. It returns once the
// subscriptions are registered; message handling happens on the
// per-device workers from then on.
func (p *Processor) Start() error {
	for _, filter := range []string{transport.StateFilter, transport.AckFilter, transport.LogsFilter} {
		if err := p.transport.Subscribe(filter, p.enqueue); err != nil {
			return fmt.Errorf("subscribe %s: %w", filter, err)
		}
	}
	return nil
}

// Close stops accepting messages and waits for in-flight handlers.
func (p *Processor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.workers {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// enqueue hands the message to its device's worker, spawning the
// worker on first contact. Unroutable topics are dropped here.
func (p *Processor) enqueue(msg transport.Message) {
	deviceID, ok := transport.DeviceID(msg.Topic)
	if !ok {
		p.log.Warnf("dropping message on unroutable topic %s", msg.Topic)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	q, ok := p.workers[deviceID]
	if !ok {
		q = make(chan transport.Message, workerQueueSize)
		p.workers[deviceID] = q
		p.wg.Add(1)
		go p.run(deviceID, q)
	}
	p.mu.Unlock()

	select {
	case q <- msg:
	default:
		p.log.Warnf("device %s queue full, dropping message on %s", deviceID, msg.Topic)
	}
}

// run is the per-device worker loop: strict FIFO for one device.
func (p *Processor) run(deviceID string, q <-chan transport.Message) {
	defer p.wg.Done()
	for msg := range q {
		p.route(deviceID, msg)
	}
}

// route dispatches one message by topic suffix. A panic or error in
// one message must never take the processor down, so everything here
// degrades to a warning.
func (p *Processor) route(deviceID string, msg transport.Message) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("recovered handling %s for %s: %v", msg.Topic, deviceID, r)
		}
	}()

	switch {
	case msg.Topic == fmt.Sprintf("device/%s/state", deviceID):
		p.handleState(deviceID, msg.Payload)
	case msg.Topic == fmt.Sprintf("device/%s/ack", deviceID):
		p.handleAck(deviceID, msg.Payload)
	case msg.Topic == fmt.Sprintf("device/%s/logs", deviceID):
		p.handleLogs(deviceID, msg.Payload)
	default:
		p.log.Warnf("dropping message on unroutable topic %s", msg.Topic)
	}
}

// handleState applies a state report last-write-wins, with no merge.
func (p *Processor) handleState(deviceID string, payload []byte) {
	var state map[string]any
	if err := json.Unmarshal(payload, &state); err != nil || state == nil {
		p.log.Warnf("malformed state report from %s: %v", deviceID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.UpdateDeviceLastState(ctx, deviceID, state); err != nil {
		p.log.Errorf("persist state for %s: %v", deviceID, err)
		return
	}
	p.mu.Lock()
	bus := p.bus
	p.mu.Unlock()
	if bus != nil {
		bus.Publish(events.StateEvent{DeviceID: deviceID, State: state})
	}
}

// handleAck forwards the acknowledgment to the dispatcher. Unmatched
// acks are the dispatcher's no-op, not ours.
func (p *Processor) handleAck(deviceID string, payload []byte) {
	var ack model.AckMessage
	if err := json.Unmarshal(payload, &ack); err != nil {
		p.log.Warnf("malformed ack from %s: %v", deviceID, err)
		return
	}
	if ack.CommandID == "" {
		p.log.Warnf("ack from %s carries no command_id", deviceID)
		return
	}
	p.dispatcher.Resolve(deviceID, ack.CommandID, ack.Payload)
}

// handleLogs ingests an uploaded batch and confirms it back to the
// device only after persistence, so the device can safely drop its
// local queue.
func (p *Processor) handleLogs(deviceID string, payload []byte) {
	var batch model.LogBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		p.log.Warnf("malformed log batch from %s: %v", deviceID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := p.ingestor.Ingest(ctx, deviceID, batch.Items)
	if err != nil {
		// No confirmation: the device keeps its queue and retries.
		p.log.Errorf("ingest batch from %s: %v", deviceID, err)
		return
	}

	confirmation, err := json.Marshal(map[string]any{
		"batch_id":   batch.BatchID,
		"accepted":   res.Accepted,
		"duplicates": res.Duplicates,
		"rejected":   len(res.Rejected),
	})
	if err == nil {
		if perr := p.transport.Publish(transport.LogsAckTopic(deviceID), confirmation); perr != nil {
			p.log.Errorf("confirm batch to %s: %v", deviceID, perr)
		}
	}

	p.mu.Lock()
	bus := p.bus
	p.mu.Unlock()
	if bus != nil {
		bus.Publish(events.LogBatchEvent{
			DeviceID:   deviceID,
			Accepted:   res.Accepted,
			Duplicates: res.Duplicates,
			Rejected:   len(res.Rejected),
		})
	}
}
