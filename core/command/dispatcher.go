package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openwash/fleetd/core/command/logging"
	"github.com/openwash/fleetd/core/events"
	"github.com/openwash/fleetd/core/logger"
	"github.com/openwash/fleetd/core/model"
	"github.com/openwash/fleetd/core/transport"
	"github.com/openwash/fleetd/internal/eventbus"
)

// Default deadlines per command kind. Config application involves the
// device rewriting persistent settings and is given more room.
const (
	ApplyConfigTimeout = 30 * time.Second
	RestartTimeout     = 10 * time.Second
	DefaultTimeout     = 15 * time.Second
)

// evictionGrace keeps resolved entries around briefly so duplicate
// acks racing the eviction are recognized and dropped quietly.
const evictionGrace = 5 * time.Second

// SendOptions tunes one Send call.
type SendOptions struct {
	// NoAck marks the command fire-and-forget: the handle resolves
	// ACKED as soon as the publish succeeds and no pending entry is
	// registered.
	NoAck bool
	// Timeout overrides the per-kind default deadline. Zero selects
	// the default.
	Timeout time.Duration
}

type pendingKey struct {
	deviceID  string
	commandID string
}

type pendingEntry struct {
	cmd      model.PendingCommand
	handle   *Handle
	timer    *time.Timer
	sentAt   time.Time
	resolved bool
}

// Dispatcher publishes command envelopes to device topics and tracks
// acknowledgments. Send never blocks on the device: resolution is
// observed through the returned Handle. Thousands of commands can be
// outstanding at once, so there is no per-command goroutine parked on
// a wait; each entry owns a deadline timer and the registry is the
// single rendezvous point for ack arrival and expiry.
type Dispatcher struct {
	transport transport.Transport
	log       logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[pendingKey]*pendingEntry
	bus     eventbus.EventBus
	store   logging.LogStore

	applyTimeout    time.Duration
	restartTimeout  time.Duration
	fallbackTimeout time.Duration
}

// New creates a Dispatcher on the given transport.
func New(tr transport.Transport, log logger.Logger) (*Dispatcher, error) {
	if tr == nil {
		return nil, fmt.Errorf("command: nil transport provided to New")
	}
	return &Dispatcher{
		transport:       tr,
		log:             log,
		now:             time.Now,
		pending:         make(map[pendingKey]*pendingEntry),
		applyTimeout:    ApplyConfigTimeout,
		restartTimeout:  RestartTimeout,
		fallbackTimeout: DefaultTimeout,
	}, nil
}

// SetTimeouts overrides the per-kind default deadlines. Non-positive
// values keep the current setting.
func (d *Dispatcher) SetTimeouts(applyConfig, restart, fallback time.Duration) {
	d.mu.Lock()
	if applyConfig > 0 {
		d.applyTimeout = applyConfig
	}
	if restart > 0 {
		d.restartTimeout = restart
	}
	if fallback > 0 {
		d.fallbackTimeout = fallback
	}
	d.mu.Unlock()
}

// SetBus configures the event bus resolutions are published on.
func (d *Dispatcher) SetBus(bus eventbus.EventBus) {
	d.mu.Lock()
	d.bus = bus
	d.mu.Unlock()
}

// SetLogStore configures the store used to persist the command audit
// trail.
func (d *Dispatcher) SetLogStore(store logging.LogStore) {
	d.mu.Lock()
	d.store = store
	d.mu.Unlock()
}

// defaultTimeout returns the deadline for a kind when the caller did
// not choose one.
func (d *Dispatcher) defaultTimeout(kind model.CommandKind) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch kind {
	case model.CommandApplyConfig:
		return d.applyTimeout
	case model.CommandRestart:
		return d.restartTimeout
	default:
		return d.fallbackTimeout
	}
}

// Send validates the payload, publishes the command envelope and
// returns a handle observing the outcome.
//
// Validation failures return a nil handle and a ValidationError before
// any publish. A failed publish resolves the handle immediately as
// FAILED with a TransportError. Fire-and-forget sends resolve ACKED as
// soon as the publish succeeds.
func (d *Dispatcher) Send(deviceID string, kind model.CommandKind, payload map[string]any, opts SendOptions) (*Handle, error) {
	if deviceID == "" {
		return nil, &ValidationError{Field: "device_id", Reason: "required"}
	}
	if err := ValidatePayload(kind, payload); err != nil {
		return nil, err
	}
	if kind == model.CommandRestart {
		payload = NormalizeRestart(payload)
	}

	commandID := uuid.NewString()
	handle := newHandle(deviceID, commandID)
	now := d.now()
	envelope := model.CommandEnvelope{
		CommandID: commandID,
		Kind:      kind,
		Payload:   payload,
		IssuedAt:  now.UnixMilli(),
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, &ValidationError{Field: "payload", Reason: err.Error()}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout(kind)
	}

	entry := &pendingEntry{
		cmd: model.PendingCommand{
			CommandID:  commandID,
			DeviceID:   deviceID,
			Kind:       kind,
			Payload:    payload,
			RequireAck: !opts.NoAck,
			CreatedAt:  now,
			Deadline:   now.Add(timeout),
			State:      model.CommandPending,
		},
		handle: handle,
		sentAt: now,
	}
	key := pendingKey{deviceID: deviceID, commandID: commandID}

	// Register before publishing so an ack cannot outrun the entry.
	if !opts.NoAck {
		d.mu.Lock()
		d.pending[key] = entry
		pendingGauge.Inc()
		d.mu.Unlock()
	}

	topic := transport.CommandTopic(deviceID)
	if err := d.transport.Publish(topic, raw); err != nil {
		terr := &TransportError{Topic: topic, Err: err}
		d.log.Errorf("command %s to %s: %v", commandID, deviceID, terr)
		if !opts.NoAck {
			d.mu.Lock()
			d.dropLocked(key, entry)
			d.mu.Unlock()
		}
		commandsFailed.WithLabelValues(string(kind)).Inc()
		d.finish(entry, Result{
			DeviceID:  deviceID,
			CommandID: commandID,
			Kind:      kind,
			State:     model.CommandFailed,
			Err:       terr,
		})
		return handle, nil
	}
	commandsSent.WithLabelValues(string(kind)).Inc()
	d.log.Infof("sent %s command %s to %s", kind, commandID, deviceID)

	if opts.NoAck {
		d.finish(entry, Result{
			DeviceID:  deviceID,
			CommandID: commandID,
			Kind:      kind,
			State:     model.CommandAcked,
		})
		return handle, nil
	}

	entry.timer = time.AfterFunc(timeout, func() { d.expire(key, timeout) })
	return handle, nil
}

// Resolve delivers a device acknowledgment to its pending entry. Acks
// with no matching entry (already resolved, unknown id, wrong device)
// are dropped and reported false; that is never an error.
func (d *Dispatcher) Resolve(deviceID, commandID string, ackPayload map[string]any) bool {
	key := pendingKey{deviceID: deviceID, commandID: commandID}
	d.mu.Lock()
	entry, ok := d.pending[key]
	if !ok || entry.resolved {
		d.mu.Unlock()
		d.log.Warnf("dropping ack for unknown command %s from %s", commandID, deviceID)
		return false
	}
	entry.resolved = true
	entry.cmd.State = model.CommandAcked
	if entry.timer != nil {
		entry.timer.Stop()
	}
	d.scheduleEvictionLocked(key)
	d.mu.Unlock()

	latency := d.now().Sub(entry.sentAt)
	kind := string(entry.cmd.Kind)
	commandsAcked.WithLabelValues(kind).Inc()
	ackLatency.WithLabelValues(kind).Observe(latency.Seconds())
	d.finish(entry, Result{
		DeviceID:   deviceID,
		CommandID:  commandID,
		Kind:       entry.cmd.Kind,
		State:      model.CommandAcked,
		AckPayload: ackPayload,
		Latency:    latency,
	})
	return true
}

// Cancel withdraws interest in a pending command. The command is not
// un-sent; the entry is removed, the timer stopped and the handle
// resolved as FAILED with ErrCancelled. A later ack becomes an orphan
// and is dropped.
func (d *Dispatcher) Cancel(deviceID, commandID string) bool {
	key := pendingKey{deviceID: deviceID, commandID: commandID}
	d.mu.Lock()
	entry, ok := d.pending[key]
	if !ok || entry.resolved {
		d.mu.Unlock()
		return false
	}
	entry.resolved = true
	entry.cmd.State = model.CommandFailed
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(d.pending, key)
	pendingGauge.Dec()
	d.mu.Unlock()

	d.finish(entry, Result{
		DeviceID:  deviceID,
		CommandID: commandID,
		Kind:      entry.cmd.Kind,
		State:     model.CommandFailed,
		Err:       ErrCancelled,
	})
	return true
}

// Pending reports the number of commands awaiting acknowledgment.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.pending {
		if !e.resolved {
			n++
		}
	}
	return n
}

// expire fires on the deadline timer. The ack path and this path race
// on the same key; whoever flips resolved first wins and the loser is
// a no-op.
func (d *Dispatcher) expire(key pendingKey, timeout time.Duration) {
	d.mu.Lock()
	entry, ok := d.pending[key]
	if !ok || entry.resolved {
		d.mu.Unlock()
		return
	}
	entry.resolved = true
	entry.cmd.State = model.CommandTimedOut
	d.scheduleEvictionLocked(key)
	d.mu.Unlock()

	kind := string(entry.cmd.Kind)
	commandsTimeout.WithLabelValues(kind).Inc()
	d.log.Warnf("command %s to %s timed out after %s", key.commandID, key.deviceID, timeout)
	d.finish(entry, Result{
		DeviceID:  key.deviceID,
		CommandID: key.commandID,
		Kind:      entry.cmd.Kind,
		State:     model.CommandTimedOut,
		Err:       &TimeoutError{DeviceID: key.deviceID, CommandID: key.commandID, Timeout: timeout},
		Latency:   timeout,
	})
}

func (d *Dispatcher) scheduleEvictionLocked(key pendingKey) {
	pendingGauge.Dec()
	time.AfterFunc(evictionGrace, func() {
		d.mu.Lock()
		delete(d.pending, key)
		d.mu.Unlock()
	})
}

func (d *Dispatcher) dropLocked(key pendingKey, entry *pendingEntry) {
	if _, ok := d.pending[key]; ok {
		delete(d.pending, key)
		pendingGauge.Dec()
	}
	entry.resolved = true
}

// finish resolves the handle and fans the outcome out to the bus and
// the audit store.
func (d *Dispatcher) finish(entry *pendingEntry, res Result) {
	entry.handle.resolve(res)

	d.mu.Lock()
	bus := d.bus
	store := d.store
	d.mu.Unlock()

	if bus != nil {
		bus.Publish(events.AckEvent{
			DeviceID:  res.DeviceID,
			CommandID: res.CommandID,
			Kind:      res.Kind,
			State:     res.State,
			Err:       res.Err,
			Latency:   res.Latency,
		})
	}
	if store != nil {
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		_ = store.Append(context.Background(), logging.Record{
			Timestamp: d.now(),
			DeviceID:  res.DeviceID,
			CommandID: res.CommandID,
			Kind:      string(res.Kind),
			State:     string(res.State),
			LatencyMS: res.Latency.Milliseconds(),
			Error:     errText,
		})
	}
}
