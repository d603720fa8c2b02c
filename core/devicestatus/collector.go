package devicestatus

import (
	"context"
	"time"

	"github.com/openwash/fleetd/core/events"
	"github.com/openwash/fleetd/internal/eventbus"
)

// StartCollector subscribes to the event bus and keeps the status
// store current: applied state reports refresh the state snapshot,
// command resolutions the last-command summary, confirmed log uploads
// the last-upload summary. It stops when the context is canceled or
// the bus closes.
//
// Because resolution events are only published for commands the
// dispatcher actually owned, late or duplicate acknowledgments never
// reach the store.
func StartCollector(ctx context.Context, bus eventbus.EventBus, store Store) {
	if bus == nil || store == nil {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				switch e := ev.(type) {
				case events.StateEvent:
					store.RecordState(e.DeviceID, e.State, time.Now())
				case events.AckEvent:
					store.RecordCommand(e.DeviceID, LastCommand{
						CommandID: e.CommandID,
						Kind:      string(e.Kind),
						State:     string(e.State),
						Timestamp: time.Now(),
					})
				case events.LogBatchEvent:
					store.RecordUpload(e.DeviceID, LastUpload{
						Accepted:   e.Accepted,
						Duplicates: e.Duplicates,
						Rejected:   e.Rejected,
						Timestamp:  time.Now(),
					})
				}
			}
		}
	}()
}
