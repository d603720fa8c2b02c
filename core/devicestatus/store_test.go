package devicestatus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStoreRecordAndList(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	s.RecordState("d2", map[string]any{"status": "normal"}, now)
	s.RecordCommand("d1", LastCommand{CommandID: "c1", Kind: "RESTART", State: "ACKED", Timestamp: now})
	s.RecordState("d1", map[string]any{"status": "fault"}, now)

	list := s.List(Filter{})
	if assert.Len(t, list, 2) {
		assert.Equal(t, "d1", list[0].DeviceID)
		assert.Equal(t, "c1", list[0].LastCommand.CommandID)
		assert.Equal(t, "fault", list[0].LastState["status"])
		assert.Equal(t, "d2", list[1].DeviceID)
	}
}

func TestMemoryStoreSiteFilter(t *testing.T) {
	s := NewMemoryStore()
	s.Set(Status{DeviceID: "d1", Site: "north"})
	s.Set(Status{DeviceID: "d2", Site: "south"})

	list := s.List(Filter{Site: "north"})
	if assert.Len(t, list, 1) {
		assert.Equal(t, "d1", list[0].DeviceID)
	}
}
