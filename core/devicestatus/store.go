package devicestatus

import (
	"sort"
	"sync"
	"time"
)

// LastCommand summarizes the most recent command resolution for a
// device.
type LastCommand struct {
	CommandID string    `json:"command_id"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// LastUpload summarizes the most recent confirmed log upload for a
// device.
type LastUpload struct {
	Accepted   int       `json:"accepted"`
	Duplicates int       `json:"duplicates"`
	Rejected   int       `json:"rejected"`
	Timestamp  time.Time `json:"timestamp"`
}

// Status captures the current known state of a device.
type Status struct {
	DeviceID    string         `json:"device_id"`
	Site        string         `json:"site,omitempty"`
	LastState   map[string]any `json:"last_state,omitempty"`
	LastStateAt time.Time      `json:"last_state_at,omitempty"`
	LastCommand LastCommand    `json:"last_command"`
	LastUpload  LastUpload     `json:"last_upload"`
}

// Filter narrows List results.
type Filter struct {
	Site string
}

// Store tracks per-device status snapshots.
type Store interface {
	Set(Status)
	List(Filter) []Status
	RecordState(id string, state map[string]any, at time.Time)
	RecordCommand(id string, cmd LastCommand)
	RecordUpload(id string, up LastUpload)
}

// MemoryStore is the in-process Store implementation.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]Status{}}
}

func (s *MemoryStore) Set(st Status) {
	s.mu.Lock()
	s.data[st.DeviceID] = st
	s.mu.Unlock()
}

func (s *MemoryStore) RecordState(id string, state map[string]any, at time.Time) {
	s.mu.Lock()
	st := s.data[id]
	if st.DeviceID == "" {
		st.DeviceID = id
	}
	st.LastState = state
	st.LastStateAt = at
	s.data[id] = st
	s.mu.Unlock()
}

func (s *MemoryStore) RecordCommand(id string, cmd LastCommand) {
	s.mu.Lock()
	st := s.data[id]
	if st.DeviceID == "" {
		st.DeviceID = id
	}
	st.LastCommand = cmd
	s.data[id] = st
	s.mu.Unlock()
}

func (s *MemoryStore) RecordUpload(id string, up LastUpload) {
	s.mu.Lock()
	st := s.data[id]
	if st.DeviceID == "" {
		st.DeviceID = id
	}
	st.LastUpload = up
	s.data[id] = st
	s.mu.Unlock()
}

func (s *MemoryStore) List(f Filter) []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Status, 0, len(s.data))
	for _, st := range s.data {
		if f.Site != "" && st.Site != f.Site {
			continue
		}
		res = append(res, st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].DeviceID < res[j].DeviceID })
	return res
}
