package mqtt

import (
	"fmt"
	"strings"
	"sync"

	"github.com/openwash/fleetd/core/transport"
)

// MockTransport is an in-process transport used in tests. Published
// messages are recorded and can be delivered back to subscribers with
// Deliver.
type MockTransport struct {
	mu         sync.Mutex
	published  map[string][][]byte
	subs       map[string]transport.Handler
	FailTopics map[string]bool
}

// NewMockTransport creates a new MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		published:  make(map[string][][]byte),
		subs:       make(map[string]transport.Handler),
		FailTopics: make(map[string]bool),
	}
}

// Publish records the message or returns an error if the topic is
// configured to fail.
func (m *MockTransport) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTopics[topic] {
		return fmt.Errorf("publish failed")
	}
	m.published[topic] = append(m.published[topic], payload)
	return nil
}

// Subscribe registers the handler for the filter.
func (m *MockTransport) Subscribe(filter string, handler transport.Handler) error {
	m.mu.Lock()
	m.subs[filter] = handler
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MockTransport) Close() {}

// Published returns the payloads recorded for a topic.
func (m *MockTransport) Published(topic string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.published[topic]))
	copy(out, m.published[topic])
	return out
}

// Deliver routes an inbound message to the first matching subscription.
func (m *MockTransport) Deliver(topic string, payload []byte) bool {
	m.mu.Lock()
	var handler transport.Handler
	for filter, h := range m.subs {
		if filterMatches(filter, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(transport.Message{Topic: topic, Payload: payload})
	return true
}

// filterMatches implements single-level MQTT wildcard matching, which
// is all the device topic scheme uses.
func filterMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	if len(fp) != len(tp) {
		return false
	}
	for i := range fp {
		if fp[i] == "+" {
			continue
		}
		if fp[i] != tp[i] {
			return false
		}
	}
	return true
}
