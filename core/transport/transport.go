package transport

// Message is one inbound publication delivered to a subscriber.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler consumes inbound messages. Handlers must not block for long:
// the MQTT client invokes them from its receive loop.
type Handler func(msg Message)

// Transport abstracts the publish/subscribe broker connection used to
// reach devices.
type Transport interface {
	// Publish sends the payload to the topic. It returns once the
	// broker accepted the message or the send failed.
	Publish(topic string, payload []byte) error

	// Subscribe registers a handler for a topic filter. Wildcard
	// filters like "device/+/state" are supported by the broker.
	Subscribe(filter string, handler Handler) error

	// Close tears down the broker connection.
	Close()
}
