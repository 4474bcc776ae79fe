package bridge

import "context"

// Publisher is the message bus the bridge publishes readings on.
type Publisher interface {
	Connect(ctx context.Context) error
	// Publish sends one message. qos is an opaque delivery hint.
	Publish(topic string, payload []byte, qos byte) error
	Disconnect() error
}
