package messaging

import (
	"fmt"

	"logosnode/config"
)

// Handler receives raw payloads from a subscribed topic. Handlers run on
// the client's receive goroutine and must not block for long.
type Handler func(topic string, payload []byte)

// Client is the transport for best-effort pub/sub between nodes. Delivery
// guarantees are whatever the broker gives us; consumers must tolerate
// loss, reordering and duplicates.
type Client interface {
	Connect() error
	Publish(topic string, payload []byte) error
	Subscribe(topic string, h Handler) error
	IsConnected() bool
	Close() error
}

// New builds a client for the configured backend.
func New(cfg config.MessagingConfig) (Client, error) {
	switch cfg.Backend {
	case "kafka":
		return newKafkaClient(cfg), nil
	case "mqtt":
		return newMQTTClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown messaging backend %q", cfg.Backend)
	}
}
