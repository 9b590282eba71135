package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/riskguard/internal/domain"
)

// New creates an event bus from configuration. "channel" keeps everything
// in-process; "nats" fans messages out across instances.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Envelope wraps a payload in a message with a fresh ID and timestamp.
func Envelope(topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
