// Package bus provides event bus implementations for Harrier.
package bus

import (
	"context"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// MetadataReplyTo names the metadata key holding the reply topic of a request.
const MetadataReplyTo = "reply_to"

// New creates an event bus based on configuration: a ChannelBus for a single
// process, a NATSBus otherwise.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Reply answers a message received through Request. Messages that were
// not sent as requests are ignored.
func Reply(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	replyTo := msg.Metadata[MetadataReplyTo]
	if replyTo == "" {
		return nil
	}
	return b.Publish(ctx, replyTo, payload)
}
