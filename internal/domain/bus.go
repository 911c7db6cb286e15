package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (single process) or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `envconfig:"TYPE" default:"channel" validate:"oneof=channel nats"`

	ChannelBufferSize int `envconfig:"CHANNEL_BUFFER_SIZE" default:"1000" validate:"min=1"`

	NATSUrl           string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	NATSToken         string `envconfig:"NATS_TOKEN"`
	NATSMaxReconnects int    `envconfig:"NATS_MAX_RECONNECTS" default:"10"`
	NATSReconnectWait int    `envconfig:"NATS_RECONNECT_WAIT" default:"2"` // seconds
}

// Topics of the recommendation pipeline.
const (
	TopicRecommendationRequested = "harrier.recommendation.requested"
	TopicRecommendationIssued    = "harrier.recommendation.issued"

	// TopicRulesChanged is published after every rule mutation so each
	// instance drops its memoized active rule list.
	TopicRulesChanged = "harrier.rules.changed"
)

// RecommendationRequest asks the worker to evaluate a customer.
type RecommendationRequest struct {
	RequestID  string `json:"requestId"`
	CustomerID string `json:"customerId"`
}

// RecommendationIssued is published after every recommendation run.
type RecommendationIssued struct {
	RequestID      string         `json:"requestId,omitempty"`
	CustomerID     string         `json:"customerId"`
	Offers         []ProductOffer `json:"offers"`
	EvaluatedRules int            `json:"evaluatedRules"`
	EligibleRules  int            `json:"eligibleRules"`
	IssuedAt       int64          `json:"issuedAt"`
}
