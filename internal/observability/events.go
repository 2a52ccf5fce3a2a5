package observability

import "context"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// EventPublisher sends an operational event to the broker.
type EventPublisher interface {
	PublishEvent(ctx context.Context, routingKey string, event any) error
}

var defaultPublisher EventPublisher

// SetPublisher installs the process-wide event publisher.
func SetPublisher(publisher EventPublisher) {
	defaultPublisher = publisher
}

// PublishEvent forwards an event when a publisher is installed. Failures are
// counted, never fatal.
func PublishEvent(ctx context.Context, routingKey string, event EventEnvelope) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.PublishEvent(ctx, routingKey, event)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
