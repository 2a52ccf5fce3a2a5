package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"room-chat/internal/models"
	"room-chat/internal/observability"
)

var (
	// ErrNotConnected is returned by publishes while no channel is open.
	ErrNotConnected = errors.New("broker not connected")
	// ErrDisabled is returned by publishes when no broker is configured.
	ErrDisabled = errors.New("broker disabled")
)

// BridgeConfig configures the publishing side of the broker.
type BridgeConfig struct {
	URL           string
	Queue         string
	AuditExchange string
	RetryInterval time.Duration
}

// Bridge owns the publishing connection. Publishes never wait for a
// connection: they fail fast while the supervisor is reconnecting.
type Bridge struct {
	sup      *supervisor
	queue    string
	exchange string
}

// NewBridge builds a Bridge; call Run to start connecting. A nil dial uses
// DialAMQP.
func NewBridge(cfg BridgeConfig, dial Dialer) *Bridge {
	b := &Bridge{
		sup:      newSupervisor("publisher", cfg.URL, dial, cfg.RetryInterval),
		queue:    cfg.Queue,
		exchange: cfg.AuditExchange,
	}
	b.sup.setup = b.declare
	return b
}

func (b *Bridge) declare(ch Channel) error {
	if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
		return err
	}
	if b.exchange != "" {
		if err := ch.ExchangeDeclare(b.exchange, "topic", true, false, false, false, nil); err != nil {
			return err
		}
	}
	return nil
}

// Run supervises the connection until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	b.sup.run(ctx)
}

// State reports the connection state for health checks.
func (b *Bridge) State() State {
	return b.sup.State()
}

// Publish enqueues an envelope on the durable messages queue as a persistent
// message.
func (b *Bridge) Publish(ctx context.Context, env models.Envelope) error {
	return b.publish(ctx, "", b.queue, env.ID, env)
}

// PublishEvent sends an audit or operational event to the topic exchange.
func (b *Bridge) PublishEvent(ctx context.Context, routingKey string, event any) error {
	if b.exchange == "" {
		return nil
	}
	return b.publish(ctx, b.exchange, routingKey, "", event)
}

func (b *Bridge) publish(ctx context.Context, exchange, key, messageID string, v any) error {
	if b.sup.State() == StateDisabled {
		observability.IncAMQPPublishError()
		return ErrDisabled
	}
	ch := b.sup.channel()
	if ch == nil {
		observability.IncAMQPPublishError()
		return ErrNotConnected
	}

	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		observability.IncAMQPPublishError()
		b.sup.log.Error().Err(err).Str("routing_key", key).Msg("rabbitmq publish failed")
	}
	return err
}
