package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery and must ack, nack or reject it.
type Handler func(ctx context.Context, d amqp.Delivery)

// ConsumerConfig configures the consuming side of the broker.
type ConsumerConfig struct {
	URL           string
	Queue         string
	Prefetch      int
	RetryInterval time.Duration
}

// Consumer drains the messages queue with manual acknowledgements. It starts
// consuming only after the queue has been declared on the current channel.
type Consumer struct {
	sup      *supervisor
	queue    string
	prefetch int
	handler  Handler
}

// NewConsumer builds a Consumer; call Run to start. A nil dial uses DialAMQP.
func NewConsumer(cfg ConsumerConfig, dial Dialer, handler Handler) *Consumer {
	c := &Consumer{
		sup:      newSupervisor("consumer", cfg.URL, dial, cfg.RetryInterval),
		queue:    cfg.Queue,
		prefetch: cfg.Prefetch,
		handler:  handler,
	}
	c.sup.setup = c.declare
	c.sup.serve = c.consume
	return c
}

func (c *Consumer) declare(ch Channel) error {
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return err
	}
	if c.prefetch > 0 {
		return ch.Qos(c.prefetch, 0, false)
	}
	return nil
}

// Run supervises the connection and consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.sup.run(ctx)
}

// State reports the connection state for health checks.
func (c *Consumer) State() State {
	return c.sup.State()
}

func (c *Consumer) consume(ctx context.Context, ch Channel, closed <-chan *amqp.Error) {
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		c.sup.log.Error().Err(err).Str("queue", c.queue).Msg("consume failed")
		return
	}
	c.sup.log.Info().Str("queue", c.queue).Msg("listening for messages")

	for {
		select {
		case <-ctx.Done():
			return
		case amqpErr := <-closed:
			if amqpErr != nil {
				c.sup.log.Error().Str("reason", amqpErr.Reason).Msg("consumer channel closed")
			}
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handler(ctx, d)
		}
	}
}
