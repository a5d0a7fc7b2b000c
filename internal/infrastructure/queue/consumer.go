package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/exp/slog"
)

// Handler processes one delivered batch id. A nil return acknowledges the
// delivery, including terminal failures the handler has already recorded
// in the ledger. A non-nil return requeues the delivery after retryDelay.
type Handler func(ctx context.Context, batchID uuid.UUID) error

// RabbitMQConsumer pulls batch ids off the durable queue one at a time.
type RabbitMQConsumer struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queueName  string
	handler    Handler
	retryDelay time.Duration
	log        *slog.Logger
}

func NewRabbitMQConsumer(url, queueName string, retryDelay time.Duration, handler Handler, log *slog.Logger) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %v", err)
	}

	// QoS: Prefetch 1 ensures we process messages one by one, maintaining strict order
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %v", err)
	}

	return &RabbitMQConsumer{
		conn:       conn,
		channel:    ch,
		queueName:  queueName,
		handler:    handler,
		retryDelay: retryDelay,
		log:        log.With("component", "queue_consumer"),
	}, nil
}

// Listen starts the consumption loop. It returns when ctx is cancelled or
// the message channel closes, which signals the caller to reconnect.
func (c *RabbitMQConsumer) Listen(ctx context.Context) error {
	q, err := c.channel.QueueDeclare(c.queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %v", err)
	}

	msgs, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %v", err)
	}

	c.log.Info("consumer is online and waiting for messages", "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			var msg message
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				c.log.Error("failed to unmarshal message", "error", err)
				d.Nack(false, false) // Drop malformed messages
				continue
			}

			if err := c.handler(ctx, msg.BatchID); err != nil {
				c.log.Error("processing failed, requeueing",
					"batch_id", msg.BatchID, "error", err)
				select {
				case <-time.After(c.retryDelay): // Throttling retries
				case <-ctx.Done():
					d.Nack(false, true)
					return nil
				}
				d.Nack(false, true) // Requeue for another attempt
				continue
			}

			if err := d.Ack(false); err != nil {
				c.log.Error("failed to Ack message", "batch_id", msg.BatchID, "error", err)
			}
		}
	}
}

func (c *RabbitMQConsumer) Close() {
	c.log.Info("shutting down RabbitMQ consumer")
	c.channel.Close()
	c.conn.Close()
}
