package queue

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"clinisync/internal/domain/sync"
	"clinisync/internal/metrics"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/exp/slog"
)

const confirmTimeout = 10 * time.Second

// message is the wire shape of one queued batch reference. The payload
// stays in the ledger; only the id travels through the broker.
type message struct {
	BatchID uuid.UUID `json:"batch_id"`
}

// RabbitMQClient publishes batch ids to a durable queue with Publisher
// Confirms, so intake only reports "queued" for deliveries the broker has
// persisted.
type RabbitMQClient struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queueName  string
	log        *slog.Logger
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  stdsync.Once
	healthy    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewRabbitMQClient(url, queueName string, log *slog.Logger) (*RabbitMQClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %v", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %v", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &RabbitMQClient{
		conn:       conn,
		channel:    ch,
		queueName:  queueName,
		log:        log.With("component", "queue_publisher"),
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	client.healthy.Store(true)
	metrics.HealthStatus.Set(1)

	client.conn.NotifyClose(client.connClosed)
	client.channel.NotifyClose(client.chanClosed)

	go func() {
		select {
		case err := <-client.connClosed:
			client.healthy.Store(false)
			metrics.HealthStatus.Set(0)
			client.log.Warn("RabbitMQ connection closed", "error", err)
		case err := <-client.chanClosed:
			client.healthy.Store(false)
			metrics.HealthStatus.Set(0)
			client.log.Warn("RabbitMQ channel closed", "error", err)
		case <-client.ctx.Done():
			return
		}
	}()

	client.log.Info("connected to RabbitMQ", "queue", queueName)
	return client, nil
}

// Enqueue publishes a batch id and blocks until the broker confirms the
// delivery is persisted.
func (r *RabbitMQClient) Enqueue(ctx context.Context, batchID uuid.UUID) error {
	if !r.IsHealthy() {
		return fmt.Errorf("broker connection is closed")
	}

	body, err := json.Marshal(message{BatchID: batchID})
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}

	deferred, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"",          // default exchange
		r.queueName, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		r.log.Error("failed to publish message", "batch_id", batchID, "error", err)
		return fmt.Errorf("publish call failed: %v", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("RabbitMQ NACK received: message not persisted")
		}
		return nil
	case <-time.After(confirmTimeout):
		return fmt.Errorf("publisher confirm timeout")
	}
}

func (r *RabbitMQClient) Close() error {
	r.closeOnce.Do(func() {
		r.log.Info("terminating RabbitMQ client")
		r.cancel()
		if r.channel != nil {
			r.channel.Close()
		}
		if r.conn != nil {
			r.conn.Close()
		}
	})
	return nil
}

func (r *RabbitMQClient) IsHealthy() bool {
	return r.healthy.Load()
}

var _ sync.Enqueuer = (*RabbitMQClient)(nil)
