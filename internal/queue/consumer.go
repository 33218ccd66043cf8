package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"promo_service/internal/config"
)

// Handler processes one dequeued job. Returning an error does not requeue:
// a failed batch surfaces through its status record and a re-import starts
// fresh.
type Handler func(ctx context.Context, job *Job) error

type Consumer struct {
	cfg     config.RabbitMQConfig
	log     *logrus.Logger
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewConsumer(cfg config.RabbitMQConfig, log *logrus.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	// Prefetch 1 keeps job execution strictly sequential: all summary
	// mutation serializes through this one consumer.
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	log.WithField("queue", cfg.Queue).Info("consumer connected to RabbitMQ")
	return &Consumer{cfg: cfg, log: log, conn: conn, channel: ch}, nil
}

func (c *Consumer) Start(ctx context.Context, handle Handler) error {
	msgs, err := c.channel.Consume(
		c.cfg.Queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			var job Job
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				c.log.WithError(err).Error("dropping malformed job")
				msg.Nack(false, false)
				continue
			}
			if err := handle(ctx, &job); err != nil {
				c.log.WithFields(logrus.Fields{
					"type": job.Type,
				}).WithError(err).Error("job failed")
			}
			msg.Ack(false)
		}
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
