package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaanrky/courier/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EnvelopeHandler processes one consumed delivery. A nil return acks; any
// error nacks without requeue. Retries are driven by the attempts counter,
// never by broker redelivery.
type EnvelopeHandler func(ctx context.Context, env Envelope) error

// Consumer consumes one tenant+service queue with manual acks and a small
// prefetch, so handling is serialized per channel.
type Consumer struct {
	client   *Client
	prefetch int
	logger   *zap.Logger
}

func NewConsumer(client *Client, prefetch int, logger *zap.Logger) *Consumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Consumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *Consumer) Consume(ctx context.Context, service domain.Service, handler EnvelopeHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if !service.IsValid() {
		return fmt.Errorf("invalid service %q", service)
	}
	if handler == nil {
		return fmt.Errorf("envelope handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, service, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context, service domain.Service, handler EnvelopeHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		QueueName(c.client.tenantID, service),
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", QueueName(c.client.tenantID, service), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler EnvelopeHandler) error {
	var env Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		c.logger.Warn("rejecting message: invalid JSON",
			zap.Error(err),
			zap.String("routingKey", d.RoutingKey),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	if err := env.Validate(); err != nil {
		c.logger.Warn("rejecting message: validation failed",
			zap.Error(err),
			zap.String("messageId", env.MessageID),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid payload: %w", rejectErr)
		}
		return nil
	}

	if err := handler(ctx, env); err != nil {
		c.logger.Warn("delivery handler failed",
			zap.Error(err),
			zap.String("messageId", env.MessageID),
		)
		if nackErr := d.Nack(false, false); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}

	return nil
}
