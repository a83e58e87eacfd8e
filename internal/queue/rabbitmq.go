package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kaanrky/courier/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
)

// Client manages one tenant's RabbitMQ connectivity and topology: a direct
// exchange per tenant, one durable queue per enabled service bound with
// routing key = service name.
type Client struct {
	url      string
	tenantID string
	services []domain.Service

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
}

func NewClient(url, tenantID string, services []domain.Service) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if len(services) == 0 {
		services = domain.Services()
	}

	c := &Client{url: url, tenantID: tenantID, services: services}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) TenantID() string { return c.tenantID }

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}

	return conn.Close()
}

func (c *Client) channel(ctx context.Context) (*amqp.Channel, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		if err := c.ensureConnected(ctx); err != nil {
			return nil, err
		}
		c.mu.RLock()
		conn = c.conn
		c.mu.RUnlock()
	}

	ch, err := conn.Channel()
	if err != nil {
		if errReconnect := c.reconnectWithBackoff(ctx); errReconnect != nil {
			return nil, errReconnect
		}

		c.mu.RLock()
		conn = c.conn
		c.mu.RUnlock()

		ch, err = conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := c.declareTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	return ch, nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil && !conn.IsClosed() {
		return nil
	}

	return c.reconnectWithBackoff(ctx)
}

func (c *Client) reconnectWithBackoff(ctx context.Context) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		return nil
	}

	wait := reconnectBackoff
	for {
		newConn, err := amqp.Dial(c.url)
		if err == nil {
			c.mu.Lock()
			oldConn := c.conn
			c.conn = newConn
			c.mu.Unlock()

			if oldConn != nil && !oldConn.IsClosed() {
				_ = oldConn.Close()
			}

			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

func (c *Client) declareTopology(ch *amqp.Channel) error {
	exchange := ExchangeName(c.tenantID)
	if err := ch.ExchangeDeclare(
		exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}

	for _, service := range c.services {
		queueName := QueueName(c.tenantID, service)
		if _, err := ch.QueueDeclare(
			queueName,
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", queueName, err)
		}

		if err := ch.QueueBind(queueName, RoutingKey(service), exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q: %w", queueName, err)
		}
	}

	return nil
}

// ExchangeName returns the tenant's direct exchange, e.g. tenant.acme.
func ExchangeName(tenantID string) string {
	return fmt.Sprintf("tenant.%s", tenantID)
}

// QueueName returns the per-service work queue, e.g. acme.sms.
func QueueName(tenantID string, service domain.Service) string {
	return fmt.Sprintf("%s.%s", tenantID, RoutingKey(service))
}

// RoutingKey is the service name in lowercase.
func RoutingKey(service domain.Service) string {
	return strings.ToLower(service.String())
}
