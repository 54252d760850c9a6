// Package rabbitmq implements the job queue on a durable RabbitMQ queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/thumbnailer/internal/config"
	"github.com/aliskhannn/thumbnailer/internal/model"
)

// ErrClientClosed is returned once Close has been called.
var ErrClientClosed = errors.New("rabbitmq: client closed")

// Client owns one AMQP connection and a confirm-mode publishing channel.
// A connection or channel found closed is redialed on next use.
type Client struct {
	url      string
	queue    string
	strategy retry.Strategy
	dial     func(url string) (*amqp.Connection, error)

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// Dial connects to RabbitMQ and declares the durable job queue.
func Dial(cfg *config.RabbitMQ, s retry.Strategy) (*Client, error) {
	c := &Client{
		url:      cfg.URL,
		queue:    cfg.Queue,
		strategy: s,
		dial:     amqp.Dial,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return nil, err
	}

	zlog.Logger.Info().Str("queue", cfg.Queue).Msg("rabbitmq client initialized")

	return c, nil
}

// connectLocked replaces the connection and publishing channel. c.mu must be
// held.
func (c *Client) connectLocked() error {
	c.dropLocked()

	conn, err := c.dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		c.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue %s: %w", c.queue, err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	c.conn, c.channel = conn, ch

	return nil
}

// dropLocked closes whatever is left of the current connection.
func (c *Client) dropLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) healthyLocked() bool {
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

// ensureLocked redials when the connection or channel was lost.
func (c *Client) ensureLocked() error {
	if c.closed {
		return ErrClientClosed
	}
	if c.healthyLocked() {
		return nil
	}

	zlog.Logger.Warn().Str("queue", c.queue).Msg("rabbitmq connection lost, reconnecting")

	return c.connectLocked()
}

// publishChannel returns a live confirm-mode channel.
func (c *Client) publishChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureLocked(); err != nil {
		return nil, err
	}

	return c.channel, nil
}

// connection returns a live connection for consumer channels.
func (c *Client) connection() (*amqp.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureLocked(); err != nil {
		return nil, err
	}

	return c.conn, nil
}

// Publish sends the job as a persistent message and waits for the broker to
// confirm it.
func (c *Client) Publish(ctx context.Context, job model.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    job.ImageID.String(),
		Body:         body,
	}

	err = retry.Do(func() error {
		return c.publish(ctx, msg)
	}, c.strategy)
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	return nil
}

func (c *Client) publish(ctx context.Context, msg amqp.Publishing) error {
	ch, err := c.publishChannel()
	if err != nil {
		return err
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", c.queue, false, false, msg)
	if err != nil {
		return err
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("broker nacked the message")
	}

	return nil
}

// Ping redials a lost connection and passively declares the queue on a fresh
// channel, so a missing queue or an unreachable broker is reported.
func (c *Client) Ping(_ context.Context) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclarePassive(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue %s unavailable: %w", c.queue, err)
	}

	return nil
}

// Close closes the channel and connection. The client is not redialed
// afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	var errs []error

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
		c.channel = nil
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
		c.conn = nil
	}

	return errors.Join(errs...)
}
