package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

// ErrDeliveriesClosed is returned by Consume when the broker closes the
// delivery channel, typically after a lost connection.
var ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

// jobHandler processes one raw job payload.
type jobHandler interface {
	Handle(ctx context.Context, payload []byte) error
}

// Consumer runs one consumer loop on its own channel of a shared Client.
type Consumer struct {
	client   *Client
	handler  jobHandler
	prefetch int
	strategy retry.Strategy
}

// NewConsumer returns a consumer reading c's queue with at most prefetch
// unacknowledged deliveries.
func NewConsumer(c *Client, prefetch int, s retry.Strategy, h jobHandler) *Consumer {
	return &Consumer{
		client:   c,
		handler:  h,
		prefetch: prefetch,
		strategy: s,
	}
}

// Consume receives deliveries until ctx is cancelled (returns nil) or the
// delivery channel closes (returns ErrDeliveriesClosed). A delivery is acked
// only after the handler succeeds; a failed one is requeued.
func (c *Consumer) Consume(ctx context.Context) error {
	conn, err := c.client.connection()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.client.queue, // queue
		"",             // consumer tag
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", c.client.queue, err)
	}

	zlog.Logger.Info().Str("queue", c.client.queue).Int("prefetch", c.prefetch).Msg("starting consumer")

	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}

			if err := c.handleDelivery(ctx, d); err != nil {
				return err
			}
		}
	}
}

// handleDelivery runs the handler for d and settles it. The returned error
// is fatal for the loop: the delivery could not be settled.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) error {
	err := retry.Do(func() error {
		return c.handler.Handle(ctx, d.Body)
	}, c.strategy)

	if err != nil {
		if ctx.Err() != nil {
			zlog.Logger.Info().Uint64("delivery_tag", d.DeliveryTag).Msg("shutdown interrupted delivery, requeueing")
		} else {
			zlog.Logger.Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("failed to process job, requeueing")
		}

		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("failed to nack delivery %d: %w", d.DeliveryTag, nackErr)
		}

		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery %d: %w", d.DeliveryTag, err)
	}

	zlog.Logger.Info().Uint64("delivery_tag", d.DeliveryTag).Msg("message handled successfully")

	return nil
}
