package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/thumbnailer/internal/config"
)

// fetchBackoff is the pause after a fetch that failed all retries.
const fetchBackoff = 500 * time.Millisecond

// jobHandler processes one raw job payload.
type jobHandler interface {
	Handle(ctx context.Context, payload []byte) error
}

// client is the part of the wbf consumer used by the loop.
type client interface {
	fetch(ctx context.Context) (kafka.Message, error)
	commit(ctx context.Context, msg kafka.Message) error
	close() error
}

type wbfClient struct {
	c *wbfkafka.Consumer
}

func (w wbfClient) fetch(ctx context.Context) (kafka.Message, error) { return w.c.Fetch(ctx) }

func (w wbfClient) commit(ctx context.Context, msg kafka.Message) error { return w.c.Commit(ctx, msg) }

func (w wbfClient) close() error { return w.c.Close() }

// Consumer represents a Kafka consumer along with its configuration
// and the handler that processes job messages.
type Consumer struct {
	client   client
	handler  jobHandler
	cfg      *config.Kafka
	strategy retry.Strategy
}

// New creates a new Consumer in the configured consumer group.
// - cfg: Kafka configuration struct
// - s: retry strategy
// - h: handler for job payloads
func New(
	cfg *config.Kafka,
	s retry.Strategy,
	h jobHandler,
) *Consumer {
	consumer := wbfkafka.NewConsumer(cfg.Brokers, cfg.Topic, cfg.GroupID)

	return &Consumer{
		client:   wbfClient{c: consumer},
		handler:  h,
		cfg:      cfg,
		strategy: s,
	}
}

// Consume fetches messages, hands each payload to the handler and commits the
// offset once the handler succeeds. It returns nil when ctx is cancelled.
//
// A handler error that persists through all retries is returned: the offset
// is left uncommitted so the message is redelivered after a restart. Skipping
// it would commit past it.
func (c *Consumer) Consume(ctx context.Context) error {
	zlog.Logger.Info().
		Str("topic", c.cfg.Topic).
		Str("group_id", c.cfg.GroupID).
		Msg("starting consumer")

	for {
		// Exit if context is canceled (graceful shutdown).
		if ctx.Err() != nil {
			zlog.Logger.Info().Msg("shutdown signal received, stopping consumer")
			return nil
		}

		// Fetch a message from Kafka with retries.
		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.client.fetch(ctx)
			return fetchErr
		}, c.strategy)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}

			zlog.Logger.Err(err).Msg("failed to fetch message")
			sleep(ctx, fetchBackoff)
			continue
		}

		err = retry.Do(func() error {
			return c.handler.Handle(ctx, msg.Value)
		}, c.strategy)
		if err != nil {
			if ctx.Err() != nil {
				zlog.Logger.Info().Int64("offset", msg.Offset).Msg("shutdown interrupted message, leaving it uncommitted")
				return nil
			}

			zlog.Logger.Err(err).
				Int64("offset", msg.Offset).
				Int("partition", msg.Partition).
				Msg("failed to process job")

			return fmt.Errorf("handle message at offset %d: %w", msg.Offset, err)
		}

		// Commit the message with retries.
		err = retry.Do(func() error {
			return c.client.commit(ctx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Int64("offset", msg.Offset).Msg("failed to commit message after retries")
			continue
		}

		zlog.Logger.Info().
			Int64("offset", msg.Offset).
			Int("partition", msg.Partition).
			Msg("message handled successfully")
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.client.close()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
