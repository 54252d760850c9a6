package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/aliskhannn/thumbnailer/internal/config"
	"github.com/aliskhannn/thumbnailer/internal/infra/kafka/consumer"
	"github.com/aliskhannn/thumbnailer/internal/infra/kafka/producer"
	"github.com/aliskhannn/thumbnailer/internal/infra/rabbitmq"
)

// JobHandler processes one raw job payload.
type JobHandler interface {
	Handle(ctx context.Context, payload []byte) error
}

// Consumer is one consumer loop.
type Consumer interface {
	Consume(ctx context.Context) error
}

// NewPublisher builds the producing side of the configured broker.
func NewPublisher(cfg config.Queue, s retry.Strategy) (Publisher, error) {
	switch cfg.Driver {
	case config.QueueKafka:
		return producer.New(&cfg.Kafka, s), nil
	case config.QueueRabbitMQ:
		c, err := rabbitmq.Dial(&cfg.RabbitMQ, s)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

// NewConsumers builds n independent consumer loops on the configured broker.
// The returned close function releases their connections.
func NewConsumers(cfg config.Queue, s retry.Strategy, n int, h JobHandler) ([]Consumer, func(), error) {
	consumers := make([]Consumer, 0, n)

	switch cfg.Driver {
	case config.QueueKafka:
		kafkaConsumers := make([]*consumer.Consumer, 0, n)
		for i := 0; i < n; i++ {
			c := consumer.New(&cfg.Kafka, s, h)
			kafkaConsumers = append(kafkaConsumers, c)
			consumers = append(consumers, c)
		}

		closeAll := func() {
			for _, c := range kafkaConsumers {
				if err := c.Close(); err != nil {
					zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer")
				}
			}
		}

		return consumers, closeAll, nil

	case config.QueueRabbitMQ:
		client, err := rabbitmq.Dial(&cfg.RabbitMQ, s)
		if err != nil {
			return nil, nil, err
		}

		for i := 0; i < n; i++ {
			consumers = append(consumers, rabbitmq.NewConsumer(client, cfg.RabbitMQ.Prefetch, s, h))
		}

		closeAll := func() {
			if err := client.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close rabbitmq client")
			}
		}

		return consumers, closeAll, nil

	default:
		return nil, nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

// RunConsumers runs every loop until ctx is cancelled. The first loop to fail
// stops the others and its error is returned.
func RunConsumers(ctx context.Context, consumers []Consumer) error {
	if len(consumers) == 0 {
		return errors.New("no consumers configured")
	}

	g, gctx := errgroup.WithContext(ctx)

	for i, c := range consumers {
		g.Go(func() error {
			if err := c.Consume(gctx); err != nil {
				return fmt.Errorf("consumer %d: %w", i, err)
			}
			return nil
		})
	}

	return g.Wait()
}
