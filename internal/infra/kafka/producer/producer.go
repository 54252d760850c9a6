package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/thumbnailer/internal/config"
	"github.com/aliskhannn/thumbnailer/internal/model"
)

// sender is the part of the wbf producer used here.
type sender interface {
	send(ctx context.Context, s retry.Strategy, key, value []byte) error
	close() error
}

type wbfSender struct {
	p *wbfkafka.Producer
}

func (w wbfSender) send(ctx context.Context, s retry.Strategy, key, value []byte) error {
	return w.p.SendWithRetry(ctx, s, key, value)
}

func (w wbfSender) close() error {
	return w.p.Close()
}

// Producer publishes processing jobs to Kafka.
type Producer struct {
	client   sender
	strategy retry.Strategy
	cfg      *config.Kafka
	dial     func(ctx context.Context, network, address string) (*kafka.Conn, error)
}

// New creates a new Producer.
// - cfg: Kafka configuration struct
// - s: retry strategy
func New(
	cfg *config.Kafka,
	s retry.Strategy,
) *Producer {
	producer := wbfkafka.NewProducer(cfg.Brokers, cfg.Topic)

	return &Producer{
		client:   wbfSender{p: producer},
		cfg:      cfg,
		strategy: s,
		dial:     kafka.DialContext,
	}
}

// Publish serializes the job to JSON and sends it to Kafka.
// The image ID is used as the message key so redeliveries of one image land
// on the same partition.
func (p *Producer) Publish(ctx context.Context, job model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	key := []byte(job.ImageID.String())

	if err = p.client.send(ctx, p.strategy, key, data); err != nil {
		return fmt.Errorf("failed to send job: %w", err)
	}

	return nil
}

// Ping dials the brokers in turn and reads the topic's partitions from the
// first one that answers.
func (p *Producer) Ping(ctx context.Context) error {
	var errs []error

	for _, broker := range p.cfg.Brokers {
		conn, err := p.dial(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, fmt.Errorf("dial %s: %w", broker, err))
			continue
		}

		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}

		partitions, err := conn.ReadPartitions(p.cfg.Topic)
		conn.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("read partitions of %s from %s: %w", p.cfg.Topic, broker, err))
			continue
		}

		if len(partitions) == 0 {
			return fmt.Errorf("topic %s has no partitions", p.cfg.Topic)
		}

		return nil
	}

	if len(errs) == 0 {
		return errors.New("no kafka brokers configured")
	}

	return errors.Join(errs...)
}

// Close closes the underlying Kafka writer.
func (p *Producer) Close() error {
	return p.client.close()
}
