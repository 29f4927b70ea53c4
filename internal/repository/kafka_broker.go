package repository

import (
	"context"
	"fmt"

	drepo "StockAlert/internal/domain/repository"
	"StockAlert/pkg/kafka"
	"StockAlert/pkg/logger"
)

// KafkaBroker relays bus events through Kafka topics named after the bus
// channels. Every process listens in its own consumer group so each one sees
// every event.
type KafkaBroker struct {
	producer *kafka.Producer
	log      *logger.Logger
	group    string
	opts     []kafka.ConsumerOption
}

var _ drepo.Broker = (*KafkaBroker)(nil)

// NewKafkaBroker uses group as the consumer group id; pass a per-process
// value. opts configure the listening consumer.
func NewKafkaBroker(producer *kafka.Producer, group string, log *logger.Logger, opts ...kafka.ConsumerOption) *KafkaBroker {
	return &KafkaBroker{producer: producer, log: log, group: group, opts: opts}
}

func (b *KafkaBroker) Publish(ctx context.Context, channel string, key, payload []byte) error {
	if err := b.producer.Publish(ctx, channel, key, payload); err != nil {
		return fmt.Errorf("kafka publish %s: %w", channel, err)
	}
	return nil
}

func (b *KafkaBroker) Listen(ctx context.Context, channels []string, fn func(ctx context.Context, channel string, payload []byte) error) error {
	opts := append([]kafka.ConsumerOption{
		kafka.WithConsumerGroupID(b.group),
		kafka.WithConsumerTopics(channels...),
		kafka.WithConsumerStartLatest(true),
	}, b.opts...)
	consumer, err := kafka.NewConsumer(b.log, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			b.log.Warn("kafka consumer close", logger.Error(err))
		}
	}()
	return consumer.Run(ctx, kafka.HandlerFunc(fn))
}

func (b *KafkaBroker) Close() error {
	return b.producer.Close()
}
