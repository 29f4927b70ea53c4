package repository

import (
	"context"
	"errors"
	"fmt"

	drepo "StockAlert/internal/domain/repository"
	"StockAlert/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisBroker relays bus events over Redis Pub/Sub. Delivery is at-most-once:
// a process that is not subscribed when an event is published misses it.
type RedisBroker struct {
	client redis.UniversalClient
	log    *logger.Logger
}

var _ drepo.Broker = (*RedisBroker)(nil)

func NewRedisBroker(client redis.UniversalClient, log *logger.Logger) *RedisBroker {
	return &RedisBroker{client: client, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, _, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroker) Listen(ctx context.Context, channels []string, fn func(ctx context.Context, channel string, payload []byte) error) error {
	sub := b.client.Subscribe(ctx, channels...)
	defer func() {
		if err := sub.Close(); err != nil {
			b.log.Debug("redis subscription close", logger.Error(err))
		}
	}()

	// Receive blocks until the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return errors.New("redis subscription closed")
			}
			if err := fn(ctx, m.Channel, []byte(m.Payload)); err != nil {
				b.log.Warn("relayed event handler failed", logger.String("channel", m.Channel), logger.Error(err))
			}
		}
	}
}

// Close is a no-op; the Redis client is shared and closed by its owner.
func (b *RedisBroker) Close() error { return nil }
