package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"StockAlert/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// HandlerFunc handles one message. A returned error is retried with backoff.
type HandlerFunc func(ctx context.Context, topic string, value []byte) error

// Consumer reads several topics as one consumer group member and hands each
// message to a single handler, in partition order.
type Consumer struct {
	cfg    *ConsumerConfig
	reader *kafka.Reader
	dlq    *kafka.Writer
	log    *logger.Logger

	closeOnce sync.Once
}

func NewConsumer(log *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		RetryMax:   3,
		BackoffMin: 50 * time.Millisecond,
		BackoffMax: 2 * time.Second,
		MinBytes:   1,
		MaxBytes:   10e6,
		MaxWait:    250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: brokers are required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka: group id is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka: at least one topic is required")
	}

	start := kafka.FirstOffset
	if cfg.StartLatest {
		start = kafka.LastOffset
	}
	c := &Consumer{
		cfg: cfg,
		log: log,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			GroupTopics: cfg.Topics,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			MaxWait:     cfg.MaxWait,
			StartOffset: start,
		}),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
	}
	return c, nil
}

// Run fetches and handles messages until ctx is cancelled or the reader
// fails. Offsets are committed after success, or after the message has been
// parked on the dead-letter topic; without a DLQ a poison message is
// committed after its last attempt so the group keeps moving.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	c.log.Info("kafka consumer started",
		logger.String("group", c.cfg.GroupID),
		logger.Strings("topics", c.cfg.Topics))
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		start := time.Now()
		herr := c.handleWithRetry(ctx, msg, handle)
		c.cfg.Metrics.observeConsume(msg.Topic, time.Since(start), herr)
		if herr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("kafka message dropped after retries",
				logger.String("topic", msg.Topic),
				logger.Int("partition", msg.Partition),
				logger.Int64("offset", msg.Offset),
				logger.Error(herr))
			c.deadLetter(ctx, msg)
		}

		if err := c.commitWithRetry(ctx, msg, 3); err != nil && ctx.Err() == nil {
			c.log.Warn("kafka commit failed", logger.String("topic", msg.Topic), logger.Error(err))
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message, handle HandlerFunc) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = safeHandle(ctx, msg, handle)
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		}
	}
}

func safeHandle(ctx context.Context, msg kafka.Message, handle HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handle(ctx, msg.Topic, msg.Value)
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message) {
	if c.dlq == nil {
		return
	}
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "source_topic", Value: []byte(msg.Topic)}},
	})
	if err != nil {
		c.log.Error("kafka dlq write failed", logger.String("dlq", c.cfg.DLQTopic), logger.Error(err))
		return
	}
	c.cfg.Metrics.observeDeadLetter(msg.Topic)
}

func (c *Consumer) commitWithRetry(ctx context.Context, msg kafka.Message, max int) error {
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = c.reader.CommitMessages(cctx, msg)
		cancel()
		if err == nil || ctx.Err() != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt)):
		}
	}
	return err
}

func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
		if c.dlq != nil {
			if derr := c.dlq.Close(); derr != nil && err == nil {
				err = derr
			}
		}
	})
	return err
}

// backoffWithJitter returns min·2^(attempt-1) capped at max, minus up to 50%.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := max
	if attempt-1 < 32 {
		if e := min << uint(attempt-1); e > 0 && e < max {
			exp = e
		}
	}
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}
