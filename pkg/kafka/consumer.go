// Package kafka publishes and consumes JSON events on Kafka topics through
// segmentio/kafka-go. The index builder announces each committed generation
// with a Producer; every searcher runs a Consumer that reloads its index.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// MessageHandler processes one message. Errors are retried; wrap an error
// with resilience.Permanent to skip the message at once.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer reads one topic as a member of a consumer group and commits each
// offset after its handler has run.
type Consumer struct {
	reader       *kafka.Reader
	handler      MessageHandler
	retry        resilience.RetryConfig
	fetchBackoff time.Duration
	logger       *slog.Logger
}

type ConsumerOption func(*Consumer)

// WithHandlerRetry sets the retry budget of a failing handler.
func WithHandlerRetry(cfg resilience.RetryConfig) ConsumerOption {
	return func(c *Consumer) { c.retry = cfg }
}

// WithFetchBackoff sets the pause after a failed fetch.
func WithFetchBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.fetchBackoff = d }
}

// NewConsumer creates a Consumer in cfg.ConsumerGroup. A group receives each
// message once, so processes that must all see an event need distinct
// groups. New groups start at the latest offset.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    1,
			MaxBytes:    1 << 20,
			StartOffset: kafka.LastOffset,
		}),
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
		},
		fetchBackoff: time.Second,
		logger:       slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start consumes until ctx is cancelled or the consumer is closed. A message
// whose handler is interrupted by cancellation is left uncommitted and is
// delivered again after a restart.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		switch {
		case ctx.Err() != nil:
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return nil
		case errors.Is(err, io.EOF):
			c.logger.Info("consumer closed")
			return nil
		case err != nil:
			c.logger.Warn("fetch failed", "error", err, "backoff", c.fetchBackoff)
			if !sleep(ctx, c.fetchBackoff) {
				return nil
			}
			continue
		}

		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		if err := c.handle(ctx, msg); err != nil && ctx.Err() != nil {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// handle runs the handler under the retry budget. A message that still fails
// is logged and skipped so it cannot stall its partition.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	err := resilience.Retry(ctx, "handle "+msg.Topic, c.retry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	if err != nil && ctx.Err() == nil {
		c.logger.Error("message skipped",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"error", err,
		)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close leaves the consumer group and closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T. Decoding failures are
// permanent: retrying cannot fix a malformed message.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, resilience.Permanent(fmt.Errorf("decoding kafka message: %w", err))
	}
	return result, nil
}
