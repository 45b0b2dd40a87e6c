package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/config"
	"github.com/segmentio/kafka-go"
)

// ContentTypeHeader is set to application/json on every published message.
const ContentTypeHeader = "content-type"

// Event is one message to publish. Key selects the partition, so events
// with the same key stay ordered. Value is JSON encoded.
type Event struct {
	Key     string
	Value   any
	Headers map[string]string
}

// Producer writes JSON events to one topic. Writes are synchronous and wait
// for every in-sync replica.
type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            1,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Producer{
		writer: w,
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

func (p *Producer) Topic() string {
	return p.topic
}

// Publish encodes every event before writing any, so an unencodable event
// fails the call without a partial write. Broker retries are left to the
// caller; the writer itself makes a single attempt.
func (p *Producer) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now()
	msgs := make([]kafka.Message, 0, len(events))
	size := 0
	for _, ev := range events {
		value, err := json.Marshal(ev.Value)
		if err != nil {
			return fmt.Errorf("marshaling event %q: %w", ev.Key, err)
		}
		size += len(value)
		msgs = append(msgs, kafka.Message{
			Key:     []byte(ev.Key),
			Value:   value,
			Headers: messageHeaders(ev.Headers),
			Time:    now,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Warn("publish failed", "messages", len(msgs), "error", err)
		return fmt.Errorf("publishing %d messages to %s: %w", len(msgs), p.topic, err)
	}
	p.logger.Debug("published", "messages", len(msgs), "bytes", size)
	return nil
}

func messageHeaders(extra map[string]string) []kafka.Header {
	headers := make([]kafka.Header, 0, len(extra)+1)
	headers = append(headers, kafka.Header{Key: ContentTypeHeader, Value: []byte("application/json")})
	for k, v := range extra {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
