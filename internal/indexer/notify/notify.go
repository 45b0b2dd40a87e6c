// Package notify announces committed index generations on Kafka and reloads
// read-only searchers when an announcement arrives.
package notify

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/resilience"
)

// Event is the payload of the index.complete topic.
type Event struct {
	Generation  uint64    `json:"generation"`
	Segments    int       `json:"segments"`
	TotalDocs   int64     `json:"total_docs"`
	CommittedAt time.Time `json:"committed_at"`
	Checkpoint  string    `json:"checkpoint,omitempty"`
}

// EventFromCommit converts a commit description to its announcement.
func EventFromCommit(info indexer.CommitInfo) Event {
	return Event{
		Generation:  info.Generation,
		Segments:    info.Segments,
		TotalDocs:   info.TotalDocs,
		CommittedAt: info.CommittedAt,
		Checkpoint:  info.Checkpoint,
	}
}

// Sender is the subset of kafka.Producer the publisher needs.
type Sender interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Publisher announces generations, retrying transient broker failures.
type Publisher struct {
	sender  Sender
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher wraps sender. m may be nil.
func NewPublisher(sender Sender, m *metrics.Metrics) *Publisher {
	return &Publisher{
		sender: sender,
		retry: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			OnRetry:      func(int, error, time.Duration) { m.IndexEvent("publish_retried") },
		},
		metrics: m,
		logger:  slog.Default().With("component", "index-notifier"),
	}
}

// Notify publishes info keyed by its generation.
func (p *Publisher) Notify(ctx context.Context, info indexer.CommitInfo) error {
	event := kafka.Event{
		Key:     strconv.FormatUint(info.Generation, 10),
		Value:   EventFromCommit(info),
		Headers: map[string]string{"event": "index.complete"},
	}
	err := resilience.Retry(ctx, "publish index.complete", p.retry, func() error {
		return p.sender.Publish(ctx, event)
	})
	if err != nil {
		p.metrics.IndexEvent("publish_failed")
		return err
	}
	p.metrics.IndexEvent("published")
	p.logger.Info("generation announced",
		"generation", info.Generation,
		"segments", info.Segments,
		"total_docs", info.TotalDocs,
	)
	return nil
}

// Reloadable is an index that can pick up newer generations from disk.
type Reloadable interface {
	Generation() uint64
	Reload() (bool, error)
}

// Invalidator drops cached results after a reload.
type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// Handler returns a kafka.MessageHandler that reloads engine when an event
// names a generation newer than the one it serves. Malformed events are
// logged and acknowledged; a failed reload is returned so the consumer
// retries it. inv and m may be nil.
func Handler(engine Reloadable, inv Invalidator, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-reloader")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[Event](value)
		if err != nil {
			logger.Error("failed to decode index event", "error", err, "key", string(key))
			m.IndexEvent("malformed")
			return nil
		}
		current := engine.Generation()
		if event.Generation <= current {
			logger.Debug("index event already applied",
				"event_generation", event.Generation,
				"generation", current,
			)
			m.IndexEvent("stale")
			return nil
		}
		reloaded, err := engine.Reload()
		if err != nil {
			return err
		}
		if !reloaded {
			m.IndexEvent("stale")
			return nil
		}
		m.IndexEvent("reloaded")
		if inv != nil {
			if _, err := inv.Invalidate(ctx); err != nil {
				logger.Warn("cache invalidation after reload failed", "error", err)
			}
		}
		logger.Info("index reloaded",
			"from_generation", current,
			"generation", engine.Generation(),
			"announced", event.Generation,
		)
		return nil
	}
}
