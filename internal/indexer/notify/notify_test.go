package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/metrics"
)

type flakySender struct {
	failures int
	sent     []kafka.Event
}

func (f *flakySender) Publish(_ context.Context, events ...kafka.Event) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("leader not available")
	}
	f.sent = append(f.sent, events...)
	return nil
}

func TestPublisherRetriesAndEncodesEvent(t *testing.T) {
	sender := &flakySender{failures: 2}
	m := metrics.New()
	p := NewPublisher(sender, m)
	p.retry.InitialDelay = time.Millisecond
	p.retry.MaxDelay = time.Millisecond

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := p.Notify(context.Background(), indexer.CommitInfo{
		Generation: 7, Segments: 3, TotalDocs: 5_233_329, CommittedAt: at, Checkpoint: "AA/wiki_00.bz2:9",
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "7", sender.sent[0].Key)

	raw, err := json.Marshal(sender.sent[0].Value)
	require.NoError(t, err)
	assert.JSONEq(t, `{"generation":7,"segments":3,"total_docs":5233329,"committed_at":"2026-03-01T12:00:00Z","checkpoint":"AA/wiki_00.bz2:9"}`, string(raw))
	assert.Equal(t, "index.complete", sender.sent[0].Headers["event"])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexEventsTotal.WithLabelValues("publish_retried")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexEventsTotal.WithLabelValues("published")))
}

func TestPublisherGivesUp(t *testing.T) {
	sender := &flakySender{failures: 100}
	p := NewPublisher(sender, nil)
	p.retry.MaxAttempts = 2
	p.retry.InitialDelay = time.Millisecond
	assert.Error(t, p.Notify(context.Background(), indexer.CommitInfo{Generation: 1}))
}

type fakeIndex struct {
	gen       uint64
	onDisk    uint64
	reloads   int
	reloadErr error
}

func (f *fakeIndex) Generation() uint64 { return f.gen }
func (f *fakeIndex) Reload() (bool, error) {
	f.reloads++
	if f.reloadErr != nil {
		return false, f.reloadErr
	}
	if f.onDisk == f.gen {
		return false, nil
	}
	f.gen = f.onDisk
	return true, nil
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(context.Context) (int64, error) {
	c.calls++
	return 3, nil
}

func encode(t *testing.T, e Event) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func TestHandlerReloadsNewerGenerations(t *testing.T) {
	idx := &fakeIndex{gen: 2, onDisk: 4}
	inv := &countingInvalidator{}
	h := Handler(idx, inv, nil)
	ctx := context.Background()

	require.NoError(t, h(ctx, []byte("4"), encode(t, Event{Generation: 4})))
	assert.Equal(t, uint64(4), idx.gen)
	assert.Equal(t, 1, inv.calls)

	require.NoError(t, h(ctx, []byte("3"), encode(t, Event{Generation: 3})))
	assert.Equal(t, 1, idx.reloads, "stale events must not reload")
}

func TestHandlerAcknowledgesMalformedAndRetriesFailures(t *testing.T) {
	idx := &fakeIndex{gen: 1, onDisk: 2, reloadErr: errors.New("manifest unreadable")}
	h := Handler(idx, nil, nil)

	assert.NoError(t, h(context.Background(), nil, []byte("{not json")))
	assert.Error(t, h(context.Background(), nil, encode(t, Event{Generation: 2})))
}
