package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "retrieve", "trace-1")
	_, postings := StartChildSpan(ctx, "postings")
	postings.SetAttr("terms", 3)
	postings.End()
	cctx, score := StartChildSpan(ctx, "score")
	_, inner := StartChildSpan(cctx, "heap")
	inner.End()
	score.End()
	root.End()

	assert.Same(t, root, SpanFromContext(ctx))
	assert.Equal(t, "trace-1", inner.TraceID)

	var visited []string
	root.Walk(func(s *Span, depth int) {
		visited = append(visited, strings.Repeat(".", depth)+s.Name)
	})
	assert.Equal(t, []string{"retrieve", ".postings", ".score", "..heap"}, visited)
}

func TestUntracedChildIsNoop(t *testing.T) {
	ctx := context.Background()
	cctx, span := StartChildSpan(ctx, "alone")
	assert.Nil(t, span)
	assert.Equal(t, ctx, cctx)
	assert.Nil(t, SpanFromContext(cctx))

	assert.NotPanics(t, func() {
		span.SetAttr("k", 1)
		span.End()
		span.Walk(func(*Span, int) { t.Fatal("walked a nil span") })
		span.Log(ctx, slog.Default())
	})
	assert.Empty(t, span.ServerTiming())
}

func TestServerTiming(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "http.retrieve", "trace-3")
	rctx, retrieve := StartChildSpan(ctx, "retrieve")
	_, postings := StartChildSpan(rctx, "postings")
	postings.Duration = 1500 * time.Microsecond
	_, hydrate := StartChildSpan(rctx, "hydrate")
	hydrate.Duration = time.Millisecond
	_, again := StartChildSpan(rctx, "hydrate")
	again.Duration = 2 * time.Millisecond
	retrieve.Duration = 5 * time.Millisecond
	root.End()

	assert.Equal(t, "retrieve;dur=5.000, postings;dur=1.500, hydrate;dur=3.000", root.ServerTiming())
}

func TestEndKeepsFirstDuration(t *testing.T) {
	_, root := StartSpan(context.Background(), "r", "t")
	root.Duration = time.Second
	root.End()
	assert.Equal(t, time.Second, root.Duration)
}

func TestLogOnlyAtDebug(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "retrieve", "trace-2")
	_, child := StartChildSpan(ctx, "hydrate")
	child.SetAttr("docs", 5)
	child.End()
	root.End()

	var buf bytes.Buffer
	info := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	root.Log(ctx, info)
	assert.Empty(t, buf.String())

	debug := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	root.Log(ctx, debug)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "span=retrieve")
	assert.Contains(t, lines[1], "span=hydrate")
	assert.Contains(t, lines[1], "docs=5")
	assert.Contains(t, lines[1], "trace_id=trace-2")
}
