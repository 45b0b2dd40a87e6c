// Package tracing records in-process span trees for a retrieval: a root
// span per request with child spans for postings, scoring and hydration.
//
// Spans are only recorded under a root started with StartSpan. Without one,
// StartChildSpan returns a nil *Span and every Span method is a no-op, so
// untraced batch retrieval pays nothing.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type spanKey struct{}

// Span is one timed stage of a trace.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration

	mu       sync.Mutex
	Children []*Span
	Attrs    map[string]any
}

// StartSpan creates a root span and stores it in the returned context.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	span := &Span{Name: name, TraceID: traceID, StartTime: time.Now()}
	return context.WithValue(ctx, spanKey{}, span), span
}

// StartChildSpan starts a child of the span in ctx. It returns ctx unchanged
// and a nil span when ctx carries no span.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		return ctx, nil
	}
	child := &Span{Name: name, TraceID: parent.TraceID, StartTime: time.Now()}
	parent.mu.Lock()
	parent.Children = append(parent.Children, child)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanKey{}, child), child
}

// End records the duration. Only the first call counts.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.Duration == 0 {
		s.Duration = time.Since(s.StartTime)
	}
	s.mu.Unlock()
}

func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.Attrs == nil {
		s.Attrs = make(map[string]any)
	}
	s.Attrs[key] = value
	s.mu.Unlock()
}

// SpanFromContext returns the current span in ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// Walk visits s and its descendants depth first.
func (s *Span) Walk(fn func(span *Span, depth int)) {
	if s == nil {
		return
	}
	s.walk(fn, 0)
}

func (s *Span) walk(fn func(*Span, int), depth int) {
	fn(s, depth)
	s.mu.Lock()
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()
	for _, child := range children {
		child.walk(fn, depth+1)
	}
}

// ServerTiming renders the descendants of s as a Server-Timing header value,
// e.g. "retrieve;dur=4.210, postings;dur=1.032". Durations of repeated
// stage names are summed.
func (s *Span) ServerTiming() string {
	if s == nil {
		return ""
	}
	var (
		order  []string
		totals = make(map[string]time.Duration)
	)
	s.Walk(func(span *Span, depth int) {
		if depth == 0 {
			return
		}
		if _, seen := totals[span.Name]; !seen {
			order = append(order, span.Name)
		}
		totals[span.Name] += span.Duration
	})
	parts := make([]string, len(order))
	for i, name := range order {
		parts[i] = fmt.Sprintf("%s;dur=%.3f", name, float64(totals[name].Microseconds())/1000)
	}
	return strings.Join(parts, ", ")
}

// Log writes the span tree to logger at debug level, one record per span.
func (s *Span) Log(ctx context.Context, logger *slog.Logger) {
	if s == nil || !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	s.Walk(func(span *Span, depth int) {
		attrs := []any{
			"trace_id", span.TraceID,
			"span", span.Name,
			"duration_ms", float64(span.Duration.Microseconds()) / 1000,
			"depth", depth,
		}
		span.mu.Lock()
		for k, v := range span.Attrs {
			attrs = append(attrs, k, v)
		}
		span.mu.Unlock()
		logger.DebugContext(ctx, "span", attrs...)
	})
}
