// Package tracing times the steps of a write as a tree of spans carried in
// the context. A finished tree is logged at debug level, one line per span,
// under the request id of the call.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/notes-search/pkg/logger"
)

type contextKey struct{}

// Span is one timed step.
type Span struct {
	Name     string
	TraceID  string
	Start    time.Time
	Duration time.Duration
	Err      error

	mu       sync.Mutex
	attrs    []any
	children []*Span
}

// Start opens a span. With a span already in ctx the new span becomes its
// child; otherwise it is a root whose trace id is the request id, or a fresh
// uuid outside a request.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	span := &Span{Name: name, Start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, span)
		parent.mu.Unlock()
	} else if span.TraceID = logger.RequestID(ctx); span.TraceID == "" {
		span.TraceID = uuid.NewString()
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// FromContext returns the innermost span in ctx, or nil.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

// End records the duration and the error, if any, of the step.
func (s *Span) End(err error) {
	s.mu.Lock()
	s.Duration = time.Since(s.Start)
	s.Err = err
	s.mu.Unlock()
}

// SetAttr attaches a key/value pair logged with the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// Children returns the direct child spans in start order.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Log writes the tree rooted at s when debug logging is enabled.
func (s *Span) Log(ctx context.Context) {
	log := logger.FromContext(ctx)
	if !log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	s.log(ctx, log, 0)
}

func (s *Span) log(ctx context.Context, log *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := append([]any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration", s.Duration,
		"depth", depth,
	}, s.attrs...)
	if s.Err != nil {
		attrs = append(attrs, "error", s.Err)
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	log.DebugContext(ctx, "span", attrs...)
	for _, child := range children {
		child.log(ctx, log, depth+1)
	}
}
