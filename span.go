package splitz

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType string

const (
	bundleKey bundleKeyType = "splitz"
)

// Ref identifies a span so it can parent spans created elsewhere.
// The zero Ref means "no parent".
type Ref struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
}

// IsZero reports whether r refers to no span.
func (r Ref) IsZero() bool {
	return r.SpanID == ""
}

// Span represents a single unit of work in a trace.
// Spans are NOT thread-safe - do not modify from multiple goroutines.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Span struct {
	Tags      map[Tag]string `json:"tags,omitempty"`
	Events    []Event        `json:"events,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time,omitempty"`
	Duration  time.Duration  `json:"duration"`
	TraceID   string         `json:"trace_id"`
	SpanID    string         `json:"span_id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Name      string         `json:"name"`
}

// Ref returns the reference to s.
func (s *Span) Ref() Ref {
	return Ref{TraceID: s.TraceID, SpanID: s.SpanID}
}

// clone returns a deep copy of s.
func (s *Span) clone() Span {
	c := *s
	if s.Tags != nil {
		c.Tags = make(map[Tag]string, len(s.Tags))
		for k, v := range s.Tags {
			c.Tags[k] = v
		}
	}
	if s.Events != nil {
		c.Events = make([]Event, len(s.Events))
		for i := range s.Events {
			c.Events[i] = s.Events[i].clone()
		}
	}
	return c
}

// Event is a structured record emitted inside a span, such as a recovered
// panic.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Event struct {
	Fields  map[Tag]string `json:"fields,omitempty"`
	Time    time.Time      `json:"time"`
	TraceID string         `json:"trace_id,omitempty"`
	SpanID  string         `json:"span_id,omitempty"`
	Name    string         `json:"name"`
	Level   zapcore.Level  `json:"level"`
}

func (e *Event) clone() Event {
	c := *e
	if e.Fields != nil {
		c.Fields = make(map[Tag]string, len(e.Fields))
		for k, v := range e.Fields {
			c.Fields[k] = v
		}
	}
	return c
}

// ActiveSpan wraps an open Span with thread-safe tag operations and lifecycle
// management. Safe for concurrent use by multiple goroutines.
//
// An ActiveSpan started on a tracer without handlers is a no-op: it records
// nothing and reports empty IDs.
type ActiveSpan struct {
	span   *Span
	tracer *Tracer
	noop   bool
	mu     sync.Mutex // Protects Tags and Events.
}

// SetTag adds a key-value pair to the span.
// No-op if span is already finished.
func (a *ActiveSpan) SetTag(key Tag, value string) {
	if a.noop {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.span.EndTime.IsZero() {
		return
	}
	if a.span.Tags == nil {
		a.span.Tags = make(map[Tag]string)
	}
	a.span.Tags[key] = value
}

// SetIntTag adds an integer tag to the span.
func (a *ActiveSpan) SetIntTag(key Tag, value int) {
	if a.noop {
		return
	}
	a.SetTag(key, strconv.Itoa(value))
}

// SetBoolTag adds a boolean tag to the span.
func (a *ActiveSpan) SetBoolTag(key Tag, value bool) {
	if a.noop {
		return
	}
	a.SetTag(key, strconv.FormatBool(value))
}

// GetTag retrieves a tag value by key.
func (a *ActiveSpan) GetTag(key Tag) (string, bool) {
	if a.noop {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	value, ok := a.span.Tags[key]
	return value, ok
}

// addEvent attaches ev to the span unless it has finished.
func (a *ActiveSpan) addEvent(ev Event) {
	if a.noop {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.span.EndTime.IsZero() {
		return
	}
	a.span.Events = append(a.span.Events, ev)
}

// Finish completes the span and hands it to the tracer's handlers.
// Safe to call multiple times - subsequent calls are no-ops.
func (a *ActiveSpan) Finish() {
	if a.noop {
		return
	}
	a.mu.Lock()
	if !a.span.EndTime.IsZero() {
		a.mu.Unlock()
		return
	}
	a.span.EndTime = a.tracer.clock.Now()
	a.span.Duration = a.span.EndTime.Sub(a.span.StartTime)
	finished := a.span.clone()
	a.mu.Unlock()

	a.tracer.collectSpan(&finished)
}

// Finished reports whether Finish has been called.
func (a *ActiveSpan) Finished() bool {
	if a.noop {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.span.EndTime.IsZero()
}

// TraceID returns the trace ID of this span.
func (a *ActiveSpan) TraceID() string {
	return a.span.TraceID
}

// SpanID returns the span ID of this span.
func (a *ActiveSpan) SpanID() string {
	return a.span.SpanID
}

// Ref returns the reference other spans use to name this one as parent.
func (a *ActiveSpan) Ref() Ref {
	return a.span.Ref()
}

// Context returns a context in which this span is the active span.
// Spans started from the returned context become its children, and events
// emitted with it are attached to it. A no-op span returns parent unchanged.
func (a *ActiveSpan) Context(parent context.Context) context.Context {
	if a.noop {
		return parent
	}
	bundle := &contextBundle{tracer: a.tracer, active: a}
	return context.WithValue(parent, bundleKey, bundle)
}

// GetSpan extracts the current span from a context.
// Returns nil if no span is present.
func GetSpan(ctx context.Context) *Span {
	if a := activeSpan(ctx); a != nil {
		return a.span
	}
	return nil
}

// RefFrom returns the reference of the span active in ctx, or the zero Ref.
func RefFrom(ctx context.Context) Ref {
	if a := activeSpan(ctx); a != nil {
		return a.Ref()
	}
	return Ref{}
}

func activeSpan(ctx context.Context) *ActiveSpan {
	if ctx == nil {
		return nil
	}
	if bundle, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		return bundle.active
	}
	return nil
}
