// Package otelz exports finished splitz spans to OpenTelemetry.
//
// An Exporter converts each finished splitz.Span, including its events, into
// a read-only OpenTelemetry span and hands batches of them to any
// sdktrace.SpanExporter (OTLP, stdout, or the in-memory exporter used in
// tests). A span carrying a "panic" event gets an error status.
//
//	exp := otelz.New(otlpExporter, otelz.WithLogger(logger))
//	exp.Attach(tracer)
//	defer exp.Shutdown(ctx)
package otelz

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoobzio/splitz"
)

// DefaultScope is the instrumentation scope name of exported spans.
const DefaultScope = "github.com/zoobzio/splitz"

// DefaultBatchSize is the number of spans buffered before an automatic export.
const DefaultBatchSize = 512

var (
	// ErrInvalidSpan is returned by Stub for spans whose IDs are not
	// valid OpenTelemetry IDs, such as no-op spans.
	ErrInvalidSpan = errors.New("otelz: invalid span")

	// ErrExportFailed wraps errors returned by the underlying exporter.
	ErrExportFailed = errors.New("otelz: export failed")
)

// Exporter buffers converted spans and exports them in batches.
// Safe for concurrent use by multiple goroutines.
type Exporter struct {
	exporter sdktrace.SpanExporter
	logger   *zap.Logger
	scope    instrumentation.Scope
	resource *resource.Resource
	batch    int

	mu      sync.Mutex
	pending []sdktrace.ReadOnlySpan

	// exportMu serializes calls into the underlying exporter.
	exportMu sync.Mutex

	exported atomic.Int64
	failed   atomic.Int64
	invalid  atomic.Int64
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the logger used to report export failures.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBatchSize sets how many spans are buffered before they are exported.
// Values below one export every span as it finishes.
func WithBatchSize(n int) Option {
	return func(e *Exporter) {
		e.batch = max(n, 1)
	}
}

// WithScope sets the instrumentation scope name of exported spans.
func WithScope(name string) Option {
	return func(e *Exporter) {
		e.scope = instrumentation.Scope{Name: name}
	}
}

// WithResource sets the resource attached to exported spans.
func WithResource(r *resource.Resource) Option {
	return func(e *Exporter) {
		e.resource = r
	}
}

// New creates an exporter writing to exp.
func New(exp sdktrace.SpanExporter, opts ...Option) *Exporter {
	e := &Exporter{
		exporter: exp,
		logger:   zap.NewNop(),
		scope:    instrumentation.Scope{Name: DefaultScope},
		batch:    DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Attach registers the exporter as a span handler of t and returns the
// handler ID.
func (e *Exporter) Attach(t *splitz.Tracer) uint64 {
	return t.OnSpanComplete(e.Handle)
}

// Handle converts span and queues it, exporting the queue once it reaches
// the batch size. Spans that cannot be converted are counted and dropped.
func (e *Exporter) Handle(span splitz.Span) {
	ro, err := e.snapshot(span)
	if err != nil {
		e.invalid.Add(1)
		e.logger.Debug("otelz: dropping span", zap.String("name", span.Name), zap.Error(err))
		return
	}

	e.mu.Lock()
	e.pending = append(e.pending, ro)
	var batch []sdktrace.ReadOnlySpan
	if len(e.pending) >= e.batch {
		batch, e.pending = e.pending, nil
	}
	e.mu.Unlock()

	if batch != nil {
		_ = e.export(context.Background(), batch)
	}
}

// Flush exports every queued span.
func (e *Exporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return e.export(ctx, batch)
}

// Shutdown flushes queued spans and shuts the underlying exporter down.
func (e *Exporter) Shutdown(ctx context.Context) error {
	flushErr := e.Flush(ctx)

	e.exportMu.Lock()
	defer e.exportMu.Unlock()
	return errors.Join(flushErr, e.exporter.Shutdown(ctx))
}

// Stats reports how many spans were exported, failed to export, or could
// not be converted.
func (e *Exporter) Stats() (exported, failed, invalid int64) {
	return e.exported.Load(), e.failed.Load(), e.invalid.Load()
}

func (e *Exporter) export(ctx context.Context, batch []sdktrace.ReadOnlySpan) error {
	e.exportMu.Lock()
	defer e.exportMu.Unlock()

	if err := e.exporter.ExportSpans(ctx, batch); err != nil {
		e.failed.Add(int64(len(batch)))
		e.logger.Error("otelz: export failed", zap.Int("spans", len(batch)), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	e.exported.Add(int64(len(batch)))
	return nil
}

func (e *Exporter) snapshot(span splitz.Span) (sdktrace.ReadOnlySpan, error) {
	stub, err := Stub(span)
	if err != nil {
		return nil, err
	}
	stub.InstrumentationScope = e.scope
	stub.Resource = e.resource
	return stub.Snapshot(), nil
}

// Stub converts a finished splitz span into a span stub. Tags become string
// attributes and events keep their fields plus a "level" attribute.
func Stub(span splitz.Span) (tracetest.SpanStub, error) {
	traceID, err := trace.TraceIDFromHex(span.TraceID)
	if err != nil {
		return tracetest.SpanStub{}, fmt.Errorf("%w: trace id %q: %w", ErrInvalidSpan, span.TraceID, err)
	}
	spanID, err := trace.SpanIDFromHex(span.SpanID)
	if err != nil {
		return tracetest.SpanStub{}, fmt.Errorf("%w: span id %q: %w", ErrInvalidSpan, span.SpanID, err)
	}

	stub := tracetest.SpanStub{
		Name: span.Name,
		SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		}),
		SpanKind:   trace.SpanKindInternal,
		StartTime:  span.StartTime,
		EndTime:    span.EndTime,
		Attributes: attributes(span.Tags),
	}

	if span.ParentID != "" {
		parentID, err := trace.SpanIDFromHex(span.ParentID)
		if err != nil {
			return tracetest.SpanStub{}, fmt.Errorf("%w: parent id %q: %w", ErrInvalidSpan, span.ParentID, err)
		}
		stub.Parent = trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     parentID,
			TraceFlags: trace.FlagsSampled,
		})
	}

	for _, ev := range span.Events {
		attrs := append(attributes(ev.Fields), attribute.String("level", ev.Level.String()))
		stub.Events = append(stub.Events, sdktrace.Event{
			Name:       ev.Name,
			Time:       ev.Time,
			Attributes: attrs,
		})
		if ev.Name == splitz.EventPanic {
			stub.Status = sdktrace.Status{Code: codes.Error, Description: ev.Fields[splitz.TagCause]}
		}
	}
	return stub, nil
}

func attributes(m map[splitz.Tag]string) []attribute.KeyValue {
	if len(m) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, attribute.String(k, m[k]))
	}
	return out
}
