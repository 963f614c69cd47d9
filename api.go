// Package splitz traces the split, fold and merge tree of parallel iterators.
//
// splitz wraps any par.Iterator so that every partitioning decision the
// engine makes, every sequential fold and every merge is recorded as a span.
// The resulting tree mirrors the logical left/right split structure of the
// drive, not the worker goroutines that happened to run each branch.
//
// Core Components:
//   - Tracer: creates spans and events and hands finished spans to handlers.
//   - Span: a finished unit of work, with its tags and events.
//   - ActiveSpan: an open span; safe for concurrent use.
//   - Collector: buffers finished spans for export.
//   - Trace / TraceIndexed: the iterator adapters.
//   - PanicRecorder: records worker panics as events on the active span.
//
// Basic Usage:
//
//	tracer := splitz.New()
//	defer tracer.Close()
//
//	collector := splitz.NewCollector("drives", 1024)
//	tracer.AddCollector("drives", collector)
//
//	if err := splitz.InstallPanicHandler(tracer); err != nil {
//		log.Fatal(err)
//	}
//
//	it := splitz.TraceIndexed[int](tracer, par.Range(0, 1_000_000), "sum")
//	total := par.Sum[int](ctx, it)
//
// Span Tree:
//
// A drive opens one root span named after its label. Each split opens a
// branch span ("left" or "right") under the current parent and a "parallel"
// span beneath it; both halves of the split are parented to the parallel
// span, which stays open until the halves are merged. Each leaf opens a branch
// span and a "fold" span tagged with the label.
//
// No-op Mode:
//
// A tracer with no handlers produces no-op spans. Instrumented drives then
// cost a few allocations per split and nothing is recorded.
//
// Resource Cleanup:
//
// Call tracer.Close() to stop the async handler workers and ID pools.
package splitz

// Key represents a span operation name.
type Key = string

// Tag represents a span tag or event field key.
type Tag = string

// Span names used by the iterator adapters.
const (
	SpanLeft     Key = "left"
	SpanRight    Key = "right"
	SpanParallel Key = "parallel"
	SpanFold     Key = "fold"
)

// EventPanic names the event emitted for a recovered worker panic.
const EventPanic Key = "panic"

// Tags and fields written by the adapters and the panic recorder.
const (
	TagLabel Tag = "label"
	TagIndex Tag = "index"
	TagCause Tag = "cause"
	TagTrace Tag = "trace"
)
