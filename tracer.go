package splitz

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"maps"
	mrand "math/rand/v2"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/zoobzio/splitz/par"
)

var (
	// ErrWorkerPoolEnabled is returned by EnableWorkerPool when called twice.
	ErrWorkerPoolEnabled = errors.New("splitz: worker pool already enabled")

	// ErrInvalidWorkerPool is returned by EnableWorkerPool for non-positive
	// sizes.
	ErrInvalidWorkerPool = errors.New("splitz: workers and queue size must be > 0")
)

// contextBundle holds both tracer and span to reduce context allocations.
type contextBundle struct {
	tracer *Tracer
	active *ActiveSpan
}

// SpanHandler is called when a span completes.
type SpanHandler func(span Span)

// EventHandler is called for every event emitted through the tracer.
type EventHandler func(ev Event)

type handlerEntry struct {
	span  SpanHandler
	event EventHandler
	id    uint64
	async bool
}

// Tracer manages span lifecycle and collection.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	handlers     []handlerEntry
	collectors   map[string]uint64
	panicHook    func(handlerID uint64, r any)
	workers      *par.Pool
	noop         *ActiveSpan
	traceIDPool  *IDPool
	spanIDPool   *IDPool
	clock        clockz.Clock
	logger       *zap.Logger
	handlersLock sync.RWMutex
	idPoolOnce   sync.Once
	nextID       atomic.Uint64
	handlerCount atomic.Int32
	droppedSpans atomic.Uint64
}

// New creates a new tracer.
// Uses the real clock and a no-op logger.
func New() *Tracer {
	return newTracer(clockz.RealClock, zap.NewNop())
}

func newTracer(clock clockz.Clock, logger *zap.Logger) *Tracer {
	t := &Tracer{
		handlers:   make([]handlerEntry, 0),
		collectors: make(map[string]uint64),
		clock:      clock,
		logger:     logger,
	}
	t.noop = &ActiveSpan{span: &Span{}, tracer: t, noop: true}
	return t
}

// WithClock returns a new tracer with the specified clock.
// Enables clock injection for deterministic testing.
func (t *Tracer) WithClock(clock clockz.Clock) *Tracer {
	return newTracer(clock, t.logger)
}

// WithLogger returns a new tracer that writes emitted events and handler
// failures to logger.
func (t *Tracer) WithLogger(logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newTracer(t.clock, logger)
}

// Logger returns the tracer's logger.
func (t *Tracer) Logger() *zap.Logger {
	return t.logger
}

// ensureIDPools initializes ID pools if not already created.
func (t *Tracer) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		poolSize := runtime.NumCPU() * 100
		t.traceIDPool = NewIDPool(poolSize, hexID(16))
		t.spanIDPool = NewIDPool(poolSize, hexID(8))
	})
}

// hexID returns a factory of random n-byte hex IDs, the widths OpenTelemetry
// uses for trace and span IDs. If crypto/rand fails the factory falls back
// to math/rand.
func hexID(n int) func() string {
	return func() string {
		b := make([]byte, n)
		if _, err := crand.Read(b); err != nil {
			for i := 0; i < n; i += 8 {
				binary.BigEndian.PutUint64(b[i:], mrand.Uint64())
			}
		}
		return hex.EncodeToString(b)
	}
}

// OnSpanComplete registers a synchronous handler called when spans complete.
func (t *Tracer) OnSpanComplete(handler SpanHandler) uint64 {
	if handler == nil {
		return 0
	}
	return t.register(handlerEntry{span: handler})
}

// OnSpanCompleteAsync registers an asynchronous handler called when spans
// complete. With a worker pool enabled the handler runs on the pool and spans
// are dropped when its queue is full; otherwise each call gets a goroutine.
func (t *Tracer) OnSpanCompleteAsync(handler SpanHandler) uint64 {
	if handler == nil {
		return 0
	}
	return t.register(handlerEntry{span: handler, async: true})
}

// OnEvent registers a synchronous handler called for every emitted event.
func (t *Tracer) OnEvent(handler EventHandler) uint64 {
	if handler == nil {
		return 0
	}
	return t.register(handlerEntry{event: handler})
}

// AddCollector feeds every finished span into c. Adding a collector under a
// name already in use replaces the previous one.
func (t *Tracer) AddCollector(name string, c *Collector) uint64 {
	c.setLogger(t.logger)
	id := t.OnSpanComplete(func(span Span) {
		c.Collect(&span)
	})

	t.handlersLock.Lock()
	prev, replaced := t.collectors[name]
	t.collectors[name] = id
	t.handlersLock.Unlock()

	if replaced {
		t.RemoveHandler(prev)
	}
	return id
}

func (t *Tracer) register(entry handlerEntry) uint64 {
	entry.id = t.nextID.Add(1)

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = append(t.handlers, entry)
	t.handlerCount.Store(int32(len(t.handlers)))
	return entry.id
}

// RemoveHandler removes a span or event handler by ID.
func (t *Tracer) RemoveHandler(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = slices.DeleteFunc(t.handlers, func(h handlerEntry) bool {
		return h.id == id
	})
	t.handlerCount.Store(int32(len(t.handlers)))
}

// HasHandlers reports whether anything observes this tracer. Without
// handlers, spans are no-ops.
func (t *Tracer) HasHandlers() bool {
	return t.handlerCount.Load() > 0
}

// SetPanicHook sets a function to be called when a handler panics.
// Without a hook, handler panics are logged.
func (t *Tracer) SetPanicHook(hook func(handlerID uint64, r any)) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.panicHook = hook
}

// StartSpan creates a new span and returns it wrapped in an ActiveSpan.
// If the context contains an active span, the new span will be its child.
// The returned context carries the new span.
func (t *Tracer) StartSpan(ctx context.Context, operation Key) (context.Context, *ActiveSpan) {
	if ctx == nil {
		ctx = context.Background()
	}
	span := t.Start(RefFrom(ctx), operation, nil)
	return span.Context(ctx), span
}

// Start opens a span under an explicit parent. A zero parent starts a new
// trace. tags are recorded at creation.
// Without handlers every call returns the same shared no-op span.
func (t *Tracer) Start(parent Ref, operation Key, tags map[Tag]string) *ActiveSpan {
	if !t.HasHandlers() {
		return t.noop
	}

	span := &Span{
		TraceID:   parent.TraceID,
		SpanID:    t.generateSpanID(),
		ParentID:  parent.SpanID,
		Name:      operation,
		StartTime: t.clock.Now(),
	}
	if parent.IsZero() {
		span.TraceID = t.generateTraceID()
		span.ParentID = ""
	}
	if len(tags) > 0 {
		span.Tags = maps.Clone(tags)
	}
	return &ActiveSpan{span: span, tracer: t}
}

// Emit records ev. Events without a span are attached to the span active in
// ctx, if any. The event is written to the tracer's logger at its level and
// passed to every event handler.
func (t *Tracer) Emit(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = t.clock.Now()
	}
	if ev.SpanID == "" {
		if a := activeSpan(ctx); a != nil {
			ev.TraceID, ev.SpanID = a.span.TraceID, a.span.SpanID
			a.addEvent(ev.clone())
		}
	}

	t.logEvent(ev)

	t.handlersLock.RLock()
	handlers := make([]handlerEntry, 0, len(t.handlers))
	for _, h := range t.handlers {
		if h.event != nil {
			handlers = append(handlers, h)
		}
	}
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		t.safeCall(h.id, func() { h.event(ev.clone()) })
	}
}

func (t *Tracer) logEvent(ev Event) {
	ce := t.logger.Check(ev.Level, ev.Name)
	if ce == nil {
		return
	}
	fields := make([]zap.Field, 0, len(ev.Fields)+2)
	if ev.SpanID != "" {
		fields = append(fields, zap.String("trace_id", ev.TraceID), zap.String("span_id", ev.SpanID))
	}
	for _, k := range slices.Sorted(maps.Keys(ev.Fields)) {
		fields = append(fields, zap.String(k, ev.Fields[k]))
	}
	ce.Write(fields...)
}

// collectSpan calls all registered span handlers with the completed span.
func (t *Tracer) collectSpan(span *Span) {
	t.handlersLock.RLock()
	if len(t.handlers) == 0 {
		t.handlersLock.RUnlock()
		return
	}
	handlers := make([]handlerEntry, 0, len(t.handlers))
	for _, h := range t.handlers {
		if h.span != nil {
			handlers = append(handlers, h)
		}
	}
	workers := t.workers
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		entry := h
		call := func() { entry.span(span.clone()) }
		switch {
		case !entry.async:
			t.safeCall(entry.id, call)
		case workers != nil:
			ok := workers.TrySpawn(context.Background(), func(context.Context) {
				t.safeCall(entry.id, call)
			})
			if !ok {
				t.droppedSpans.Add(1)
			}
		default:
			go t.safeCall(entry.id, call)
		}
	}
}

func (t *Tracer) safeCall(id uint64, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.handlersLock.RLock()
			hook := t.panicHook
			t.handlersLock.RUnlock()
			if hook != nil {
				hook(id, r)
				return
			}
			t.logger.Warn("splitz: handler panicked", zap.Uint64("handler", id), zap.Any("panic", r))
		}
	}()
	fn()
}

// EnableWorkerPool runs async span handlers on a bounded par.Pool instead of
// one goroutine per span.
func (t *Tracer) EnableWorkerPool(workers, queueSize int) error {
	if workers <= 0 || queueSize <= 0 {
		return ErrInvalidWorkerPool
	}

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	if t.workers != nil {
		return ErrWorkerPoolEnabled
	}
	t.workers = par.New(
		par.WithWorkers(workers),
		par.WithQueueSize(queueSize),
		par.WithLogger(t.logger),
	)
	return nil
}

// DroppedSpans returns the number of spans dropped due to full worker queue.
func (t *Tracer) DroppedSpans() uint64 {
	return t.droppedSpans.Load()
}

// Close shuts down the tracer gracefully and cleans up resources.
// In-flight async handlers finish before Close returns.
func (t *Tracer) Close() {
	t.handlersLock.Lock()
	t.handlers = nil
	t.handlerCount.Store(0)
	clear(t.collectors)
	workers := t.workers
	t.workers = nil
	t.handlersLock.Unlock()

	if workers != nil {
		workers.Close()
	}

	// The pools are read through the once so a concurrent Start cannot race
	// their creation. Get keeps generating inline after the pools close.
	t.ensureIDPools()
	t.traceIDPool.Close()
	t.spanIDPool.Close()
	t.logger.Debug("splitz: tracer closed",
		zap.Int64("trace_id_misses", t.traceIDPool.Misses()),
		zap.Int64("span_id_misses", t.spanIDPool.Misses()),
		zap.Uint64("dropped_spans", t.droppedSpans.Load()))
}

func (t *Tracer) generateTraceID() string {
	t.ensureIDPools()
	return t.traceIDPool.Get()
}

func (t *Tracer) generateSpanID() string {
	t.ensureIDPools()
	return t.spanIDPool.Get()
}
