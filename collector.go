package splitz

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// collectorDrainTimeout bounds how long Close waits for queued spans.
const collectorDrainTimeout = 100 * time.Millisecond

// Collector buffers finished spans so that whole drives can be exported and
// rebuilt into trees after the fact. Spans are queued on a bounded channel
// and moved into the buffer by a background goroutine; a full queue drops
// the span and counts it.
// Safe for concurrent use by multiple goroutines.
type Collector struct {
	name   string
	queue  chan Span
	stopCh chan struct{}
	done   chan struct{}
	logger atomic.Pointer[zap.Logger]

	mu    sync.Mutex
	spans []Span

	dropped   atomic.Int64
	direct    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewCollector creates a collector whose queue holds up to bufferSize spans.
func NewCollector(name string, bufferSize int) *Collector {
	c := &Collector{
		name:   name,
		queue:  make(chan Span, bufferSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.logger.Store(zap.NewNop())
	go c.run()
	return c
}

// Name returns the name the collector was created with.
func (c *Collector) Name() string {
	return c.name
}

func (c *Collector) setLogger(logger *zap.Logger) {
	c.logger.Store(logger.With(zap.String("collector", c.name)))
}

func (c *Collector) run() {
	defer close(c.done)
	for {
		select {
		case span := <-c.queue:
			c.store(span)
		case <-c.stopCh:
			for {
				select {
				case span := <-c.queue:
					c.store(span)
				default:
					return
				}
			}
		}
	}
}

// Close stops accepting spans and drains the queue. Buffered spans stay
// available to Export. Safe to call multiple times.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
	})
	select {
	case <-c.done:
	case <-time.After(collectorDrainTimeout):
		c.logger.Load().Warn("splitz: collector did not drain in time")
	}
	if n := c.dropped.Load(); n > 0 {
		c.logger.Load().Debug("splitz: collector dropped spans", zap.Int64("dropped", n))
	}
}

// Collect queues a copy of span. Nil spans and spans arriving after Close,
// or while the queue is full, are dropped.
// In sync mode the span is buffered on the calling goroutine.
func (c *Collector) Collect(span *Span) {
	if span == nil || c.closed.Load() {
		c.dropped.Add(1)
		return
	}

	cp := span.clone()
	if c.direct.Load() {
		c.store(cp)
		return
	}

	select {
	case c.queue <- cp:
	default:
		c.dropped.Add(1)
	}
}

func (c *Collector) store(span Span) {
	c.mu.Lock()
	c.spans = append(c.spans, span)
	c.mu.Unlock()
}

// Export removes and returns every buffered span in the order it was
// collected.
func (c *Collector) Export() []Span {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spans) == 0 {
		return nil
	}
	out := c.spans
	c.spans = make([]Span, 0, min(cap(out), 1024))
	return out
}

// ExportTrace removes and returns the buffered spans of one trace, leaving
// spans of other drives in place.
func (c *Collector) ExportTrace(traceID string) []Span {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Span
	c.spans = slices.DeleteFunc(c.spans, func(s Span) bool {
		if s.TraceID == traceID {
			out = append(out, s)
			return true
		}
		return false
	})
	return out
}

// Trees exports every buffered span and rebuilds them into span trees, one
// per root.
func (c *Collector) Trees() []*Node {
	return BuildTree(c.Export())
}

// Count returns the current number of buffered spans.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}

// DroppedCount returns the total number of spans dropped.
func (c *Collector) DroppedCount() int64 {
	return c.dropped.Load()
}

// SetSyncMode makes Collect buffer spans directly instead of through the
// queue, so they are visible as soon as the span finishes.
func (c *Collector) SetSyncMode(sync bool) {
	c.direct.Store(sync)
}

// Reset discards buffered spans and zeroes the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.spans = nil
	c.dropped.Store(0)
}
