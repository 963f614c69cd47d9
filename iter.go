package splitz

import (
	"context"

	"github.com/zoobzio/splitz/par"
)

// Trace wraps it so that every drive records its split, fold and merge tree
// on t under a root span named label. Items and results are unchanged.
func Trace[T any](t *Tracer, it par.Iterator[T], label string) par.Iterator[T] {
	return &traceIter[T]{tracer: t, base: it, label: label}
}

// TraceIndexed is Trace for indexed iterators. The result stays indexed, so
// the engine keeps splitting it at indices.
func TraceIndexed[T any](t *Tracer, it par.IndexedIterator[T], label string) par.IndexedIterator[T] {
	return &indexedTraceIter[T]{traceIter: traceIter[T]{tracer: t, base: it, label: label}, indexed: it}
}

type traceIter[T any] struct {
	tracer *Tracer
	base   par.Iterator[T]
	label  string
}

// Len passes the wrapped length through so partitioning is unaffected.
func (it *traceIter[T]) Len() (int, bool) {
	return it.base.Len()
}

func (it *traceIter[T]) DriveUnindexed(ctx context.Context, consumer par.UnindexedConsumer[T]) par.Partial {
	ctx, root := it.enter(ctx)
	defer root.Finish()
	return it.base.DriveUnindexed(ctx, it.wrap(consumer, root))
}

// enter opens the root span under whatever span is active in ctx.
func (it *traceIter[T]) enter(ctx context.Context) (context.Context, *ActiveSpan) {
	root := it.tracer.Start(RefFrom(ctx), it.label, nil)
	return root.Context(ctx), root
}

func (it *traceIter[T]) wrap(consumer par.Consumer[T], root *ActiveSpan) *tracedConsumer[T] {
	return &tracedConsumer[T]{
		base:   consumer,
		tracer: it.tracer,
		label:  it.label,
		side:   Right,
		parent: root.Ref(),
	}
}

type indexedTraceIter[T any] struct {
	traceIter[T]
	indexed par.IndexedIterator[T]
}

func (it *indexedTraceIter[T]) Drive(ctx context.Context, consumer par.Consumer[T]) par.Partial {
	ctx, root := it.enter(ctx)
	defer root.Finish()
	return it.indexed.Drive(ctx, it.wrap(consumer, root))
}

// tracedConsumer opens the branch spans of the partition it consumes.
//
// parent names the span the next branch span hangs from. Splitting off a left
// half moves it to the new parallel span, so the receiver, which keeps
// consuming as the right half, parents its next spans there. A consumer is
// owned by one goroutine at a time, so parent needs no locking.
type tracedConsumer[T any] struct {
	base    par.Consumer[T]
	tracer  *Tracer
	label   string
	side    Side
	parent  Ref
	pending *tracedReducer
}

func (c *tracedConsumer[T]) child(base par.Consumer[T], side Side, parent Ref) *tracedConsumer[T] {
	return &tracedConsumer[T]{
		base:   base,
		tracer: c.tracer,
		label:  c.label,
		side:   side,
		parent: parent,
	}
}

func (c *tracedConsumer[T]) SplitAt(index int) (par.Consumer[T], par.Consumer[T], par.Reducer) {
	left, right, reducer := c.base.SplitAt(index)

	branch, parallel := c.tracer.branchSpans(c.parent, c.side, SpanParallel, nil)
	parallel.SetIntTag(TagIndex, index)

	cell := parallel.Ref()
	return c.child(left, Left, cell),
		c.child(right, Right, cell),
		&tracedReducer{base: reducer, branch: branch, parallel: parallel}
}

func (c *tracedConsumer[T]) SplitOffLeft() par.UnindexedConsumer[T] {
	left := c.base.(par.UnindexedConsumer[T]).SplitOffLeft()

	branch, parallel := c.tracer.branchSpans(c.parent, c.side, SpanParallel, nil)
	c.parent = parallel.Ref()
	c.side = Right
	c.pending = &tracedReducer{branch: branch, parallel: parallel}

	return c.child(left, Left, c.parent)
}

// ToReducer hands out the reducer of the split made by the preceding
// SplitOffLeft.
func (c *tracedConsumer[T]) ToReducer() par.Reducer {
	base := c.base.(par.UnindexedConsumer[T]).ToReducer()
	r := c.pending
	c.pending = nil
	if r == nil {
		return base
	}
	r.base = base
	return r
}

func (c *tracedConsumer[T]) IntoFolder() par.Folder[T] {
	base := c.base.IntoFolder()
	branch, fold := c.tracer.branchSpans(c.parent, c.side, SpanFold, map[Tag]string{TagLabel: c.label})
	return &tracedFolder[T]{base: base, branch: branch, fold: fold}
}

func (c *tracedConsumer[T]) Full() bool {
	return c.base.Full()
}

// tracedFolder holds the branch and fold spans of one leaf open until the
// engine releases it.
type tracedFolder[T any] struct {
	base   par.Folder[T]
	branch *ActiveSpan
	fold   *ActiveSpan
}

func (f *tracedFolder[T]) Consume(item T) par.Folder[T] {
	f.base = f.base.Consume(item)
	return f
}

func (f *tracedFolder[T]) Full() bool {
	return f.base.Full()
}

func (f *tracedFolder[T]) Complete() par.Partial {
	return f.base.Complete()
}

// Scope makes the fold span the active span of the leaf, so a panic while
// folding is recorded on it.
func (f *tracedFolder[T]) Scope(ctx context.Context) context.Context {
	return f.fold.Context(par.Scope(ctx, f.base))
}

func (f *tracedFolder[T]) Release() {
	par.Release(f.base)
	f.fold.Finish()
	f.branch.Finish()
}

// tracedReducer closes the parallel span of one split when its halves are
// merged, and the branch span once the engine is done with the split.
type tracedReducer struct {
	base     par.Reducer
	branch   *ActiveSpan
	parallel *ActiveSpan
}

func (r *tracedReducer) Reduce(left, right par.Partial) par.Partial {
	r.parallel.Finish()
	return r.base.Reduce(left, right)
}

func (r *tracedReducer) Release() {
	r.parallel.Finish()
	r.branch.Finish()
	par.Release(r.base)
}
