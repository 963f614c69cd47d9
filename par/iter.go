package par

import "context"

// Partial is a partial result travelling between folders and reducers.
// The engine never inspects it.
type Partial = any

// Iterator is a parallel iterator over items of type T.
type Iterator[T any] interface {
	// DriveUnindexed feeds every item into consumer and returns its result.
	DriveUnindexed(ctx context.Context, consumer UnindexedConsumer[T]) Partial

	// Len reports the exact number of items when it is known up front.
	Len() (int, bool)
}

// IndexedIterator is an Iterator whose length is known and whose items can be
// split at any index.
type IndexedIterator[T any] interface {
	Iterator[T]

	// Drive feeds every item into consumer, splitting at indices.
	Drive(ctx context.Context, consumer Consumer[T]) Partial
}

// Consumer consumes one partition of items. It either splits itself in two,
// returning a Reducer for the halves' results, or becomes a Folder.
type Consumer[T any] interface {
	SplitAt(index int) (left, right Consumer[T], reducer Reducer)
	IntoFolder() Folder[T]
	Full() bool
}

// UnindexedConsumer is a Consumer that can also be split without an index.
//
// The engine calls SplitOffLeft and then ToReducer on the same consumer, drives
// the returned left consumer and the receiver itself as the right half, and
// merges both results with the reducer.
type UnindexedConsumer[T any] interface {
	Consumer[T]
	SplitOffLeft() UnindexedConsumer[T]
	ToReducer() Reducer
}

// Folder sequentially consumes the items of one partition.
type Folder[T any] interface {
	Consume(item T) Folder[T]
	Full() bool
	Complete() Partial
}

// Reducer merges the results of a left and a right partition, in that order.
type Reducer interface {
	Reduce(left, right Partial) Partial
}

// Releaser is implemented by folders and reducers that hold resources which
// must be released when the engine is done with them, whether the work
// finished or panicked. Release may be called more than once.
type Releaser interface {
	Release()
}

// Scoper is implemented by folders that attach values, such as an active
// trace span, to the context of the leaf they fold.
type Scoper interface {
	Scope(ctx context.Context) context.Context
}

// Release calls v.Release if v implements Releaser.
func Release(v any) {
	if r, ok := v.(Releaser); ok {
		r.Release()
	}
}

// Scope returns v.Scope(ctx) if v implements Scoper, or ctx otherwise.
func Scope(ctx context.Context, v any) context.Context {
	if s, ok := v.(Scoper); ok {
		return s.Scope(ctx)
	}
	return ctx
}

// ReduceFunc adapts a function to the Reducer interface.
type ReduceFunc func(left, right Partial) Partial

// Reduce calls f(left, right).
func (f ReduceFunc) Reduce(left, right Partial) Partial {
	return f(left, right)
}

// Producer is a splittable source of a known number of items.
type Producer[T any] interface {
	Len() int
	SplitAt(index int) (left, right Producer[T])
	FoldWith(folder Folder[T]) Folder[T]
}

// UnindexedProducer is a splittable source whose length is unknown.
type UnindexedProducer[T any] interface {
	Split() (left, right UnindexedProducer[T], ok bool)
	FoldWith(folder Folder[T]) Folder[T]
}
