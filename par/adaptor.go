package par

import "context"

// MapIter is a parallel iterator applying a function to every item.
type MapIter[T, U any] struct {
	base Iterator[T]
	f    func(T) U
}

// Map returns an iterator yielding f(item) for every item of it.
func Map[T, U any](it Iterator[T], f func(T) U) *MapIter[T, U] {
	return &MapIter[T, U]{base: it, f: f}
}

// Len passes through the length of the underlying iterator.
func (m *MapIter[T, U]) Len() (int, bool) {
	return m.base.Len()
}

// DriveUnindexed drives the underlying iterator with a mapping consumer.
func (m *MapIter[T, U]) DriveUnindexed(ctx context.Context, consumer UnindexedConsumer[U]) Partial {
	return m.base.DriveUnindexed(ctx, &mapConsumer[T, U]{base: consumer, f: m.f})
}

// IndexedMapIter is a MapIter over an indexed iterator.
type IndexedMapIter[T, U any] struct {
	MapIter[T, U]
	indexed IndexedIterator[T]
}

// MapIndexed is Map for indexed iterators; the result stays indexed.
func MapIndexed[T, U any](it IndexedIterator[T], f func(T) U) *IndexedMapIter[T, U] {
	return &IndexedMapIter[T, U]{MapIter: MapIter[T, U]{base: it, f: f}, indexed: it}
}

// Drive drives the underlying iterator with a mapping consumer.
func (m *IndexedMapIter[T, U]) Drive(ctx context.Context, consumer Consumer[U]) Partial {
	return m.indexed.Drive(ctx, &mapConsumer[T, U]{base: consumer, f: m.f})
}

// mapConsumer wraps a consumer of U so it accepts T. base is an
// UnindexedConsumer whenever the unindexed methods are called.
type mapConsumer[T, U any] struct {
	base Consumer[U]
	f    func(T) U
}

func (c *mapConsumer[T, U]) SplitAt(index int) (Consumer[T], Consumer[T], Reducer) {
	l, r, reducer := c.base.SplitAt(index)
	return &mapConsumer[T, U]{base: l, f: c.f}, &mapConsumer[T, U]{base: r, f: c.f}, reducer
}

func (c *mapConsumer[T, U]) IntoFolder() Folder[T] {
	return &mapFolder[T, U]{base: c.base.IntoFolder(), f: c.f}
}

func (c *mapConsumer[T, U]) Full() bool {
	return c.base.Full()
}

func (c *mapConsumer[T, U]) SplitOffLeft() UnindexedConsumer[T] {
	left := c.base.(UnindexedConsumer[U]).SplitOffLeft()
	return &mapConsumer[T, U]{base: left, f: c.f}
}

func (c *mapConsumer[T, U]) ToReducer() Reducer {
	return c.base.(UnindexedConsumer[U]).ToReducer()
}

type mapFolder[T, U any] struct {
	base Folder[U]
	f    func(T) U
}

func (m *mapFolder[T, U]) Consume(item T) Folder[T] {
	m.base = m.base.Consume(m.f(item))
	return m
}

func (m *mapFolder[T, U]) Full() bool {
	return m.base.Full()
}

func (m *mapFolder[T, U]) Complete() Partial {
	return m.base.Complete()
}

func (m *mapFolder[T, U]) Release() {
	Release(m.base)
}

func (m *mapFolder[T, U]) Scope(ctx context.Context) context.Context {
	return Scope(ctx, m.base)
}

// FilterIter is a parallel iterator keeping only the items matching a
// predicate. Its length is unknown.
type FilterIter[T any] struct {
	base Iterator[T]
	keep func(T) bool
}

// Filter returns an iterator yielding the items of it for which keep is true.
func Filter[T any](it Iterator[T], keep func(T) bool) *FilterIter[T] {
	return &FilterIter[T]{base: it, keep: keep}
}

// Len reports that the number of kept items is unknown.
func (f *FilterIter[T]) Len() (int, bool) {
	return 0, false
}

// DriveUnindexed drives the underlying iterator with a filtering consumer.
func (f *FilterIter[T]) DriveUnindexed(ctx context.Context, consumer UnindexedConsumer[T]) Partial {
	return f.base.DriveUnindexed(ctx, &filterConsumer[T]{base: consumer, keep: f.keep})
}

type filterConsumer[T any] struct {
	base Consumer[T]
	keep func(T) bool
}

func (c *filterConsumer[T]) SplitAt(index int) (Consumer[T], Consumer[T], Reducer) {
	l, r, reducer := c.base.SplitAt(index)
	return &filterConsumer[T]{base: l, keep: c.keep}, &filterConsumer[T]{base: r, keep: c.keep}, reducer
}

func (c *filterConsumer[T]) IntoFolder() Folder[T] {
	return &filterFolder[T]{base: c.base.IntoFolder(), keep: c.keep}
}

func (c *filterConsumer[T]) Full() bool {
	return c.base.Full()
}

func (c *filterConsumer[T]) SplitOffLeft() UnindexedConsumer[T] {
	left := c.base.(UnindexedConsumer[T]).SplitOffLeft()
	return &filterConsumer[T]{base: left, keep: c.keep}
}

func (c *filterConsumer[T]) ToReducer() Reducer {
	return c.base.(UnindexedConsumer[T]).ToReducer()
}

type filterFolder[T any] struct {
	base Folder[T]
	keep func(T) bool
}

func (f *filterFolder[T]) Consume(item T) Folder[T] {
	if f.keep(item) {
		f.base = f.base.Consume(item)
	}
	return f
}

func (f *filterFolder[T]) Full() bool {
	return f.base.Full()
}

func (f *filterFolder[T]) Complete() Partial {
	return f.base.Complete()
}

func (f *filterFolder[T]) Release() {
	Release(f.base)
}

func (f *filterFolder[T]) Scope(ctx context.Context) context.Context {
	return Scope(ctx, f.base)
}
