package par

import (
	"context"
	"sync/atomic"
)

// Number is the set of types Sum accepts.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}

// Collect gathers every item of it into a slice, in iterator order.
func Collect[T any](ctx context.Context, it Iterator[T]) []T {
	out, _ := it.DriveUnindexed(ctx, collectConsumer[T]{}).([]T)
	return out
}

type collectConsumer[T any] struct{}

func (c collectConsumer[T]) SplitAt(int) (Consumer[T], Consumer[T], Reducer) {
	return c, c, ReduceFunc(concat[T])
}

func (collectConsumer[T]) IntoFolder() Folder[T] {
	return &collectFolder[T]{}
}

func (collectConsumer[T]) Full() bool {
	return false
}

func (c collectConsumer[T]) SplitOffLeft() UnindexedConsumer[T] {
	return c
}

func (collectConsumer[T]) ToReducer() Reducer {
	return ReduceFunc(concat[T])
}

func concat[T any](left, right Partial) Partial {
	l, _ := left.([]T)
	r, _ := right.([]T)
	return append(l, r...)
}

type collectFolder[T any] struct {
	items []T
}

func (f *collectFolder[T]) Consume(item T) Folder[T] {
	f.items = append(f.items, item)
	return f
}

func (*collectFolder[T]) Full() bool {
	return false
}

func (f *collectFolder[T]) Complete() Partial {
	return f.items
}

// Reduce folds every item of it with op, starting each partition from
// identity(). op must be associative; identity() must be its neutral element.
func Reduce[T any](ctx context.Context, it Iterator[T], identity func() T, op func(T, T) T) T {
	out, ok := it.DriveUnindexed(ctx, reduceConsumer[T]{identity: identity, op: op}).(T)
	if !ok {
		return identity()
	}
	return out
}

type reduceConsumer[T any] struct {
	identity func() T
	op       func(T, T) T
}

func (c reduceConsumer[T]) SplitAt(int) (Consumer[T], Consumer[T], Reducer) {
	return c, c, c.ToReducer()
}

func (c reduceConsumer[T]) IntoFolder() Folder[T] {
	return &reduceFolder[T]{acc: c.identity(), op: c.op}
}

func (reduceConsumer[T]) Full() bool {
	return false
}

func (c reduceConsumer[T]) SplitOffLeft() UnindexedConsumer[T] {
	return c
}

func (c reduceConsumer[T]) ToReducer() Reducer {
	return ReduceFunc(func(left, right Partial) Partial {
		return c.op(left.(T), right.(T))
	})
}

type reduceFolder[T any] struct {
	acc T
	op  func(T, T) T
}

func (f *reduceFolder[T]) Consume(item T) Folder[T] {
	f.acc = f.op(f.acc, item)
	return f
}

func (*reduceFolder[T]) Full() bool {
	return false
}

func (f *reduceFolder[T]) Complete() Partial {
	return f.acc
}

// Sum adds up every item of it.
func Sum[T Number](ctx context.Context, it Iterator[T]) T {
	return Reduce(ctx, it,
		func() T { return 0 },
		func(a, b T) T { return a + b },
	)
}

// Count returns the number of items of it.
func Count[T any](ctx context.Context, it Iterator[T]) int {
	return Sum[int](ctx, Map(it, func(T) int { return 1 }))
}

// ForEach calls fn for every item of it. Calls happen concurrently across
// partitions and in order within one.
func ForEach[T any](ctx context.Context, it Iterator[T], fn func(T)) {
	it.DriveUnindexed(ctx, forEachConsumer[T]{fn: fn})
}

type forEachConsumer[T any] struct {
	fn func(T)
}

func (c forEachConsumer[T]) SplitAt(int) (Consumer[T], Consumer[T], Reducer) {
	return c, c, ReduceFunc(noopReduce)
}

func (c forEachConsumer[T]) IntoFolder() Folder[T] {
	return c
}

func (forEachConsumer[T]) Full() bool {
	return false
}

func (c forEachConsumer[T]) SplitOffLeft() UnindexedConsumer[T] {
	return c
}

func (forEachConsumer[T]) ToReducer() Reducer {
	return ReduceFunc(noopReduce)
}

func (c forEachConsumer[T]) Consume(item T) Folder[T] {
	c.fn(item)
	return c
}

func (forEachConsumer[T]) Complete() Partial {
	return nil
}

func noopReduce(Partial, Partial) Partial {
	return nil
}

// Any reports whether keep is true for some item of it. Partitions stop
// consuming once a match has been found anywhere.
func Any[T any](ctx context.Context, it Iterator[T], keep func(T) bool) bool {
	found := new(atomic.Bool)
	it.DriveUnindexed(ctx, anyConsumer[T]{keep: keep, found: found})
	return found.Load()
}

type anyConsumer[T any] struct {
	keep  func(T) bool
	found *atomic.Bool
}

func (c anyConsumer[T]) SplitAt(int) (Consumer[T], Consumer[T], Reducer) {
	return c, c, ReduceFunc(noopReduce)
}

func (c anyConsumer[T]) IntoFolder() Folder[T] {
	return c
}

func (c anyConsumer[T]) Full() bool {
	return c.found.Load()
}

func (c anyConsumer[T]) SplitOffLeft() UnindexedConsumer[T] {
	return c
}

func (anyConsumer[T]) ToReducer() Reducer {
	return ReduceFunc(noopReduce)
}

func (c anyConsumer[T]) Consume(item T) Folder[T] {
	if c.keep(item) {
		c.found.Store(true)
	}
	return c
}

func (anyConsumer[T]) Complete() Partial {
	return nil
}
