package par

import "context"

// SliceIter is an indexed parallel iterator over the elements of a slice.
type SliceIter[T any] struct {
	items []T
}

// FromSlice returns an indexed parallel iterator over items.
// The slice is read, never modified.
func FromSlice[T any](items []T) *SliceIter[T] {
	return &SliceIter[T]{items: items}
}

// Len returns the number of elements.
func (s *SliceIter[T]) Len() (int, bool) {
	return len(s.items), true
}

// Drive feeds the elements into consumer in index order per leaf.
func (s *SliceIter[T]) Drive(ctx context.Context, consumer Consumer[T]) Partial {
	return BridgeProducer[T](ctx, sliceProducer[T](s.items), consumer)
}

// DriveUnindexed feeds the elements into consumer, splitting at indices.
func (s *SliceIter[T]) DriveUnindexed(ctx context.Context, consumer UnindexedConsumer[T]) Partial {
	return BridgeProducer[T](ctx, sliceProducer[T](s.items), consumer)
}

type sliceProducer[T any] []T

func (p sliceProducer[T]) Len() int {
	return len(p)
}

func (p sliceProducer[T]) SplitAt(index int) (Producer[T], Producer[T]) {
	return p[:index], p[index:]
}

func (p sliceProducer[T]) FoldWith(folder Folder[T]) Folder[T] {
	for _, item := range p {
		if folder.Full() {
			break
		}
		folder = folder.Consume(item)
	}
	return folder
}

// RangeIter is an indexed parallel iterator over the integers [start, end).
type RangeIter struct {
	start, end int
}

// Range returns an indexed parallel iterator over [start, end).
// An empty or inverted range yields no items.
func Range(start, end int) *RangeIter {
	if end < start {
		end = start
	}
	return &RangeIter{start: start, end: end}
}

// Len returns the number of integers in the range.
func (r *RangeIter) Len() (int, bool) {
	return r.end - r.start, true
}

// Drive feeds the integers into consumer.
func (r *RangeIter) Drive(ctx context.Context, consumer Consumer[int]) Partial {
	return BridgeProducer[int](ctx, rangeProducer{r.start, r.end}, consumer)
}

// DriveUnindexed feeds the integers into consumer, splitting at indices.
func (r *RangeIter) DriveUnindexed(ctx context.Context, consumer UnindexedConsumer[int]) Partial {
	return BridgeProducer[int](ctx, rangeProducer{r.start, r.end}, consumer)
}

type rangeProducer struct {
	start, end int
}

func (p rangeProducer) Len() int {
	return p.end - p.start
}

func (p rangeProducer) SplitAt(index int) (Producer[int], Producer[int]) {
	mid := p.start + index
	return rangeProducer{p.start, mid}, rangeProducer{mid, p.end}
}

func (p rangeProducer) FoldWith(folder Folder[int]) Folder[int] {
	for i := p.start; i < p.end; i++ {
		if folder.Full() {
			break
		}
		folder = folder.Consume(i)
	}
	return folder
}

// SplitIter is an unindexed parallel iterator produced by [Split].
type SplitIter[T any] struct {
	data  T
	split func(T) (T, T, bool)
}

// Split returns an unindexed parallel iterator that divides data with split
// for as long as the engine asks for more parallelism and split agrees. Every
// piece left undivided is yielded as one item, in left-to-right order.
func Split[T any](data T, split func(T) (left, right T, ok bool)) *SplitIter[T] {
	return &SplitIter[T]{data: data, split: split}
}

// Len reports that the number of pieces is unknown.
func (s *SplitIter[T]) Len() (int, bool) {
	return 0, false
}

// DriveUnindexed feeds the pieces into consumer.
func (s *SplitIter[T]) DriveUnindexed(ctx context.Context, consumer UnindexedConsumer[T]) Partial {
	return BridgeUnindexed[T](ctx, splitProducer[T]{data: s.data, split: s.split}, consumer)
}

type splitProducer[T any] struct {
	data  T
	split func(T) (T, T, bool)
}

func (p splitProducer[T]) Split() (UnindexedProducer[T], UnindexedProducer[T], bool) {
	left, right, ok := p.split(p.data)
	if !ok {
		return nil, nil, false
	}
	return splitProducer[T]{left, p.split}, splitProducer[T]{right, p.split}, true
}

func (p splitProducer[T]) FoldWith(folder Folder[T]) Folder[T] {
	if folder.Full() {
		return folder
	}
	return folder.Consume(p.data)
}
