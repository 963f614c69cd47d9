package par

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testContext(t *testing.T, opts ...Option) context.Context {
	t.Helper()
	p := New(opts...)
	t.Cleanup(p.Close)
	return WithPool(context.Background(), p)
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func halve(r [2]int) ([2]int, [2]int, bool) {
	if r[1]-r[0] < 2 {
		return r, r, false
	}
	mid := r[0] + (r[1]-r[0])/2
	return [2]int{r[0], mid}, [2]int{mid, r[1]}, true
}

func TestCollectPreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := New(WithWorkers(4))
	defer p.Close()
	ctx := WithPool(context.Background(), p)
	items := seq(1000)

	assert.Equal(t, items, Collect[int](ctx, FromSlice(items)))
	assert.Equal(t, items, Collect[int](ctx, Range(0, 1000)))
}

func TestDriveIndexedMatchesUnindexed(t *testing.T) {
	ctx := testContext(t, WithWorkers(4))
	items := seq(257)

	indexed, _ := FromSlice(items).Drive(ctx, collectConsumer[int]{}).([]int)
	assert.Equal(t, items, indexed)
}

func TestEmptyInput(t *testing.T) {
	ctx := testContext(t, WithWorkers(2))

	assert.Empty(t, Collect[int](ctx, FromSlice([]int{})))
	assert.Equal(t, 0, Sum[int](ctx, Range(5, 5)))
	assert.Equal(t, 0, Count[int](ctx, Range(9, 3)))
}

func TestSplitYieldsLeavesInOrder(t *testing.T) {
	ctx := testContext(t, WithWorkers(4), WithSplits(64))

	pieces := Collect[[2]int](ctx, Split([2]int{0, 16}, halve))
	require.NotEmpty(t, pieces)

	next := 0
	for _, p := range pieces {
		assert.Equal(t, next, p[0], "pieces must be contiguous")
		next = p[1]
	}
	assert.Equal(t, 16, next)
}

func TestMapFilterSum(t *testing.T) {
	ctx := testContext(t, WithWorkers(3))
	items := seq(100)

	squares := Map[int, int](FromSlice(items), func(v int) int { return v * v })
	even := Filter[int](squares, func(v int) bool { return v%2 == 0 })

	want := 0
	for _, v := range items {
		if v*v%2 == 0 {
			want += v * v
		}
	}
	assert.Equal(t, want, Sum[int](ctx, even))

	n, known := even.Len()
	assert.False(t, known)
	assert.Zero(t, n)

	n, known = squares.Len()
	assert.True(t, known)
	assert.Equal(t, 100, n)
}

func TestMapIndexedStaysIndexed(t *testing.T) {
	ctx := testContext(t, WithWorkers(2))

	var it IndexedIterator[string] = MapIndexed[int, string](Range(0, 20), strconv.Itoa)
	got, _ := it.Drive(ctx, collectConsumer[string]{}).([]string)
	require.Len(t, got, 20)
	assert.Equal(t, "0", got[0])
	assert.Equal(t, "19", got[19])
}

func TestReduceIsLeftBeforeRight(t *testing.T) {
	ctx := testContext(t, WithWorkers(4))

	words := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	got := Reduce[string](ctx, FromSlice(words),
		func() string { return "" },
		func(a, b string) string { return a + b },
	)
	assert.Equal(t, "abcdefgh", got)
}

func TestForEachVisitsEveryItem(t *testing.T) {
	ctx := testContext(t, WithWorkers(4))

	var (
		mu   sync.Mutex
		seen = map[int]bool{}
	)
	ForEach[int](ctx, Range(0, 500), func(v int) {
		mu.Lock()
		seen[v] = true
		mu.Unlock()
	})
	assert.Len(t, seen, 500)
}

func TestAnyStopsEarly(t *testing.T) {
	ctx := testContext(t, WithWorkers(1), WithSplits(1))

	var visited atomic.Int64
	found := Any[int](ctx, Range(0, 10000), func(v int) bool {
		visited.Add(1)
		return v == 3
	})
	assert.True(t, found)
	assert.Less(t, visited.Load(), int64(10000))

	assert.False(t, Any[int](ctx, Range(0, 10), func(v int) bool { return v > 10 }))
}

// countingConsumer records how the engine splits and folds.
type countingConsumer struct {
	folds    *atomic.Int64
	reduces  *atomic.Int64
	released *atomic.Int64
}

func newCountingConsumer() countingConsumer {
	return countingConsumer{folds: new(atomic.Int64), reduces: new(atomic.Int64), released: new(atomic.Int64)}
}

func (c countingConsumer) SplitAt(int) (Consumer[int], Consumer[int], Reducer) {
	return c, c, c.ToReducer()
}

func (c countingConsumer) IntoFolder() Folder[int] {
	c.folds.Add(1)
	return &countingFolder{parent: c}
}

func (countingConsumer) Full() bool { return false }

func (c countingConsumer) SplitOffLeft() UnindexedConsumer[int] { return c }

func (c countingConsumer) ToReducer() Reducer {
	return &countingReducer{parent: c}
}

type countingFolder struct {
	parent countingConsumer
	sum    int
}

func (f *countingFolder) Consume(item int) Folder[int] {
	if item < 0 {
		panic("negative item")
	}
	f.sum += item
	return f
}

func (*countingFolder) Full() bool { return false }

func (f *countingFolder) Complete() Partial { return f.sum }

func (f *countingFolder) Release() { f.parent.released.Add(1) }

type scopeKey struct{}

func (f *countingFolder) Scope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, "leaf")
}

type countingReducer struct {
	parent countingConsumer
}

func (r *countingReducer) Reduce(left, right Partial) Partial {
	r.parent.reduces.Add(1)
	return left.(int) + right.(int)
}

func (r *countingReducer) Release() { r.parent.released.Add(1) }

func TestSplitBudget(t *testing.T) {
	ctx := testContext(t, WithWorkers(2), WithSplits(2))

	c := newCountingConsumer()
	got := FromSlice(seq(8)).Drive(ctx, c)

	assert.Equal(t, 28, got)
	assert.Equal(t, int64(4), c.folds.Load())
	assert.Equal(t, int64(3), c.reduces.Load())
	assert.Equal(t, int64(7), c.released.Load(), "every folder and reducer is released")
}

func TestMinLenStopsSplitting(t *testing.T) {
	ctx := testContext(t, WithWorkers(8), WithMinLen(4))

	c := newCountingConsumer()
	FromSlice(seq(8)).Drive(ctx, c)
	assert.Equal(t, int64(2), c.folds.Load())
}

func TestUnindexedBridgeSplitsOffLeft(t *testing.T) {
	ctx := testContext(t, WithWorkers(2), WithSplits(2))

	c := newCountingConsumer()
	got := Split([2]int{0, 8}, halve).DriveUnindexed(ctx, mapConsumerOf(c))

	assert.Equal(t, 8, got, "each piece contributes its width")
	assert.Equal(t, int64(4), c.folds.Load())
	assert.Equal(t, int64(3), c.reduces.Load())
}

func mapConsumerOf(c countingConsumer) UnindexedConsumer[[2]int] {
	return &mapConsumer[[2]int, int]{base: c, f: func(r [2]int) int { return r[1] - r[0] }}
}

func TestLeafPanicIsReportedWithLeafScope(t *testing.T) {
	var log panicLog
	ctx := testContext(t, WithWorkers(2), WithSplits(2), WithPanicHandler(log.handle))

	c := newCountingConsumer()
	items := []int{1, 2, 3, -1, 5, 6, 7, 8}
	pe := recoverPanicError(t, func() {
		FromSlice(items).Drive(ctx, c)
	})

	assert.Equal(t, "negative item", pe.Value)
	require.Equal(t, 1, log.len())
	assert.Equal(t, "leaf", log.ctxs[0].Value(scopeKey{}))

	// Every folder and reducer that was created got released.
	assert.Equal(t, c.folds.Load()+3, c.released.Load())
}

func TestMergePanicIsReportedOnce(t *testing.T) {
	// With two splits, 0..7 folds into leaves {0,1} {2,3} {4,5} {6,7}, merges
	// into 1+5 and 9+13, and finally into 6+22.
	tests := []struct {
		name        string
		left, right int
	}{
		{"final merge", 6, 22},
		{"nested merge", 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

			var log panicLog
			p := New(WithWorkers(2), WithSplits(2), WithPanicHandler(log.handle))
			defer p.Close()
			ctx := WithPool(context.Background(), p)

			pe := recoverPanicError(t, func() {
				Reduce[int](ctx, FromSlice(seq(8)),
					func() int { return 0 },
					func(a, b int) int {
						if a == tt.left && b == tt.right {
							panic("merge failed")
						}
						return a + b
					},
				)
			})

			assert.Equal(t, "merge failed", pe.Value)
			require.Equal(t, 1, log.len())
			assert.Equal(t, "merge failed", log.payloads[0])
		})
	}
}
