package par

import "context"

// splitter decides how far a drive keeps splitting. It is copied into each
// half, so both halves continue from the budget left after their split.
type splitter struct {
	splits int
	minLen int
}

func newSplitter(p *Pool) splitter {
	return splitter{splits: p.cfg.Splits, minLen: p.cfg.MinLen}
}

func (s *splitter) try() bool {
	if s.splits > 0 {
		s.splits /= 2
		return true
	}
	return false
}

func (s *splitter) tryLen(n int) bool {
	return n/2 >= s.minLen && s.try()
}

// BridgeProducer drives consumer with the items of producer, splitting both at
// the same indices and joining the halves on the context's pool.
func BridgeProducer[T any](ctx context.Context, producer Producer[T], consumer Consumer[T]) Partial {
	pool := PoolFrom(ctx)
	return pool.boundary(ctx, func(ctx context.Context) Partial {
		return bridgeProducer(ctx, pool, newSplitter(pool), producer, consumer)
	})
}

func bridgeProducer[T any](ctx context.Context, pool *Pool, s splitter, producer Producer[T], consumer Consumer[T]) Partial {
	if consumer.Full() {
		return foldLeaf[T](ctx, pool, consumer, nil)
	}

	n := producer.Len()
	if !s.tryLen(n) {
		return foldLeaf[T](ctx, pool, consumer, producer.FoldWith)
	}

	mid := n / 2
	lp, rp := producer.SplitAt(mid)
	lc, rc, reducer := consumer.SplitAt(mid)
	defer Release(reducer)

	l, r := pool.Join(ctx,
		func(ctx context.Context) Partial { return bridgeProducer(ctx, pool, s, lp, lc) },
		func(ctx context.Context) Partial { return bridgeProducer(ctx, pool, s, rp, rc) },
	)
	return reducer.Reduce(l, r)
}

// BridgeUnindexed drives consumer with the items of producer, splitting the
// consumer off on demand whenever the producer agrees to split.
func BridgeUnindexed[T any](ctx context.Context, producer UnindexedProducer[T], consumer UnindexedConsumer[T]) Partial {
	pool := PoolFrom(ctx)
	return pool.boundary(ctx, func(ctx context.Context) Partial {
		return bridgeUnindexed(ctx, pool, newSplitter(pool), producer, consumer)
	})
}

func bridgeUnindexed[T any](ctx context.Context, pool *Pool, s splitter, producer UnindexedProducer[T], consumer UnindexedConsumer[T]) Partial {
	if consumer.Full() {
		return foldLeaf[T](ctx, pool, consumer, nil)
	}
	if !s.try() {
		return foldLeaf[T](ctx, pool, consumer, producer.FoldWith)
	}
	left, right, ok := producer.Split()
	if !ok {
		return foldLeaf[T](ctx, pool, consumer, producer.FoldWith)
	}

	lc := consumer.SplitOffLeft()
	reducer := consumer.ToReducer()
	defer Release(reducer)

	l, r := pool.Join(ctx,
		func(ctx context.Context) Partial { return bridgeUnindexed(ctx, pool, s, left, lc) },
		func(ctx context.Context) Partial { return bridgeUnindexed(ctx, pool, s, right, consumer) },
	)
	return reducer.Reduce(l, r)
}

// foldLeaf turns consumer into a folder, feeds it through fold and completes
// it. The folder is released on every exit path; a panic is reported with the
// folder's scope before it is released and re-raised.
func foldLeaf[T any](ctx context.Context, pool *Pool, consumer Consumer[T], fold func(Folder[T]) Folder[T]) Partial {
	folder := consumer.IntoFolder()
	ctx = Scope(ctx, folder)
	defer func() {
		if r := recover(); r != nil {
			pe := pool.abort(ctx, r)
			Release(folder)
			panic(pe)
		}
		Release(folder)
	}()

	if fold != nil {
		folder = fold(folder)
	}
	return folder.Complete()
}
