// Package par provides a small divide-and-conquer parallel iterator engine.
//
// Work is expressed as a parallel [Iterator] driven by a [Consumer]. The engine
// recursively splits the input, runs the two halves with [Pool.Join], folds each
// leaf sequentially with a [Folder] and merges the partial results back with a
// [Reducer]:
//
//	pool := par.New(par.WithWorkers(4))
//	defer pool.Close()
//
//	ctx := par.WithPool(context.Background(), pool)
//	total := par.Sum(ctx, par.Map(par.FromSlice(values), square))
//
// # Consumers
//
// Consumers come in two flavours. A [Consumer] is split at an index chosen by the
// engine and is used with producers whose length is known. An [UnindexedConsumer]
// can additionally split off a left half on demand, which is how producers of
// unknown length (see [Split]) are driven. Partial results travel through the
// engine as opaque [Partial] values.
//
// Folders and reducers may implement [Releaser]; the engine calls Release on every
// exit path, including panics, once it is done with them. Folders may implement
// [Scoper] to attach values to the context used while their leaf runs.
//
// # Panics
//
// A panic inside a leaf fold, a join half or a spawned task is recovered at the
// innermost engine boundary, reported once to the pool's [PanicHandler] and then
// re-raised at the join point as a [*PanicError]. Panics in tasks started with
// [Pool.Spawn] have no join point and are only reported.
//
// # Global pool
//
// [Global] returns the process-wide pool used when a context carries none. It is
// built lazily with defaults unless [BuildGlobal] ran first; building it twice
// returns [ErrGlobalPoolInitialized].
package par
