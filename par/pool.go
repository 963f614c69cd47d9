package par

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrPoolClosed is returned by [Pool.Spawn] when the pool has been closed.
	ErrPoolClosed = errors.New("par: pool is closed")

	// ErrGlobalPoolInitialized is returned by [BuildGlobal] when the global
	// pool already exists.
	ErrGlobalPoolInitialized = errors.New("par: global pool already initialized")
)

// Pool runs join halves and spawned tasks on a fixed number of worker
// goroutines fed by a bounded queue.
type Pool struct {
	jobs    chan *job
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool

	// closing is closed as soon as Close starts, before it takes closeMu,
	// so that Spawn calls blocked on a full queue let go of their read lock.
	closing   chan struct{}
	closeOnce sync.Once

	cfg     Config
	onPanic PanicHandler
	logger  *zap.Logger

	// Observability counters.
	offered  atomic.Int64
	stolen   atomic.Int64
	inlined  atomic.Int64
	spawned  atomic.Int64
	panicked atomic.Int64
}

// PoolStats provides a point-in-time snapshot of pool activity.
type PoolStats struct {
	Offered    int64 // join halves handed to the queue
	Stolen     int64 // join halves executed by a worker
	Inlined    int64 // right join halves run by the joining goroutine
	Spawned    int64 // tasks started with Spawn or TrySpawn
	Panicked   int64 // panics recovered by workers
	QueueDepth int   // jobs waiting in the queue
	Workers    int   // worker count (fixed at creation)
}

// Option configures a [Pool].
type Option func(*options)

type options struct {
	cfg     Config
	onPanic PanicHandler
	logger  *zap.Logger
}

// WithConfig replaces the whole configuration. Options applied after it still
// override single fields.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.cfg.Workers = n
	}
}

// WithQueueSize sets the job queue buffer size.
func WithQueueSize(size int) Option {
	return func(o *options) {
		o.cfg.QueueSize = size
	}
}

// WithSplits sets how many times a drive may split its input, halved at every
// level of recursion. Zero means one split per worker.
func WithSplits(n int) Option {
	return func(o *options) {
		o.cfg.Splits = n
	}
}

// WithMinLen sets the minimum number of items a split half may hold.
func WithMinLen(n int) Option {
	return func(o *options) {
		o.cfg.MinLen = n
	}
}

// WithPanicHandler installs the handler invoked for every recovered panic.
func WithPanicHandler(h PanicHandler) Option {
	return func(o *options) {
		o.onPanic = h
	}
}

// WithLogger sets the logger used for pool diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a pool and starts its workers.
// Panics if the resulting configuration is invalid.
func New(opts ...Option) *Pool {
	o := options{cfg: DefaultConfig(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	p := &Pool{
		jobs:    make(chan *job, cfg.QueueSize),
		closing: make(chan struct{}),
		cfg:     cfg,
		onPanic: o.onPanic,
		logger:  o.logger,
	}

	p.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go p.worker()
	}
	return p
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.cfg.Workers
}

// Config returns the configuration the pool was built with.
func (p *Pool) Config() Config {
	return p.cfg
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		if !j.claim() {
			continue
		}
		if !j.spawned {
			p.stolen.Add(1)
		}
		j.run(p)
	}
}

// offer queues j without blocking. It reports false when the queue is full
// or the pool is closed.
func (p *Pool) offer(j *job) bool {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- j:
		return true
	default:
		return false
	}
}

// Join runs left and right, potentially in parallel, and returns both results.
//
// left runs on the calling goroutine. right is offered to the workers; if no
// worker has picked it up by the time left returns, the caller runs it too.
// If either half panics, Join waits for the other half and re-raises the
// first panic as a *PanicError.
func (p *Pool) Join(ctx context.Context, left, right func(context.Context) Partial) (Partial, Partial) {
	j := &job{ctx: ctx, fn: right, done: make(chan struct{})}
	if p.offer(j) {
		p.offered.Add(1)
	}

	l, lp := p.call(ctx, left)

	var (
		r  Partial
		rp *PanicError
	)
	if j.claim() {
		p.inlined.Add(1)
		r, rp = p.call(ctx, right)
	} else {
		<-j.done
		r, rp = j.result, j.panic
	}

	if lp != nil {
		panic(lp)
	}
	if rp != nil {
		panic(rp)
	}
	return l, r
}

// call runs fn, recovering a panic into a *PanicError.
func (p *Pool) call(ctx context.Context, fn func(context.Context) Partial) (result Partial, pe *PanicError) {
	defer func() {
		if r := recover(); r != nil {
			pe = p.abort(ctx, r)
		}
	}()
	return fn(ctx), nil
}

// boundary runs the top of a drive. A panic outside any join half, such as
// one in the final merge, is reported like any other and re-raised as a
// *PanicError.
func (p *Pool) boundary(ctx context.Context, fn func(context.Context) Partial) Partial {
	result, pe := p.call(ctx, fn)
	if pe != nil {
		panic(pe)
	}
	return result
}

// Spawn queues fn to run on a worker, blocking while the queue is full.
// A panic in fn is reported to the panic handler and goes no further.
// Returns [ErrPoolClosed] if the pool is closed or starts closing while
// waiting for queue space, or ctx.Err() if ctx is cancelled first.
func (p *Pool) Spawn(ctx context.Context, fn func(context.Context)) error {
	j := p.spawnJob(ctx, fn)

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case <-p.closing:
		return ErrPoolClosed
	default:
	}
	select {
	case p.jobs <- j:
		p.spawned.Add(1)
		return nil
	case <-p.closing:
		return ErrPoolClosed
	case <-ctx.Done():
		return fmt.Errorf("par: spawn: %w", ctx.Err())
	}
}

// TrySpawn is the non-blocking form of Spawn. It reports false when the
// queue is full or the pool is closed.
func (p *Pool) TrySpawn(ctx context.Context, fn func(context.Context)) bool {
	if !p.offer(p.spawnJob(ctx, fn)) {
		return false
	}
	p.spawned.Add(1)
	return true
}

func (p *Pool) spawnJob(ctx context.Context, fn func(context.Context)) *job {
	return &job{
		ctx:     ctx,
		fn:      func(ctx context.Context) Partial { fn(ctx); return nil },
		done:    make(chan struct{}),
		spawned: true,
	}
}

// Stats returns a point-in-time snapshot of pool activity.
// Safe to call concurrently.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Offered:    p.offered.Load(),
		Stolen:     p.stolen.Load(),
		Inlined:    p.inlined.Load(),
		Spawned:    p.spawned.Load(),
		Panicked:   p.panicked.Load(),
		QueueDepth: len(p.jobs),
		Workers:    p.cfg.Workers,
	}
}

// Close stops accepting work, lets the workers drain the queue and waits for
// them to exit. Safe to call multiple times.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.closing) })

	p.closeMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.closeMu.Unlock()
	p.wg.Wait()
}

const (
	jobPending int32 = iota
	jobClaimed
)

// job is one unit of queued work. Exactly one goroutine claims it.
type job struct {
	ctx     context.Context
	fn      func(context.Context) Partial
	done    chan struct{}
	result  Partial
	panic   *PanicError
	state   atomic.Int32
	spawned bool
}

func (j *job) claim() bool {
	return j.state.CompareAndSwap(jobPending, jobClaimed)
}

func (j *job) run(p *Pool) {
	defer close(j.done)
	j.result, j.panic = p.call(j.ctx, j.fn)
	if j.panic != nil {
		p.panicked.Add(1)
	}
}

var global struct {
	mu   sync.Mutex
	pool *Pool
}

// BuildGlobal creates the process-wide pool. It must run before anything
// uses [Global]; a second call returns [ErrGlobalPoolInitialized].
func BuildGlobal(opts ...Option) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.pool != nil {
		return ErrGlobalPoolInitialized
	}
	global.pool = New(opts...)
	return nil
}

// Global returns the process-wide pool, building a default one on first use.
func Global() *Pool {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.pool == nil {
		global.pool = New()
	}
	return global.pool
}

type poolKey struct{}

// WithPool returns a context whose drives run on p.
func WithPool(ctx context.Context, p *Pool) context.Context {
	return context.WithValue(ctx, poolKey{}, p)
}

// PoolFrom returns the pool carried by ctx, or [Global] if there is none.
func PoolFrom(ctx context.Context) *Pool {
	if p, ok := ctx.Value(poolKey{}).(*Pool); ok && p != nil {
		return p
	}
	return Global()
}
