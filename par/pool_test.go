package par

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type panicLog struct {
	mu       sync.Mutex
	payloads []any
	ctxs     []context.Context
}

func (l *panicLog) handle(ctx context.Context, payload any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payloads = append(l.payloads, payload)
	l.ctxs = append(l.ctxs, ctx)
}

func (l *panicLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.payloads)
}

func recoverPanicError(t *testing.T, fn func()) (pe *PanicError) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		var ok bool
		pe, ok = r.(*PanicError)
		require.True(t, ok, "expected *PanicError, got %T", r)
	}()
	fn()
	return nil
}

func TestJoinReturnsBothResults(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := New(WithWorkers(2))
	defer p.Close()

	l, r := p.Join(context.Background(),
		func(context.Context) Partial { return "left" },
		func(context.Context) Partial { return "right" },
	)
	assert.Equal(t, "left", l)
	assert.Equal(t, "right", r)
}

func TestJoinRunsInlineOnClosedPool(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := New(WithWorkers(1))
	p.Close()

	var ran atomic.Int32
	l, r := p.Join(context.Background(),
		func(context.Context) Partial { ran.Add(1); return 1 },
		func(context.Context) Partial { ran.Add(1); return 2 },
	)
	assert.Equal(t, 1, l)
	assert.Equal(t, 2, r)
	assert.Equal(t, int32(2), ran.Load())

	stats := p.Stats()
	assert.Equal(t, int64(0), stats.Offered)
	assert.Equal(t, int64(1), stats.Inlined)
}

func TestJoinPassesContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := New(WithWorkers(2))
	defer p.Close()

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	l, r := p.Join(ctx,
		func(ctx context.Context) Partial { return ctx.Value(key{}) },
		func(ctx context.Context) Partial { return ctx.Value(key{}) },
	)
	assert.Equal(t, "v", l)
	assert.Equal(t, "v", r)
}

func TestJoinReraisesPanic(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var log panicLog
	p := New(WithWorkers(2), WithPanicHandler(log.handle))
	defer p.Close()

	var leftDone atomic.Bool
	pe := recoverPanicError(t, func() {
		p.Join(context.Background(),
			func(context.Context) Partial { leftDone.Store(true); return nil },
			func(context.Context) Partial { panic("boom") },
		)
	})

	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.True(t, leftDone.Load(), "left half must finish before the panic surfaces")
	require.Equal(t, 1, log.len())
	assert.Equal(t, "boom", log.payloads[0])
}

func TestNestedPanicIsReportedOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var log panicLog
	p := New(WithWorkers(4), WithPanicHandler(log.handle))
	defer p.Close()

	pe := recoverPanicError(t, func() {
		p.Join(context.Background(),
			func(ctx context.Context) Partial {
				p.Join(ctx,
					func(context.Context) Partial { return nil },
					func(context.Context) Partial { panic(42) },
				)
				return nil
			},
			func(context.Context) Partial { return nil },
		)
	})

	assert.Equal(t, 42, pe.Value)
	assert.Equal(t, 1, log.len())
}

func TestPanicErrorUnwrap(t *testing.T) {
	err := assert.AnError
	pe := &PanicError{Value: err, Stack: "stack"}
	assert.ErrorIs(t, pe, assert.AnError)
	assert.Contains(t, pe.Error(), "panic: ")
	assert.Contains(t, pe.Error(), "stack")

	assert.NoError(t, (&PanicError{Value: "text"}).Unwrap())
}

func TestSpawnPanicGoesToHandler(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	got := make(chan any, 1)
	p := New(WithWorkers(1), WithPanicHandler(func(_ context.Context, payload any) {
		got <- payload
	}))
	defer p.Close()

	require.NoError(t, p.Spawn(context.Background(), func(context.Context) {
		panic("boom")
	}))

	select {
	case payload := <-got:
		assert.Equal(t, "boom", payload)
	case <-time.After(time.Second):
		t.Fatal("panic handler was not called")
	}
	assert.Equal(t, int64(1), p.Stats().Spawned)
}

func TestSpawnWithoutHandlerLogs(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	core, logs := observer.New(zapcore.ErrorLevel)
	p := New(WithWorkers(1), WithLogger(zap.New(core)))

	require.NoError(t, p.Spawn(context.Background(), func(context.Context) {
		panic("unobserved")
	}))
	p.Close()

	entries := logs.FilterMessage("par: task panicked with no panic handler installed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "unobserved", entries[0].ContextMap()["panic"])
	assert.Equal(t, int64(1), p.Stats().Panicked)
}

func TestSpawnAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := New(WithWorkers(1))
	p.Close()
	p.Close()

	err := p.Spawn(context.Background(), func(context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.False(t, p.TrySpawn(context.Background(), func(context.Context) {}))
}

func TestSpawnRespectsContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := New(WithWorkers(1), WithQueueSize(1))
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Spawn(context.Background(), func(context.Context) {
		close(started)
		<-block
	}))
	<-started
	require.True(t, p.TrySpawn(context.Background(), func(context.Context) {}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Spawn(ctx, func(context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
}

func TestCloseReleasesBlockedSpawn(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := New(WithWorkers(1), WithQueueSize(1))

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Spawn(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
		p.Join(ctx,
			func(context.Context) Partial { return 1 },
			func(context.Context) Partial { return 2 },
		)
	}))
	<-started
	require.NoError(t, p.Spawn(context.Background(), func(context.Context) {}))

	blocked := make(chan error, 1)
	go func() {
		blocked <- p.Spawn(context.Background(), func(context.Context) {})
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Spawn blocked on a full queue did not return after Close")
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestNewPanicsOnInvalidConfig(t *testing.T) {
	assert.Panics(t, func() { New(WithWorkers(-1)) })
}

func TestPoolFromFallsBackToContextPool(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := New(WithWorkers(1))
	defer p.Close()

	assert.Same(t, p, PoolFrom(WithPool(context.Background(), p)))
}

func TestBuildGlobalTwice(t *testing.T) {
	require.NoError(t, BuildGlobal(WithWorkers(2)))

	err := BuildGlobal(WithWorkers(2))
	require.ErrorIs(t, err, ErrGlobalPoolInitialized)

	g := Global()
	assert.Equal(t, 2, g.Workers())
	assert.Same(t, g, PoolFrom(context.Background()))
}
