package benchmarks

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zoobzio/splitz"
	"github.com/zoobzio/splitz/otelz"
	"github.com/zoobzio/splitz/par"
)

func benchContext(b *testing.B, opts ...par.Option) context.Context {
	b.Helper()
	p := par.New(opts...)
	b.Cleanup(p.Close)
	return par.WithPool(context.Background(), p)
}

func items(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// BenchmarkDrive compares a plain drive against a traced drive with and
// without handlers, across input sizes.
func BenchmarkDrive(b *testing.B) {
	for _, n := range []int{1 << 10, 1 << 16} {
		data := items(n)

		b.Run(fmt.Sprintf("plain/%d", n), func(b *testing.B) {
			ctx := benchContext(b)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				par.Sum[int](ctx, par.FromSlice(data))
			}
		})

		b.Run(fmt.Sprintf("traced-noop/%d", n), func(b *testing.B) {
			tracer := splitz.New()
			defer tracer.Close()
			ctx := benchContext(b)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				par.Sum[int](ctx, splitz.TraceIndexed[int](tracer, par.FromSlice(data), "sum"))
			}
		})

		b.Run(fmt.Sprintf("traced-collector/%d", n), func(b *testing.B) {
			tracer := splitz.New()
			defer tracer.Close()
			collector := splitz.NewCollector("bench", 1<<16)
			tracer.AddCollector("bench", collector)
			ctx := benchContext(b)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				par.Sum[int](ctx, splitz.TraceIndexed[int](tracer, par.FromSlice(data), "sum"))
				if i%64 == 0 {
					collector.Export()
				}
			}
		})
	}
}

// BenchmarkSpansPerDrive reports span throughput as the split budget grows.
func BenchmarkSpansPerDrive(b *testing.B) {
	data := items(1 << 14)
	for _, splits := range []int{1, 4, 16, 64} {
		b.Run(fmt.Sprintf("splits=%d", splits), func(b *testing.B) {
			tracer := splitz.New()
			defer tracer.Close()
			var spans atomic.Int64
			tracer.OnSpanComplete(func(splitz.Span) { spans.Add(1) })
			ctx := benchContext(b, par.WithWorkers(1), par.WithSplits(splits))

			b.ResetTimer()
			start := time.Now()
			for i := 0; i < b.N; i++ {
				par.Sum[int](ctx, splitz.TraceIndexed[int](tracer, par.FromSlice(data), "sum"))
			}
			elapsed := time.Since(start)

			b.ReportMetric(float64(spans.Load())/float64(b.N), "spans/drive")
			b.ReportMetric(float64(spans.Load())/elapsed.Seconds(), "spans/sec")
		})
	}
}

// BenchmarkOTelExport measures converting drive spans into OpenTelemetry
// snapshots.
func BenchmarkOTelExport(b *testing.B) {
	tracer := splitz.New()
	defer tracer.Close()
	mem := tracetest.NewInMemoryExporter()
	exp := otelz.New(mem, otelz.WithBatchSize(256))
	exp.Attach(tracer)
	ctx := benchContext(b, par.WithSplits(16))
	data := items(1 << 12)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		par.Sum[int](ctx, splitz.TraceIndexed[int](tracer, par.FromSlice(data), "sum"))
		if i%16 == 0 {
			mem.Reset()
		}
	}
	b.StopTimer()
	_ = exp.Flush(context.Background())
}

// BenchmarkPanicCapture measures the cost of recording a failing leaf.
func BenchmarkPanicCapture(b *testing.B) {
	tracer := splitz.New()
	defer tracer.Close()
	tracer.OnEvent(func(splitz.Event) {})
	rec := splitz.NewPanicRecorder(tracer)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec.HandlePanic(context.Background(), "boom")
	}
}
