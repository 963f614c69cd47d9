package splitz

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zoobzio/splitz/par"
)

// UnknownCause is recorded for panic values that carry no readable message.
const UnknownCause = "<cause unknown>"

// DefaultFrameSkip is the number of leading frames dropped from a recorded
// backtrace: the recorder's handler, the engine's abort, the engine's
// deferred recover and runtime.gopanic.
//
// Runtime errors such as an index out of range or a nil dereference enter
// gopanic through a runtime helper (runtime.goPanicIndex, runtime.panicmem),
// so their backtrace starts with that helper and the failing code follows.
const DefaultFrameSkip = 4

const maxFrames = 64

// Cause is the readable message of a panic value, if it has one.
type Cause struct {
	Text  string
	Known bool
}

// CauseOf classifies a recovered panic value. Strings and errors are known
// text; anything else is unknown.
func CauseOf(payload any) Cause {
	switch v := payload.(type) {
	case string:
		return Cause{Text: v, Known: true}
	case error:
		return Cause{Text: v.Error(), Known: true}
	default:
		return Cause{}
	}
}

// String returns the cause text, or UnknownCause.
func (c Cause) String() string {
	if !c.Known {
		return UnknownCause
	}
	return c.Text
}

// Frame is one entry of a Backtrace.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Backtrace is a captured call stack, innermost frame first.
type Backtrace []Frame

// String renders b the way Go prints goroutine stacks: one function per
// frame followed by its indented file and line.
func (b Backtrace) String() string {
	var sb strings.Builder
	for _, f := range b {
		sb.WriteString(f.Function)
		sb.WriteString("\n\t")
		sb.WriteString(f.File)
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(f.Line))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// captureFrames returns the stack of its caller, innermost first, without
// the first skip frames. Frame 0 is the caller of captureFrames.
func captureFrames(skip int) Backtrace {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var out Backtrace
	for {
		f, more := frames.Next()
		if skip > 0 {
			skip--
		} else {
			out = append(out, Frame{Function: f.Function, File: f.File, Line: f.Line})
		}
		if !more {
			return out
		}
	}
}

// PanicRecorder turns panics recovered by the engine into "panic" events on
// the span that was active where the panic happened.
type PanicRecorder struct {
	tracer   *Tracer
	skip     int
	recorded atomic.Int64
}

// NewPanicRecorder creates a recorder emitting on t.
func NewPanicRecorder(t *Tracer) *PanicRecorder {
	return &PanicRecorder{tracer: t, skip: DefaultFrameSkip}
}

// WithFrameSkip returns a recorder that drops n leading frames instead of
// DefaultFrameSkip.
func (r *PanicRecorder) WithFrameSkip(n int) *PanicRecorder {
	return &PanicRecorder{tracer: r.tracer, skip: max(n, 0)}
}

// Handler returns the function to register with par.WithPanicHandler.
// Frame counting starts at this function; registering the method value
// r.HandlePanic instead adds a wrapper frame.
func (r *PanicRecorder) Handler() par.PanicHandler {
	return func(ctx context.Context, payload any) {
		r.record(ctx, payload, captureFrames(r.skip))
	}
}

// HandlePanic records payload as if HandlePanic had been registered with the
// engine directly.
func (r *PanicRecorder) HandlePanic(ctx context.Context, payload any) {
	r.record(ctx, payload, captureFrames(r.skip))
}

// Recorded returns the number of panics recorded.
func (r *PanicRecorder) Recorded() int64 {
	return r.recorded.Load()
}

func (r *PanicRecorder) record(ctx context.Context, payload any, trace Backtrace) {
	defer func() {
		if rec := recover(); rec != nil {
			r.tracer.logger.Error("splitz: failed to record panic", zap.Any("panic", rec))
		}
	}()

	r.recorded.Add(1)
	r.tracer.Emit(ctx, Event{
		Level: zapcore.ErrorLevel,
		Name:  EventPanic,
		Fields: map[Tag]string{
			TagCause: CauseOf(payload).String(),
			TagTrace: trace.String(),
		},
	})
}

// InstallPanicHandler builds the global par pool with a PanicRecorder for t
// as its panic handler. opts configure the pool. It must run once, before any
// drive uses the global pool; a second call fails with an error wrapping
// par.ErrGlobalPoolInitialized.
func InstallPanicHandler(t *Tracer, opts ...par.Option) error {
	opts = slices.Concat(
		[]par.Option{par.WithLogger(t.Logger())},
		opts,
		[]par.Option{par.WithPanicHandler(NewPanicRecorder(t).Handler())},
	)
	if err := par.BuildGlobal(opts...); err != nil {
		return fmt.Errorf("splitz: install panic handler: %w", err)
	}
	return nil
}
