package par

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// PanicHandler observes a panic recovered by the engine. ctx is the context of
// the work that panicked and carries whatever was active there (for example a
// trace span). The handler must not panic itself.
type PanicHandler func(ctx context.Context, payload any)

// PanicError wraps a recovered panic value together with the goroutine stack
// trace captured at the point of the panic. It is the value the engine
// re-raises at join points.
type PanicError struct {
	// Value is the original value passed to panic().
	Value any

	// Stack is the goroutine stack trace at the point of panic.
	Stack string
}

// Error returns the panic value followed by the stack trace.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", e.Value, e.Stack)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func newPanicError(v any) *PanicError {
	// runtime.Stack truncates if the buffer is too small.
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return &PanicError{
		Value: v,
		Stack: string(buf[:n]),
	}
}

// abort turns a recovered value into a *PanicError, reporting it to the panic
// handler unless an inner boundary already did.
// Must be called from the deferred function that recovered r.
func (p *Pool) abort(ctx context.Context, r any) *PanicError {
	if pe, ok := r.(*PanicError); ok {
		return pe
	}
	pe := newPanicError(r)
	if p.onPanic == nil {
		p.logger.Error("par: task panicked with no panic handler installed",
			zap.Any("panic", r), zap.String("stack", pe.Stack))
		return pe
	}
	p.onPanic(ctx, r)
	return pe
}
