package binding

import (
	"context"
	"unsafe"

	"github.com/woxQAQ/exprbridge/internal/boundary"
	"github.com/woxQAQ/exprbridge/pkg/expr"
)

// NativeEngine drives the C ABI adapter in-process, the way a foreign caller
// of the shared library would: it writes the input as a C string it owns,
// calls the status variant and hands the result back to the adapter.
type NativeEngine struct {
	adapter *boundary.Adapter
	// input buffers are the caller's memory, never the adapter's heap
	callerHeap boundary.Heap
}

// NewNativeEngine creates an engine over expr.Parse. The adapter allocates
// from boundary.DefaultHeap.
func NewNativeEngine(opts ...boundary.Option) *NativeEngine {
	return NewNativeEngineWith(expr.Parse, opts...)
}

// NewNativeEngineWith creates an engine over an arbitrary parsing capability.
func NewNativeEngineWith(parse boundary.ParseFunc, opts ...boundary.Option) *NativeEngine {
	return &NativeEngine{
		adapter:    boundary.New(parse, opts...),
		callerHeap: boundary.NewPinnedHeap(),
	}
}

// Name implements Engine.
func (e *NativeEngine) Name() string {
	return "native"
}

// Evaluate implements Engine.
func (e *NativeEngine) Evaluate(ctx context.Context, input string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	in := boundary.CString(e.callerHeap, input)
	defer e.callerHeap.Free(in)

	out, status := e.adapter.ParseExpressionStatus(in)
	text := e.take(out)

	if status != boundary.StatusOK {
		return "", &ParseError{Input: input, Message: text}
	}
	return text, nil
}

// take copies the adapter's buffer and releases it.
func (e *NativeEngine) take(out unsafe.Pointer) string {
	defer e.adapter.Release(out)
	return boundary.GoString(out)
}

// Close implements Engine.
func (e *NativeEngine) Close(context.Context) error {
	return nil
}
