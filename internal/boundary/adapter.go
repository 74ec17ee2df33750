// Package boundary implements the C-ABI side of the expression parser: it
// decodes caller-owned C strings, runs the parsing capability and hands the
// outcome back as a freshly allocated C string whose ownership moves to the
// caller.
//
// Ownership rules:
//   - the input buffer belongs to the caller and is never retained or freed;
//   - every buffer returned by ParseExpression or ParseExpressionStatus
//     belongs to the caller and must be passed to Release exactly once;
//   - Release frees through the same Heap that allocated the buffer.
//
// Failures of the parsing capability, panics included, are reported through
// the returned buffer. Running out of memory is not: a Heap that cannot
// allocate panics, and across an exported C entry point that aborts the
// process.
//
// An Adapter carries no mutable state, so one value may serve any number of
// concurrent callers.
package boundary

import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"
)

// ErrorPrefix marks a parse failure in the text returned by ParseExpression.
const ErrorPrefix = "Error: "

// ParseFunc is the parsing capability driven by the adapter.
type ParseFunc func(text string) (string, error)

// Status is the outcome reported by ParseExpressionStatus.
type Status int32

const (
	// StatusOK means the returned buffer holds the parse result.
	StatusOK Status = 0
	// StatusParseError means the returned buffer holds the error description.
	StatusParseError Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusParseError:
		return "parse_error"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Adapter bridges a ParseFunc to the C calling convention.
type Adapter struct {
	parse  ParseFunc
	heap   Heap
	logger *zap.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHeap sets the allocator used for returned buffers.
func WithHeap(h Heap) Option {
	return func(a *Adapter) {
		a.heap = h
	}
}

// WithLogger sets the adapter's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// New creates an adapter around parse. Without options it allocates from
// DefaultHeap and does not log.
func New(parse ParseFunc, opts ...Option) *Adapter {
	a := &Adapter{
		parse:  parse,
		heap:   DefaultHeap(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("component", "boundary"))
	return a
}

// Heap returns the allocator that backs returned buffers.
func (a *Adapter) Heap() Heap {
	return a.heap
}

// ParseExpression parses the C string at input and returns a new C string
// holding either the result or ErrorPrefix followed by the failure
// description. The result is never nil and never aliases input.
func (a *Adapter) ParseExpression(input unsafe.Pointer) unsafe.Pointer {
	result, err := a.evaluate(input)
	if err != nil {
		return CString(a.heap, ErrorPrefix+err.Error())
	}
	return CString(a.heap, result)
}

// ParseExpressionStatus is ParseExpression with an explicit outcome: on
// failure the returned buffer holds the bare description, without
// ErrorPrefix.
func (a *Adapter) ParseExpressionStatus(input unsafe.Pointer) (unsafe.Pointer, Status) {
	result, err := a.evaluate(input)
	if err != nil {
		return CString(a.heap, err.Error()), StatusParseError
	}
	return CString(a.heap, result), StatusOK
}

// ParseExpressionInto is ParseExpressionStatus for callers that pass an out
// parameter. The buffer is stored in *out; when out is nil it is released at
// once and only the status is reported.
func (a *Adapter) ParseExpressionInto(input unsafe.Pointer, out *unsafe.Pointer) Status {
	p, status := a.ParseExpressionStatus(input)
	if out == nil {
		a.Release(p)
		return status
	}
	*out = p
	return status
}

// Release frees a buffer returned by this adapter. A nil p is a no-op.
func (a *Adapter) Release(p unsafe.Pointer) {
	if p == nil {
		return
	}
	a.heap.Free(p)
}

func (a *Adapter) evaluate(input unsafe.Pointer) (result string, err error) {
	// A panic must not unwind into the foreign caller.
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Parser panicked", zap.Any("panic", r))
			result, err = "", fmt.Errorf("parser panic: %v", r)
		}
	}()

	result, err = a.parse(DecodeInput(input))
	if err != nil {
		a.logger.Debug("Parse failed", zap.Error(err))
	}
	return result, err
}
