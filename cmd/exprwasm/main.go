//go:build wasip1

// Command exprwasm builds the expression parser as a WASI reactor module:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o exprwasm.wasm ./cmd/exprwasm
//
// The module exports the same parse_expression / free_rust_string pair as the
// C shared library, plus malloc and free so the host can place input strings
// in linear memory. All pointers are 32-bit linear memory offsets.
package main

import (
	"time"
	"unsafe"

	"github.com/woxQAQ/exprbridge/internal/boundary"
	"github.com/woxQAQ/exprbridge/pkg/expr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	heap    = boundary.NewPinnedHeap()
	adapter = boundary.New(expr.Parse,
		boundary.WithHeap(heap),
		boundary.WithLogger(newHostLogger()),
	)
)

// logMessage is provided by the host; level 0 is debug.
//
//go:wasmimport host log_message
func logMessage(level, ptr, length uint32)

// hostWriter forwards encoded log entries to the host.
type hostWriter struct{}

func (hostWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		logMessage(0, addr(unsafe.Pointer(unsafe.SliceData(p))), uint32(len(p)))
	}
	return len(p), nil
}

func (hostWriter) Sync() error { return nil }

func newHostLogger() *zap.Logger {
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:     "msg",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})
	return zap.New(zapcore.NewCore(encoder, hostWriter{}, zapcore.DebugLevel)).Named("exprwasm")
}

func ptr(p uint32) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p))
}

func addr(p unsafe.Pointer) uint32 {
	return uint32(uintptr(p))
}

//go:wasmexport malloc
func malloc(size uint32) uint32 {
	return addr(heap.Alloc(int(size)))
}

//go:wasmexport free
func free(p uint32) {
	heap.Free(ptr(p))
}

//go:wasmexport parse_expression
func parseExpression(input uint32) uint32 {
	return addr(adapter.ParseExpression(ptr(input)))
}

// parseExpressionStatus stores the result offset at out, a 4-byte slot in
// linear memory. With out == 0 the result is released immediately.
//
//go:wasmexport parse_expression_status
func parseExpressionStatus(input, out uint32) int32 {
	if out == 0 {
		return int32(adapter.ParseExpressionInto(ptr(input), nil))
	}
	var p unsafe.Pointer
	status := adapter.ParseExpressionInto(ptr(input), &p)
	*(*uint32)(ptr(out)) = addr(p)
	return int32(status)
}

//go:wasmexport free_rust_string
func freeRustString(s uint32) {
	adapter.Release(ptr(s))
}

// timestamp returns the guest's wall clock in Unix nanoseconds.
//
//go:wasmexport timestamp
func timestamp() int64 {
	return time.Now().UnixNano()
}

func main() {}
