// Command libexpr builds the expression parser as a C shared library:
//
//	go build -buildmode=c-shared -o libexpr.so ./cmd/libexpr
//
// Exported symbols (see the generated libexpr.h):
//
//	char* parse_expression(const char* input);
//	void  free_rust_string(char* s);
//	int   parse_expression_status(const char* input, char** out);
//
// Every non-null char* returned to the caller must be released with
// free_rust_string exactly once. Set EXPRBRIDGE_LOG_LEVEL to get log output
// on stderr; the library is silent otherwise.
package main

import "C"

import (
	"unsafe"

	"github.com/woxQAQ/exprbridge/internal/boundary"
	"github.com/woxQAQ/exprbridge/internal/config"
	"github.com/woxQAQ/exprbridge/internal/logging"
	"github.com/woxQAQ/exprbridge/pkg/expr"
	"go.uber.org/zap"
)

var adapter = newAdapter()

func newAdapter() *boundary.Adapter {
	logger := zap.NewNop()
	if level := config.LibraryLogLevel(); level != "" {
		if l, err := logging.New(level); err == nil {
			logger = l
		}
	}

	return boundary.New(expr.Parse,
		boundary.WithHeap(boundary.CHeap{}),
		boundary.WithLogger(logger),
	)
}

//export parse_expression
func parse_expression(input *C.char) *C.char {
	return (*C.char)(adapter.ParseExpression(unsafe.Pointer(input)))
}

//export free_rust_string
func free_rust_string(s *C.char) {
	adapter.Release(unsafe.Pointer(s))
}

//export parse_expression_status
func parse_expression_status(input *C.char, out **C.char) C.int {
	return C.int(adapter.ParseExpressionInto(unsafe.Pointer(input), (*unsafe.Pointer)(unsafe.Pointer(out))))
}

func main() {}
