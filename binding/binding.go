// Package binding evaluates arithmetic expressions through the parser's
// foreign-function boundary.
//
// Two engines speak that boundary: NativeEngine drives the in-process C ABI
// adapter, and WasmEngine drives a guest module compiled for wasip1 through a
// pool of wazero instances. Package-level functions use a native Client.
package binding

//go:generate env GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o testdata/guest/exprwasm.wasm ../cmd/exprwasm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/woxQAQ/exprbridge/internal/config"
	"go.uber.org/zap"
)

// Expression is an evaluated input.
type Expression struct {
	// Raw is the input text.
	Raw string
	// Result is the evaluated value.
	Result string
}

// ParseError reports an input the parser rejected.
type ParseError struct {
	Input   string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", e.Message)
}

var (
	defaultClient = sync.OnceValue(func() *Client {
		return NewClient(NewNativeEngine())
	})

	defaultWasm = &lazyClient{load: loadDefaultWasmClient}
)

// Parse evaluates input with the default client.
func Parse(ctx context.Context, input string) (*Expression, error) {
	return defaultClient().Parse(ctx, input)
}

// MustParse is like Parse but panics if the expression cannot be evaluated.
func MustParse(input string) *Expression {
	return defaultClient().MustParse(input)
}

// ParseConcurrent evaluates inputs with the default client.
func ParseConcurrent(ctx context.Context, inputs []string) ([]*Expression, error) {
	return defaultClient().ParseConcurrent(ctx, inputs)
}

// GetWasmTimestamp returns the wall clock as seen from inside the guest.
// The guest is loaded on first use, from the directory configured by
// EXPRBRIDGE_WASM_GUEST_DIR (default ./guest). A failed load is retried on
// the next call.
func GetWasmTimestamp(ctx context.Context) (time.Time, error) {
	client, err := defaultWasm.get(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return client.Timestamp(ctx)
}

func loadDefaultWasmClient() (*Client, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	// The engine outlives the call that created it.
	engine, err := NewWasmEngine(context.Background(), WasmConfigFrom(cfg.Wasm), zap.NewNop())
	if err != nil {
		return nil, err
	}
	return NewClient(engine), nil
}

// lazyClient builds a Client on first successful use.
type lazyClient struct {
	load func() (*Client, error)

	mu     sync.Mutex
	client *Client
}

func (l *lazyClient) get(ctx context.Context) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client != nil {
		return l.client, nil
	}
	client, err := l.load()
	if err != nil {
		return nil, err
	}
	l.client = client
	return client, nil
}
