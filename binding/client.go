package binding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/woxQAQ/exprbridge/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency bounds the workers of ParseConcurrent.
const DefaultMaxConcurrency = 8

// ErrNoClock is returned by Timestamp when the engine has no guest clock.
var ErrNoClock = errors.New("engine does not expose a clock")

// Engine evaluates one expression across the boundary. Parse failures are
// reported as *ParseError; any other error means the engine itself failed.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, input string) (string, error)
	Close(ctx context.Context) error
}

// Clock is implemented by engines that can read the guest's wall clock.
type Clock interface {
	Timestamp(ctx context.Context) (time.Time, error)
}

// Client evaluates expressions with an Engine. It is safe for concurrent use
// when its engine is.
type Client struct {
	engine         Engine
	maxConcurrency int
	logger         *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxConcurrency bounds the workers used by ParseConcurrent.
func WithMaxConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client around engine.
func NewClient(engine Engine, opts ...ClientOption) *Client {
	c := &Client{
		engine:         engine,
		maxConcurrency: DefaultMaxConcurrency,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "binding"), zap.String("engine", engine.Name()))
	return c
}

// Engine returns the client's engine.
func (c *Client) Engine() Engine {
	return c.engine
}

// Parse evaluates input. A context that is already done is reported as its
// own error. Inputs containing a NUL byte are rejected: the boundary would
// silently truncate them.
func (c *Client) Parse(ctx context.Context, input string) (*Expression, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.IndexByte(input, 0) >= 0 {
		metrics.RecordParse(c.engine.Name(), metrics.OutcomeParseError, 0)
		return nil, &ParseError{Input: input, Message: "input contains a NUL byte"}
	}

	start := time.Now()
	result, err := c.engine.Evaluate(ctx, input)
	duration := time.Since(start)

	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			metrics.RecordParse(c.engine.Name(), metrics.OutcomeParseError, duration)
			c.logger.Debug("Expression rejected", zap.String("input", input), zap.String("reason", perr.Message))
			return nil, err
		}
		metrics.RecordParse(c.engine.Name(), metrics.OutcomeError, duration)
		c.logger.Warn("Engine failed", zap.String("input", input), zap.Error(err))
		return nil, err
	}

	metrics.RecordParse(c.engine.Name(), metrics.OutcomeOK, duration)
	return &Expression{Raw: input, Result: result}, nil
}

// MustParse is like Parse but panics if the expression cannot be evaluated.
func (c *Client) MustParse(input string) *Expression {
	expr, err := c.Parse(context.Background(), input)
	if err != nil {
		panic(fmt.Sprintf("binding: MustParse(%q): %v", input, err))
	}
	return expr
}

// ParseConcurrent evaluates inputs in parallel. Results are aligned with
// inputs; the slot of a failed input is nil and the first error is returned.
// A failure does not stop the remaining inputs.
func (c *Client) ParseConcurrent(ctx context.Context, inputs []string) ([]*Expression, error) {
	results := make([]*Expression, len(inputs))

	var g errgroup.Group
	g.SetLimit(c.maxConcurrency)
	for i, input := range inputs {
		g.Go(func() error {
			expr, err := c.Parse(ctx, input)
			if err != nil {
				return err
			}
			results[i] = expr
			return nil
		})
	}

	return results, g.Wait()
}

// Timestamp reads the guest's wall clock, when the engine has one.
func (c *Client) Timestamp(ctx context.Context) (time.Time, error) {
	clock, ok := c.engine.(Clock)
	if !ok {
		return time.Time{}, ErrNoClock
	}
	return clock.Timestamp(ctx)
}

// Close releases the engine.
func (c *Client) Close(ctx context.Context) error {
	return c.engine.Close(ctx)
}
