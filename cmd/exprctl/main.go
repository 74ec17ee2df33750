// Command exprctl evaluates arithmetic expressions through the parser's
// foreign-function boundary.
//
//	exprctl [-config file] [-log-level level] [-engine native|wasm] [expr ...]
//
// Expressions are taken from the arguments, or one per line from stdin when
// there are none. Each result is printed on its own line; failures print
// "Error: <description>" and make the command exit with status 1.
//
// With metrics_enabled set, /metrics is served on metrics_port from startup,
// and once every expression has been evaluated the command keeps serving
// until it receives SIGINT or SIGTERM.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/woxQAQ/exprbridge/binding"
	"github.com/woxQAQ/exprbridge/internal/boundary"
	"github.com/woxQAQ/exprbridge/internal/config"
	"github.com/woxQAQ/exprbridge/internal/logging"
	"github.com/woxQAQ/exprbridge/internal/metrics"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailed  = 1
	exitStartup = 2
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("exprctl", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "Path to configuration file")
	logLevel := flags.String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	engineName := flags.String("engine", "", "Engine (native, wasm); overrides the config file")
	if err := flags.Parse(args); err != nil {
		return exitStartup
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitStartup
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *engineName != "" {
		cfg.Engine = *engineName
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(stderr, "invalid -engine: %v\n", err)
			return exitStartup
		}
	}

	// Initialize logger
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitStartup
	}
	defer logger.Sync()

	logger.Debug("Starting exprctl",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
		zap.String("engine", cfg.Engine),
	)

	engine, err := newEngine(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create engine", zap.Error(err))
		return exitStartup
	}

	client := binding.NewClient(engine,
		binding.WithMaxConcurrency(cfg.MaxConcurrency),
		binding.WithLogger(logger),
	)
	defer func() {
		if err := client.Close(context.Background()); err != nil {
			logger.Warn("Failed to close engine", zap.Error(err))
		}
	}()

	if cfg.MetricsEnabled {
		stop, err := serveMetrics(cfg.MetricsPort, logger)
		if err != nil {
			logger.Error("Failed to serve metrics", zap.Error(err))
			return exitStartup
		}
		defer stop()
	}

	inputs := flags.Args()
	var failed bool
	if len(inputs) > 0 {
		for _, input := range inputs {
			if !evaluate(ctx, client, input, stdout) {
				failed = true
			}
		}
	} else {
		failed, err = evaluateLines(ctx, client, stdin, stdout)
		if err != nil {
			logger.Error("Failed to read input", zap.Error(err))
			return exitFailed
		}
	}

	if ctx.Err() != nil {
		logger.Info("Interrupted")
		return exitFailed
	}
	if cfg.MetricsEnabled {
		logger.Info("Evaluation finished; serving metrics until interrupted")
		<-ctx.Done()
	}
	if failed {
		return exitFailed
	}
	return exitOK
}

func newEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (binding.Engine, error) {
	switch cfg.Engine {
	case config.EngineWasm:
		return binding.NewWasmEngine(ctx, binding.WasmConfigFrom(cfg.Wasm), logger)
	default:
		return binding.NewNativeEngine(boundary.WithLogger(logger)), nil
	}
}

// evaluateLines evaluates each non-blank line of r until EOF or cancellation.
func evaluateLines(ctx context.Context, client *binding.Client, r io.Reader, w io.Writer) (failed bool, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return failed, nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !evaluate(ctx, client, line, w) {
			failed = true
		}
	}
	return failed, scanner.Err()
}

// evaluate prints the result of input, or the error in the C ABI's
// "Error: " form. It reports whether evaluation succeeded.
func evaluate(ctx context.Context, client *binding.Client, input string, w io.Writer) bool {
	expr, err := client.Parse(ctx, input)
	if err != nil {
		var perr *binding.ParseError
		if errors.As(err, &perr) {
			fmt.Fprintln(w, boundary.ErrorPrefix+perr.Message)
		} else {
			fmt.Fprintln(w, boundary.ErrorPrefix+err.Error())
		}
		return false
	}
	fmt.Fprintln(w, expr.Result)
	return true
}

// serveMetrics exposes /metrics on port and returns a function that shuts
// the listener down.
func serveMetrics(port int, logger *zap.Logger) (func(), error) {
	metrics.Register()

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
