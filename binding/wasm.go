package binding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/woxQAQ/exprbridge/internal/boundary"
	"github.com/woxQAQ/exprbridge/internal/config"
	"github.com/woxQAQ/exprbridge/internal/guest"
	"github.com/woxQAQ/exprbridge/internal/wasm"
	"go.uber.org/zap"
)

// ErrEngineClosed is returned by calls on a closed WasmEngine.
var ErrEngineClosed = errors.New("wasm engine is closed")

// WasmConfig configures a WasmEngine.
type WasmConfig struct {
	// Directory holding the guest's manifest.yaml.
	GuestDir string
	// Memory limit per instance, in 64KB pages. Zero means unlimited.
	MemoryPages uint32
	// wazero compilation cache directory; empty keeps it in memory.
	CacheDir string
	// Maximum number of live instances, and so of concurrent evaluations.
	MaxInstances int
	// Forward guest log messages.
	Debug bool
}

// WasmConfigFrom converts the wasm section of the process configuration.
func WasmConfigFrom(c config.WasmConfig) WasmConfig {
	return WasmConfig{
		GuestDir:     c.GuestDir,
		MemoryPages:  c.MemoryPages,
		CacheDir:     c.CacheDir,
		MaxInstances: c.MaxInstances,
		Debug:        c.Debug,
	}
}

// WasmEngine evaluates expressions inside a wasip1 guest.
//
// A guest instance runs one call at a time, so the engine keeps a pool of
// instances: a call borrows an idle instance or creates one while fewer than
// MaxInstances exist. An instance whose call failed for any reason other
// than a parse error is closed instead of being returned, since a trapped
// guest's memory can no longer be trusted.
type WasmEngine struct {
	runtime   *wasm.Runtime
	instances *wasm.InstanceManager
	guest     *guest.Guest
	logger    *zap.Logger

	// slots holds one token per instance that may exist.
	slots chan struct{}
	idle  chan *wasm.Instance

	closed atomic.Bool
}

// NewWasmEngine loads the guest in cfg.GuestDir and prepares its instance
// pool. Instances are created on demand.
func NewWasmEngine(ctx context.Context, cfg WasmConfig, logger *zap.Logger) (*WasmEngine, error) {
	if cfg.MaxInstances < 1 {
		cfg.MaxInstances = 1
	}

	runtime, err := wasm.NewRuntime(ctx, logger, &wasm.RuntimeConfig{
		MemoryPages:  cfg.MemoryPages,
		DebugEnabled: cfg.Debug,
		CacheDir:     cfg.CacheDir,
	})
	if err != nil {
		return nil, err
	}

	g, err := guest.NewLoader(runtime, logger).Load(ctx, cfg.GuestDir)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, err
	}

	e := &WasmEngine{
		runtime:   runtime,
		instances: wasm.NewInstanceManager(runtime, wasm.NewHostFunctions(logger, cfg.Debug), logger),
		guest:     g,
		logger:    logger.With(zap.String("component", "wasm-engine")),
		slots:     make(chan struct{}, cfg.MaxInstances),
		idle:      make(chan *wasm.Instance, cfg.MaxInstances),
	}

	e.logger.Info("Wasm engine ready",
		zap.String("guest", g.Name()),
		zap.String("version", g.Version()),
		zap.String("abi", g.Manifest.ABI),
		zap.Int("max_instances", cfg.MaxInstances),
	)

	return e, nil
}

// Name implements Engine.
func (e *WasmEngine) Name() string {
	return "wasm"
}

// Guest returns the loaded guest.
func (e *WasmEngine) Guest() *guest.Guest {
	return e.guest
}

// Evaluate implements Engine.
func (e *WasmEngine) Evaluate(ctx context.Context, input string) (result string, err error) {
	inst, err := e.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		var perr *ParseError
		e.release(inst, err == nil || errors.As(err, &perr))
	}()

	if e.guest.UsesStatusABI() {
		return e.evaluateStatus(ctx, inst, input)
	}
	return e.evaluateCompat(ctx, inst, input)
}

// evaluateStatus calls parse_expression_status(input, &out).
func (e *WasmEngine) evaluateStatus(ctx context.Context, inst *wasm.Instance, input string) (string, error) {
	mem := inst.Memory()
	exports := e.guest.Manifest.Exports

	in, _, err := mem.WriteString(ctx, input)
	if err != nil {
		return "", err
	}
	defer mem.Free(ctx, in)

	slot, err := mem.Alloc(ctx, 4)
	if err != nil {
		return "", err
	}
	defer mem.Free(ctx, slot)

	status, err := inst.Call1(ctx, exports.ParseStatus, uint64(in), uint64(slot))
	if err != nil {
		return "", err
	}

	out, err := mem.ReadUint32(slot)
	if err != nil {
		return "", err
	}

	text, err := e.take(ctx, inst, out)
	if err != nil {
		return "", err
	}

	switch boundary.Status(int32(uint32(status))) {
	case boundary.StatusOK:
		return text, nil
	case boundary.StatusParseError:
		return "", &ParseError{Input: input, Message: text}
	default:
		return "", &wasm.GuestCallError{
			InstanceID:   inst.ID,
			FunctionName: exports.ParseStatus,
			Err:          fmt.Errorf("unknown status %d", int32(uint32(status))),
		}
	}
}

// evaluateCompat calls parse_expression(input) and splits on the error prefix.
func (e *WasmEngine) evaluateCompat(ctx context.Context, inst *wasm.Instance, input string) (string, error) {
	mem := inst.Memory()

	in, _, err := mem.WriteString(ctx, input)
	if err != nil {
		return "", err
	}
	defer mem.Free(ctx, in)

	out, err := inst.Call1(ctx, e.guest.Manifest.Exports.Parse, uint64(in))
	if err != nil {
		return "", err
	}

	text, err := e.take(ctx, inst, uint32(out))
	if err != nil {
		return "", err
	}

	if msg, ok := strings.CutPrefix(text, boundary.ErrorPrefix); ok {
		return "", &ParseError{Input: input, Message: msg}
	}
	return text, nil
}

// take copies the guest-owned result at ptr and hands it back to the guest's
// release export.
func (e *WasmEngine) take(ctx context.Context, inst *wasm.Instance, ptr uint32) (string, error) {
	if ptr == 0 {
		return "", &wasm.MemoryAccessError{Operation: "read_result", Err: errors.New("guest returned null")}
	}
	text, err := inst.Memory().ReadCString(ptr)
	if err != nil {
		return "", err
	}
	if err := inst.Memory().Release(ctx, e.guest.Manifest.Exports.Release, ptr); err != nil {
		return "", err
	}
	return text, nil
}

// Timestamp implements Clock.
func (e *WasmEngine) Timestamp(ctx context.Context) (t time.Time, err error) {
	if !e.guest.HasTimestamp() {
		return time.Time{}, &wasm.FunctionNotFoundError{
			ModuleName:   e.guest.ModuleName(),
			FunctionName: e.guest.Manifest.Exports.Timestamp,
		}
	}

	inst, err := e.acquire(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer func() { e.release(inst, err == nil) }()

	nanos, err := inst.Call1(ctx, e.guest.Manifest.Exports.Timestamp)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(nanos)), nil
}

// acquire borrows an idle instance, or creates one when a slot is free.
func (e *WasmEngine) acquire(ctx context.Context) (*wasm.Instance, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	select {
	case e.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case inst := <-e.idle:
		return inst, nil
	default:
	}

	inst, err := e.instances.Instantiate(ctx, &wasm.InstanceConfig{
		ModuleName:      e.guest.ModuleName(),
		RequiredExports: e.guest.Manifest.RequiredExports(),
	})
	if err != nil {
		<-e.slots
		return nil, err
	}
	return inst, nil
}

// release returns inst to the pool, or closes it when it is no longer
// trustworthy or the engine has shut down.
func (e *WasmEngine) release(inst *wasm.Instance, healthy bool) {
	defer func() { <-e.slots }()

	if healthy && !e.closed.Load() {
		select {
		case e.idle <- inst:
			return
		default:
		}
	}

	if !healthy {
		e.logger.Debug("Discarding guest instance", zap.String("instance_id", inst.ID))
	}
	// The call's context may already be done.
	_ = inst.Close(context.Background())
}

// Close closes every instance and the runtime. Calls in flight finish first
// only if they already hold an instance; new calls fail with ErrEngineClosed.
func (e *WasmEngine) Close(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}
	for {
		select {
		case inst := <-e.idle:
			_ = inst.Close(ctx)
		default:
			return e.runtime.Close(ctx)
		}
	}
}
