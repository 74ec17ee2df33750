package wasm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime   *Runtime
	logger    *zap.Logger
	hostFuncs *HostFunctionsImpl
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, hostFuncs *HostFunctionsImpl, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime:   runtime,
		hostFuncs: hostFuncs,
		logger:    logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, one is generated).
	InstanceID string

	// Exports the instance must provide; instantiation fails if one is
	// missing. They are also cached for fast lookup.
	RequiredExports []string
}

// Instance represents an instantiated Wasm module. An Instance is not safe
// for concurrent use: wazero module instances are single-threaded.
type Instance struct {
	// wazero module instance.
	module  api.Module
	runtime *Runtime

	// Instance metadata.
	ID        string
	Name      string
	CreatedAt int64

	// Exported functions (cached for performance).
	exports map[string]api.Function

	memory *Memory
}

// Instantiate creates a new instance from a compiled module.
// Host functions are exported to the Wasm module.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	// Get compiled module from cache.
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	// Generate instance ID if not provided.
	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = generateInstanceID()
	}

	m.logger.Debug("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	if err := m.runtime.ensureHostModule(ctx, m.hostFuncs); err != nil {
		return nil, err
	}

	// Reactor modules (Go wasip1 c-shared, Rust cdylib) initialise through
	// _initialize; modules without it skip the start phase. Guests get the
	// real clocks, not wazero's deterministic defaults.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions("_initialize").
		WithSysWalltime().
		WithSysNanotime()

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	// Cache exported functions.
	exports, missing := cacheExportedFunctions(module, config.RequiredExports)
	if missing != "" {
		_ = module.Close(ctx)
		return nil, &FunctionNotFoundError{ModuleName: config.ModuleName, FunctionName: missing}
	}

	instance := &Instance{
		module:    module,
		runtime:   m.runtime,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
		exports:   exports,
	}
	instance.memory = NewMemory(instance)

	// Track active instance.
	m.runtime.StoreInstance(instance)

	m.logger.Debug("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(exports)),
	)

	return instance, nil
}

// Function returns the exported function name, or FunctionNotFoundError.
func (i *Instance) Function(name string) (api.Function, error) {
	if fn, ok := i.exports[name]; ok {
		return fn, nil
	}
	if fn := i.module.ExportedFunction(name); fn != nil {
		return fn, nil
	}
	return nil, &FunctionNotFoundError{ModuleName: i.Name, FunctionName: name}
}

// Call invokes an exported function and returns its raw results.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn, err := i.Function(name)
	if err != nil {
		return nil, err
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		// A cancelled call surfaces as the context's own error.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &GuestCallError{InstanceID: i.ID, FunctionName: name, Err: err}
	}
	return results, nil
}

// Call1 invokes a function that returns exactly one value.
func (i *Instance) Call1(ctx context.Context, name string, params ...uint64) (uint64, error) {
	results, err := i.Call(ctx, name, params...)
	if err != nil {
		return 0, err
	}
	if len(results) != 1 {
		return 0, &GuestCallError{
			InstanceID:   i.ID,
			FunctionName: name,
			Err:          fmt.Errorf("expected 1 result, got %d", len(results)),
		}
	}
	return results[0], nil
}

// Memory returns the instance's memory helper.
func (i *Instance) Memory() *Memory {
	return i.memory
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	i.runtime.DeleteInstance(i.ID)
	return i.module.Close(ctx)
}

// cacheExportedFunctions resolves names up front and reports the first one
// the module does not export.
func cacheExportedFunctions(module api.Module, names []string) (map[string]api.Function, string) {
	exports := make(map[string]api.Function, len(names))
	for _, name := range names {
		fn := module.ExportedFunction(name)
		if fn == nil {
			return nil, name
		}
		exports[name] = fn
	}
	return exports, ""
}

var instanceSeq atomic.Uint64

// generateInstanceID generates a process-unique instance ID.
func generateInstanceID() string {
	return fmt.Sprintf("inst-%d-%d", time.Now().UnixNano(), instanceSeq.Add(1))
}
