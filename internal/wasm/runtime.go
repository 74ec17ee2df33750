package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// Runtime manages the wazero runtime lifecycle.
// One Runtime serves every guest module of the process.
type Runtime struct {
	// wazero runtime (singleton)
	runtime wazero.Runtime

	// On-disk compilation cache, nil when CacheDir is empty.
	cache wazero.CompilationCache

	// Compiled module cache (key: module name/path -> value: compiled module)
	// This avoids recompiling the same Wasm binary multiple times
	modules sync.Map // map[string]*CompiledModule

	// Active module instances (for cleanup on shutdown)
	// key: instance ID -> value: *Instance
	instances sync.Map

	// Host import module, instantiated on first use.
	hostOnce sync.Once
	hostErr  error

	// Configuration
	config *RuntimeConfig

	// Logger
	logger *zap.Logger

	// Shutdown management
	closeOnce sync.Once
	closed    chan struct{}
}

// RuntimeConfig holds runtime configuration.
type RuntimeConfig struct {
	// Memory limits for Wasm modules (in pages, 64KB each)
	// Default: 256 pages = 16MB max memory per module
	MemoryPages uint32

	// Forward guest log messages
	DebugEnabled bool

	// Compilation cache directory (for persistent caching)
	// If empty, uses in-memory caching only
	CacheDir string
}

// CompiledModule wraps a wazero.CompiledModule with metadata.
type CompiledModule struct {
	// wazero compiled module
	Module wazero.CompiledModule

	// Module metadata
	Name      string
	Source    string // File path or identifier
	SizeBytes int64
	Digest    uint64 // xxhash64 of the module bytes

	// Compilation timestamp
	CompiledAt int64
}

// HasExport reports whether the module exports a function called name.
func (c *CompiledModule) HasExport(name string) bool {
	if c.Module == nil {
		return false
	}
	_, ok := c.Module.ExportedFunctions()[name]
	return ok
}

// NewRuntime creates and initializes a new wazero runtime with WASI
// preview1 available to guests.
func NewRuntime(ctx context.Context, logger *zap.Logger, config *RuntimeConfig) (*Runtime, error) {
	// Validate config
	if config == nil {
		config = DefaultRuntimeConfig()
	}

	// Cancelling a call's context aborts the guest instead of letting it run on.
	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if config.MemoryPages > 0 {
		rc = rc.WithMemoryLimitPages(config.MemoryPages)
	}

	var cache wazero.CompilationCache
	if config.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache %s: %w", config.CacheDir, err)
		}
		rc = rc.WithCompilationCache(cache)
	}

	r := wazero.NewRuntimeWithConfig(ctx, rc)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	runtime := &Runtime{
		runtime: r,
		cache:   cache,
		config:  config,
		logger:  logger.With(zap.String("component", "wasm-runtime")),
		closed:  make(chan struct{}),
	}

	runtime.logger.Info("Wasm runtime initialized",
		zap.Uint32("memory_pages", config.MemoryPages),
		zap.Bool("debug_enabled", config.DebugEnabled),
		zap.String("cache_dir", config.CacheDir),
	)

	return runtime, nil
}

// DefaultRuntimeConfig returns sensible defaults.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MemoryPages:  256, // 16MB
		DebugEnabled: false,
		CacheDir:     "",
	}
}

// ensureHostModule instantiates the "host" import module exactly once.
func (r *Runtime) ensureHostModule(ctx context.Context, hostFuncs *HostFunctionsImpl) error {
	r.hostOnce.Do(func() {
		builder := hostFuncs.export(r.runtime.NewHostModuleBuilder(HostModuleName))
		if _, err := builder.Instantiate(ctx); err != nil {
			r.hostErr = fmt.Errorf("failed to instantiate host module: %w", err)
		}
	})
	return r.hostErr
}

// Close gracefully shuts down the runtime.
// Safe to call multiple times (idempotent).
func (r *Runtime) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		r.logger.Info("Shutting down Wasm runtime")

		// Close all active instances first
		r.instances.Range(func(key, value any) bool {
			if inst, ok := value.(*Instance); ok {
				if closeErr := inst.module.Close(ctx); closeErr != nil {
					r.logger.Warn("Failed to close instance",
						zap.String("instance_id", key.(string)),
						zap.Error(closeErr),
					)
				}
			}
			r.instances.Delete(key)
			return true
		})

		// Close the runtime (closes compiled modules)
		err = r.runtime.Close(ctx)

		if r.cache != nil {
			if cacheErr := r.cache.Close(ctx); cacheErr != nil && err == nil {
				err = cacheErr
			}
		}

		close(r.closed)
		r.logger.Info("Wasm runtime shutdown complete")
	})

	return err
}

// GetCompiledModule retrieves a compiled module from cache.
func (r *Runtime) GetCompiledModule(name string) (*CompiledModule, bool) {
	if val, ok := r.modules.Load(name); ok {
		if mod, ok := val.(*CompiledModule); ok {
			return mod, true
		}
	}
	return nil, false
}

// StoreCompiledModule stores a compiled module in cache.
func (r *Runtime) StoreCompiledModule(module *CompiledModule) {
	r.modules.Store(module.Name, module)
}

// StoreInstance stores an active instance.
func (r *Runtime) StoreInstance(instance *Instance) {
	r.instances.Store(instance.ID, instance)
}

// DeleteInstance removes an instance from tracking.
func (r *Runtime) DeleteInstance(instanceID string) {
	r.instances.Delete(instanceID)
}

// InstanceCount returns the number of tracked instances.
func (r *Runtime) InstanceCount() int {
	n := 0
	r.instances.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// IsClosed returns whether the runtime has been closed.
func (r *Runtime) IsClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}
