package guest

import (
	"context"
	"time"

	"github.com/woxQAQ/exprbridge/internal/wasm"
	"go.uber.org/zap"
)

// Loader handles loading guests from disk.
type Loader struct {
	moduleLoader *wasm.ModuleLoader
	logger       *zap.Logger
}

// NewLoader creates a new guest loader.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger) *Loader {
	return &Loader{
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		logger:       logger.With(zap.String("component", "guest-loader")),
	}
}

// Load loads the guest described by dir/manifest.yaml. The module is
// compiled (or taken from the runtime's cache) and checked for the exports
// its ABI requires.
func (l *Loader) Load(ctx context.Context, dir string) (*Guest, error) {
	l.logger.Debug("Loading guest", zap.String("dir", dir))

	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Loading guest",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.String("abi", manifest.ABI),
	)

	compiled, err := l.moduleLoader.LoadModuleFromFile(ctx, manifest.WasmPath())
	if err != nil {
		return nil, &LoadError{
			GuestName: manifest.Name,
			Err:       err,
		}
	}

	for _, name := range manifest.RequiredExports() {
		if !compiled.HasExport(name) {
			return nil, &LoadError{
				GuestName: manifest.Name,
				Err:       &wasm.FunctionNotFoundError{ModuleName: compiled.Name, FunctionName: name},
			}
		}
	}

	g := &Guest{
		Manifest: manifest,
		Compiled: compiled,
		LoadedAt: time.Now(),
	}

	l.logger.Info("Guest loaded successfully",
		zap.String("name", manifest.Name),
		zap.Int64("size_bytes", compiled.SizeBytes),
		zap.Bool("timestamp", g.HasTimestamp()),
	)

	return g, nil
}
