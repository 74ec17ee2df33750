package wasm

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// HostModuleName is the import module guests use for host functions.
const HostModuleName = "host"

// HostFunctionsImpl implements host functions for Wasm modules.
type HostFunctionsImpl struct {
	logger *zap.Logger
}

// NewHostFunctions creates a new host functions implementation. Guest log
// messages are only forwarded when debug is set.
func NewHostFunctions(logger *zap.Logger, debug bool) *HostFunctionsImpl {
	if !debug {
		logger = zap.NewNop()
	}
	return &HostFunctionsImpl{
		logger: logger.With(zap.String("component", "wasm-guest")),
	}
}

// logMessage is called by Wasm modules to log messages.
// Signature: log_message(level, ptr, length)
// level: 0 = debug, 1 = info, 2 = warn, 3 = error
func (h *HostFunctionsImpl) logMessage(ctx context.Context, mod api.Module, level uint32, ptr uint32, length uint32) {
	// Read message from Wasm memory.
	msg, ok := mod.Memory().Read(ptr, length)
	if !ok {
		h.logger.Error("Failed to read log message from Wasm memory",
			zap.Uint32("ptr", ptr),
			zap.Uint32("length", length),
		)
		return
	}

	fields := []zap.Field{zap.String("module", mod.Name())}
	switch level {
	case 0:
		h.logger.Debug(string(msg), fields...)
	case 1:
		h.logger.Info(string(msg), fields...)
	case 2:
		h.logger.Warn(string(msg), fields...)
	case 3:
		h.logger.Error(string(msg), fields...)
	default:
		h.logger.Info(string(msg), fields...)
	}
}

// export registers the host functions on builder.
func (h *HostFunctionsImpl) export(builder wazero.HostModuleBuilder) wazero.HostModuleBuilder {
	return builder.NewFunctionBuilder().
		WithFunc(h.logMessage).
		WithParameterNames("level", "ptr", "length").
		Export("log_message")
}
