// Package guest loads Wasm guests described by a manifest.yaml and checks
// that they export what their calling convention needs.
package guest

import (
	"time"

	"github.com/woxQAQ/exprbridge/internal/wasm"
)

// Guest represents a loaded guest with its manifest and compiled Wasm module.
type Guest struct {
	// Manifest is the parsed guest metadata
	Manifest *Manifest

	// Compiled is the compiled Wasm module
	Compiled *wasm.CompiledModule

	// LoadedAt is the timestamp when the guest was loaded
	LoadedAt time.Time
}

// Name returns the guest name.
func (g *Guest) Name() string {
	return g.Manifest.Name
}

// Version returns the guest version.
func (g *Guest) Version() string {
	return g.Manifest.Version
}

// ModuleName is the key the compiled module is cached under in the runtime.
func (g *Guest) ModuleName() string {
	return g.Compiled.Name
}

// UsesStatusABI reports whether the guest reports failures through a status
// code rather than the "Error: " prefix.
func (g *Guest) UsesStatusABI() bool {
	return g.Manifest.ABI == ABIStatus
}

// HasTimestamp reports whether the guest exports its wall clock.
func (g *Guest) HasTimestamp() bool {
	return g.Compiled.HasExport(g.Manifest.Exports.Timestamp)
}
