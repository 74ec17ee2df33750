package guest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/woxQAQ/exprbridge/internal/wasm"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the manifest inside a guest directory.
const ManifestFile = "manifest.yaml"

// Calling conventions a guest can speak.
const (
	// ABIStatus guests export parse_expression_status and report failures
	// through a status code.
	ABIStatus = "status"
	// ABICompat guests only export parse_expression and mark failures with
	// the "Error: " prefix.
	ABICompat = "compat"
)

// Default export names.
const (
	DefaultParseExport       = "parse_expression"
	DefaultParseStatusExport = "parse_expression_status"
	DefaultReleaseExport     = "free_rust_string"
	DefaultTimestampExport   = "timestamp"
)

// Manifest represents the guest manifest.yaml structure.
type Manifest struct {
	Name    string     `yaml:"name"`
	Version string     `yaml:"version"`
	ABI     string     `yaml:"abi"`
	Wasm    WasmConfig `yaml:"wasm"`
	Exports Exports    `yaml:"exports"`

	// Internal fields
	dir string // Directory containing manifest
}

// WasmConfig holds Wasm module configuration.
type WasmConfig struct {
	File string `yaml:"file"`
}

// Exports overrides the names of the guest's exported functions. Empty
// fields fall back to the defaults.
type Exports struct {
	Parse       string `yaml:"parse"`
	ParseStatus string `yaml:"parse_status"`
	Release     string `yaml:"release"`
	Timestamp   string `yaml:"timestamp"`
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.ABI == "" {
		m.ABI = ABIStatus
	}
	if m.Exports.Parse == "" {
		m.Exports.Parse = DefaultParseExport
	}
	if m.Exports.ParseStatus == "" {
		m.Exports.ParseStatus = DefaultParseStatusExport
	}
	if m.Exports.Release == "" {
		m.Exports.Release = DefaultReleaseExport
	}
	if m.Exports.Timestamp == "" {
		m.Exports.Timestamp = DefaultTimestampExport
	}
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "name",
			Message: "name is required",
		}
	}

	if m.Version == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "version",
			Message: "version is required",
		}
	}

	switch m.ABI {
	case ABIStatus, ABICompat:
	default:
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "abi",
			Message: fmt.Sprintf("unsupported abi: %s (must be one of: %s, %s)", m.ABI, ABIStatus, ABICompat),
		}
	}

	if m.Wasm.File == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "wasm.file",
			Message: "wasm.file is required",
		}
	}

	if _, err := os.Stat(m.WasmPath()); os.IsNotExist(err) {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	return nil
}

// RequiredExports lists the functions the module must export for its ABI.
// The timestamp export is optional.
func (m *Manifest) RequiredExports() []string {
	exports := []string{wasm.ExportMalloc, wasm.ExportFree, m.Exports.Release}
	if m.ABI == ABIStatus {
		return append(exports, m.Exports.ParseStatus)
	}
	return append(exports, m.Exports.Parse)
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// WasmPath returns the path to the Wasm file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
