package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. EXPRBRIDGE_LOG_LEVEL.
const EnvPrefix = "EXPRBRIDGE"

// Engine names accepted by the engine key.
const (
	EngineNative = "native"
	EngineWasm   = "wasm"
)

type Config struct {
	LogLevel       string     `mapstructure:"log_level"`
	Engine         string     `mapstructure:"engine"`
	MaxConcurrency int        `mapstructure:"max_concurrency"`
	MetricsEnabled bool       `mapstructure:"metrics_enabled"`
	MetricsPort    int        `mapstructure:"metrics_port"`
	Wasm           WasmConfig `mapstructure:"wasm"`
}

// WasmConfig holds settings for the wasm engine.
type WasmConfig struct {
	// Directory holding the guest's manifest.yaml.
	GuestDir string `mapstructure:"guest_dir"`
	// Memory limit per guest instance (in pages, 64KB each).
	MemoryPages uint32 `mapstructure:"memory_pages"`
	// Compilation cache directory; empty keeps the cache in memory.
	CacheDir string `mapstructure:"cache_dir"`
	// Maximum number of live guest instances.
	MaxInstances int `mapstructure:"max_instances"`
	// Forward guest log messages at debug level.
	Debug bool `mapstructure:"debug"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from defaults, the optional file at configPath and
// EXPRBRIDGE_* environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	v := newViper()

	// Set defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("engine", EngineNative)
	v.SetDefault("max_concurrency", 8)
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_port", 9090)

	// Wasm defaults
	v.SetDefault("wasm.guest_dir", "./guest")
	v.SetDefault("wasm.memory_pages", 256) // 16MB
	v.SetDefault("wasm.cache_dir", "")
	v.SetDefault("wasm.max_instances", 8)
	v.SetDefault("wasm.debug", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Engine {
	case EngineNative, EngineWasm:
	default:
		return fmt.Errorf("unsupported engine %q (must be one of: %s, %s)", c.Engine, EngineNative, EngineWasm)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.Wasm.MaxInstances < 1 {
		return fmt.Errorf("wasm.max_instances must be positive, got %d", c.Wasm.MaxInstances)
	}
	return nil
}

// LibraryLogLevel returns EXPRBRIDGE_LOG_LEVEL, or "" when unset. The shared
// library reads nothing else: it has no config file.
func LibraryLogLevel() string {
	v := newViper()
	return v.GetString("log_level")
}
