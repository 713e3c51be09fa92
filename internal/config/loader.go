package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Device selects the accelerator backend ("cpu", "cuda").
	Device string `json:"device" yaml:"device" toml:"device"`

	// ModelsDir holds checkpoint files referenced by relative path.
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// LorasDir is the primary overlay directory.
	LorasDir string `json:"loras_dir" yaml:"loras_dir" toml:"loras_dir"`
	// LorasFallbackDir is searched when LorasDir misses.
	LorasFallbackDir string `json:"loras_fallback_dir" yaml:"loras_fallback_dir" toml:"loras_fallback_dir"`
	// OutputDir receives generated artifacts.
	OutputDir string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	// RegistryPath locates the custom model side-table (models.json).
	RegistryPath string `json:"registry_path" yaml:"registry_path" toml:"registry_path"`
	// WeightsCacheDir caches downloaded auxiliary weights.
	WeightsCacheDir string `json:"weights_cache_dir" yaml:"weights_cache_dir" toml:"weights_cache_dir"`

	// CompletionModel is the default checkpoint for /v1/completions.
	CompletionModel string `json:"completion_model" yaml:"completion_model" toml:"completion_model"`
	// GPULayers is the nominal accelerator demand for text loads
	// (-1 = everything, 0 = host-only).
	GPULayers int `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	CtxSize   int `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads   int `json:"threads" yaml:"threads" toml:"threads"`

	// RetryBackoffMS is the fixed wait between load retries.
	RetryBackoffMS int `json:"retry_backoff_ms" yaml:"retry_backoff_ms" toml:"retry_backoff_ms"`
	// ReloadEvery triggers a preventive resource rebuild after this many
	// inference calls; 0 disables.
	ReloadEvery int `json:"reload_every" yaml:"reload_every" toml:"reload_every"`

	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	// CORSEnabled toggles permissive CORS for browser clients.
	CORSEnabled    bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins    []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	LogLevel       string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	SwaggerEnabled bool     `json:"swagger_enabled" yaml:"swagger_enabled" toml:"swagger_enabled"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
