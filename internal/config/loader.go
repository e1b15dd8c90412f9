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

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and fall back to Default() in main.
type Config struct {
	Addr           string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir      string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel   string `json:"default_model" yaml:"default_model" toml:"default_model"`
	AutoLoadModels bool   `json:"auto_load_models" yaml:"auto_load_models" toml:"auto_load_models"`
	LogLevel       string `json:"log_level" yaml:"log_level" toml:"log_level"`

	Cache      CacheConfig      `json:"cache" yaml:"cache" toml:"cache"`
	Memory     MemoryConfig     `json:"memory" yaml:"memory" toml:"memory"`
	Serving    ServingConfig    `json:"serving" yaml:"serving" toml:"serving"`
	Engine     EngineConfig     `json:"engine" yaml:"engine" toml:"engine"`
	RequestLog RequestLogConfig `json:"request_log" yaml:"request_log" toml:"request_log"`
	CORS       CORSConfig       `json:"cors" yaml:"cors" toml:"cors"`
}

// CacheConfig controls the response cache. An empty RedisURL selects the
// in-process store.
type CacheConfig struct {
	MaxSize              int    `json:"max_size" yaml:"max_size" toml:"max_size"`
	TTLSeconds           int    `json:"ttl_seconds" yaml:"ttl_seconds" toml:"ttl_seconds"`
	SweepIntervalSeconds int    `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds" toml:"sweep_interval_seconds"`
	RedisURL             string `json:"redis_url" yaml:"redis_url" toml:"redis_url"`
}

// MemoryConfig controls the pressure manager. BudgetMB overrides the
// fraction-of-available sampling when set.
type MemoryConfig struct {
	BudgetMB             int     `json:"budget_mb" yaml:"budget_mb" toml:"budget_mb"`
	BudgetFraction       float64 `json:"budget_fraction" yaml:"budget_fraction" toml:"budget_fraction"`
	CheckIntervalSeconds int     `json:"check_interval_seconds" yaml:"check_interval_seconds" toml:"check_interval_seconds"`
}

// ServingConfig sizes the admission queue and worker pool.
type ServingConfig struct {
	QueueSize        int `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
	Workers          int `json:"workers" yaml:"workers" toml:"workers"`
	EnqueueTimeoutMS int `json:"enqueue_timeout_ms" yaml:"enqueue_timeout_ms" toml:"enqueue_timeout_ms"`
}

// EngineConfig is passed through to the inference backend at load time.
type EngineConfig struct {
	CtxSize   int  `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads   int  `json:"threads" yaml:"threads" toml:"threads"`
	Batch     int  `json:"batch" yaml:"batch" toml:"batch"`
	GPULayers int  `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	UseMmap   bool `json:"use_mmap" yaml:"use_mmap" toml:"use_mmap"`
	UseMlock  bool `json:"use_mlock" yaml:"use_mlock" toml:"use_mlock"`
}

// RequestLogConfig selects the request-log backend. An empty driver
// disables logging; "sqlite" and "postgres" are supported.
type RequestLogConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

// CORSConfig enables cross-origin access for browser clients.
type CORSConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
}

// Default returns the configuration used when no file or flag overrides
// a field.
func Default() Config {
	return Config{
		Addr:           ":8080",
		ModelsDir:      "~/models",
		AutoLoadModels: true,
		LogLevel:       "info",
		Cache: CacheConfig{
			MaxSize:              1000,
			TTLSeconds:           300,
			SweepIntervalSeconds: 300,
		},
		Memory: MemoryConfig{
			BudgetFraction:       0.8,
			CheckIntervalSeconds: 30,
		},
		Serving: ServingConfig{
			QueueSize: 256,
			Workers:   4,
		},
		Engine: EngineConfig{
			CtxSize: 4096,
			Batch:   512,
			UseMmap: true,
		},
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
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
