// Package config loads, validates, and materializes the engine
// configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (PIXELPIPE_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/pixelpipe/internal/bytesize"
)

// Config is the complete engine configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics configures the Prometheus metrics endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Pipeline tunes the load/decode/process/encode stages.
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`

	// MemoryCache configures the decoded-artifact tier.
	MemoryCache MemoryCacheConfig `mapstructure:"memory_cache" yaml:"memory_cache"`

	// DiskCache configures the persistent byte tier.
	DiskCache DiskCacheConfig `mapstructure:"disk_cache" yaml:"disk_cache"`

	// RateLimit throttles transport admissions.
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// HTTP tunes the transport.
	HTTP HTTPConfig `mapstructure:"http" yaml:"http"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint. When
// Enabled is false no metrics are collected (zero overhead).
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the /metrics endpoint. Default: 9090.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// PipelineConfig tunes the pipeline stages.
type PipelineConfig struct {
	// Stage concurrency bounds. 0 = stage default.
	LoadConcurrency    int `mapstructure:"load_concurrency" validate:"omitempty,min=1" yaml:"load_concurrency"`
	DecodeConcurrency  int `mapstructure:"decode_concurrency" validate:"omitempty,min=1" yaml:"decode_concurrency"`
	ProcessConcurrency int `mapstructure:"process_concurrency" validate:"omitempty,min=1" yaml:"process_concurrency"`
	EncodeConcurrency  int `mapstructure:"encode_concurrency" validate:"omitempty,min=1" yaml:"encode_concurrency"`

	// StoreOriginal persists fetched bytes keyed by load key.
	StoreOriginal bool `mapstructure:"store_original" yaml:"store_original"`

	// StoreProcessed persists encoded processed artifacts keyed by cache key.
	StoreProcessed bool `mapstructure:"store_processed" yaml:"store_processed"`

	// EncodeFormat is the format for persisted processed artifacts.
	EncodeFormat string `mapstructure:"encode_format" validate:"omitempty,oneof=png jpg jpeg gif tif tiff bmp" yaml:"encode_format"`

	// EncodeQuality applies to JPEG encoding (1-100).
	EncodeQuality int `mapstructure:"encode_quality" validate:"omitempty,min=1,max=100" yaml:"encode_quality"`

	// ResumeEntries bounds retained partial transfers.
	ResumeEntries int `mapstructure:"resume_entries" yaml:"resume_entries"`
}

// MemoryCacheConfig configures the in-memory artifact cache.
type MemoryCacheConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// CostLimit bounds total resident bytes. Supports "256Mi", "1GB", ...
	CostLimit bytesize.ByteSize `mapstructure:"cost_limit" yaml:"cost_limit,omitempty"`

	// CountLimit bounds the number of entries.
	CountLimit int `mapstructure:"count_limit" yaml:"count_limit"`
}

// DiskCacheConfig configures the persistent byte store.
type DiskCacheConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Path is the store directory. Required when enabled.
	Path string `mapstructure:"path" validate:"required_if=Enabled true" yaml:"path"`

	// SizeLimit bounds total stored payload bytes. Supports "1GB", "10Gi", ...
	SizeLimit bytesize.ByteSize `mapstructure:"size_limit" yaml:"size_limit,omitempty"`

	// FlushInterval is the background commit cadence.
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`

	// SweepInterval is the size-sweep cadence.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// RateLimitConfig throttles how often the transport may start new work.
type RateLimitConfig struct {
	// Rate is the bucket refill rate in transfers per second.
	Rate float64 `mapstructure:"rate" validate:"omitempty,gt=0" yaml:"rate"`

	// Burst is the bucket capacity.
	Burst int `mapstructure:"burst" validate:"omitempty,min=1" yaml:"burst"`
}

// HTTPConfig tunes the HTTP transport.
type HTTPConfig struct {
	// UserAgent is sent with every request when non-empty.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent,omitempty"`

	// ChunkSize is the body read granularity. Supports "64Ki", ...
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
// configPath empty uses the default location; a missing file yields the
// default configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with user-friendly errors when the file is
// missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Initialize one first:\n"+
				"  pixelpipe config init\n\n"+
				"Or specify a custom config file:\n"+
				"  pixelpipe <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Create it with:\n"+
			"  pixelpipe config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Render returns cfg as YAML.
func Render(cfg *Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}

// FileExists reports whether a config file exists at path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// setupViper configures environment variables and config file lookup.
// Environment variables use the PIXELPIPE_ prefix, e.g.
// PIXELPIPE_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("PIXELPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file if present. A missing file is not an
// error.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks combines the custom decoders for ByteSize and
// time.Duration fields.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize, so
// config files can say "256Mi", "1GB", or a plain byte count.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64.
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" or "5m" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory: $XDG_CONFIG_HOME, else
// ~/.config, else the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "pixelpipe")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "pixelpipe")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
