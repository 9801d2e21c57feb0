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

	"github.com/freightcore/freightcore/internal/bytesize"
	"github.com/freightcore/freightcore/pkg/adapter/rpc"
	"github.com/freightcore/freightcore/pkg/gateway"
)

// Config represents the FreightCore configuration.
//
// This structure captures the static configuration of the freightd server:
//   - Logging configuration
//   - Telemetry/tracing configuration
//   - Prometheus metrics collection
//   - Object store backend (S3 or in-process memory)
//   - Transfer limits and thresholds
//   - Progress registry tuning
//   - RPC front and subscription gateway settings
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (FREIGHT_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// of the whole daemon. The per-adapter timeouts.shutdown values bound
	// the individual drains inside this window.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Store selects and configures the object store backend
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Transfer contains upload/download limits and thresholds
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`

	// Progress tunes the progress registry
	Progress ProgressConfig `mapstructure:"progress" yaml:"progress"`

	// RPC contains the binary RPC front configuration
	RPC rpc.Config `mapstructure:"rpc" yaml:"rpc"`

	// Gateway contains the WebSocket subscription gateway configuration
	Gateway gateway.Config `mapstructure:"gateway" yaml:"gateway"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	// Set to false in production with a TLS-enabled collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// 1.0 = sample all traces, 0.5 = sample 50%, 0.0 = no sampling
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// ServiceName is the service name reported to the trace backend
	// Default: "freightd"
	ServiceName string `mapstructure:"service_name" yaml:"service_name,omitempty"`

	// ServiceVersion is the service version reported to the trace backend.
	// Left empty, the daemon fills in its build version.
	ServiceVersion string `mapstructure:"service_version" yaml:"service_version,omitempty"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
// When enabled, CPU and memory profiles are continuously sent to a Pyroscope server
// for flame graph visualization and performance analysis.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures Prometheus metrics collection.
// When Enabled is false, no metrics are collected (zero overhead).
// The scrape endpoint is served by the gateway listener at /metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// StoreConfig selects and configures the object store backend.
type StoreConfig struct {
	// Backend selects the object store implementation.
	// Valid values: "memory" (in-process, for development and tests),
	// "s3" (AWS S3 or any S3-compatible service).
	// Default: "memory"
	Backend string `mapstructure:"backend" validate:"required,oneof=memory s3" yaml:"backend"`

	// S3 configures the S3 backend. Only consulted when Backend is "s3".
	S3 S3StoreConfig `mapstructure:"s3" yaml:"s3"`
}

// S3StoreConfig configures the S3 object store backend.
type S3StoreConfig struct {
	// Bucket is the S3 bucket name. Required when the backend is "s3".
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty"`

	// Region is the AWS region (optional, uses SDK default if empty)
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint is the S3 endpoint URL (optional, for MinIO/Localstack)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey configure static credentials.
	// When empty the SDK default credential chain is used.
	// Override: FREIGHT_STORE_S3_ACCESS_KEY_ID, FREIGHT_STORE_S3_SECRET_ACCESS_KEY
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO)
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`

	// KeyPrefix is prepended to all object keys (e.g., "artifacts/")
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// PartSize is the multipart part size
	// Supports human-readable formats: "8MiB", "16Mi", "10MB"
	// Default: 8MiB (validated to be within 5MiB and 5GiB)
	PartSize bytesize.ByteSize `mapstructure:"part_size" yaml:"part_size,omitempty"`
}

// TransferConfig contains upload/download limits and thresholds.
// Byte-valued options accept human-readable sizes ("5MiB", "32Mi", "100MB").
type TransferConfig struct {
	// MultipartThreshold selects multipart mode for uploads declaring a
	// size above it.
	// Default: 5MiB
	MultipartThreshold bytesize.ByteSize `mapstructure:"multipart_threshold" yaml:"multipart_threshold"`

	// MaxChunkBytes rejects inbound chunks larger than this.
	// Default: 32MiB
	MaxChunkBytes bytesize.ByteSize `mapstructure:"max_chunk_bytes" yaml:"max_chunk_bytes"`

	// RecommendedChunkBytes is the chunk size hint returned to uploaders.
	// Default: 256KiB
	RecommendedChunkBytes bytesize.ByteSize `mapstructure:"recommended_chunk_bytes" yaml:"recommended_chunk_bytes"`

	// SessionIdleTimeout aborts upload sessions with no chunk activity.
	// Default: 30m
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout" validate:"min=0" yaml:"session_idle_timeout"`

	// DownloadReadChunkBytes is the store read granularity for downloads.
	// Default: 256KiB
	DownloadReadChunkBytes bytesize.ByteSize `mapstructure:"download_read_chunk_bytes" yaml:"download_read_chunk_bytes"`

	// MaxDirectBuffer caps direct-mode sessions without a declared size.
	// Default: 64MiB
	MaxDirectBuffer bytesize.ByteSize `mapstructure:"max_direct_buffer" yaml:"max_direct_buffer"`

	// MaxSessions caps concurrently live upload sessions.
	// Default: 256
	MaxSessions int `mapstructure:"max_sessions" validate:"min=0" yaml:"max_sessions"`

	// MaxInflightBytes caps aggregate buffered bytes across sessions.
	// Default: 1GiB
	MaxInflightBytes bytesize.ByteSize `mapstructure:"max_inflight_bytes" yaml:"max_inflight_bytes"`

	// SignedURLMaxTTL caps the lifetime of presigned download URLs.
	// Default: 168h (7 days)
	SignedURLMaxTTL time.Duration `mapstructure:"signed_url_max_ttl" validate:"min=0" yaml:"signed_url_max_ttl"`
}

// ProgressConfig tunes the progress registry.
type ProgressConfig struct {
	// CoalesceInterval is the minimum gap between non-terminal progress
	// publishes of one operation. Advances arriving faster are folded into
	// the next publish. Terminal snapshots always publish immediately.
	// Default: 500ms
	CoalesceInterval time.Duration `mapstructure:"coalesce_interval" validate:"min=0" yaml:"coalesce_interval"`

	// RetentionAfterTerminal is how long a finished operation remains
	// queryable so slow subscribers still observe completion.
	// Default: 120s
	RetentionAfterTerminal time.Duration `mapstructure:"retention_after_terminal" validate:"min=0" yaml:"retention_after_terminal"`

	// SubscriberBuffer is the per-subscription snapshot buffer capacity.
	// Default: 16
	SubscriberBuffer int `mapstructure:"subscriber_buffer" validate:"min=0" yaml:"subscriber_buffer"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (FREIGHT_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: User-friendly error with instructions if config not found
func MustLoad(configPath string) (*Config, error) {
	// Determine config path
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  freightd init\n\n"+
				"Or specify a custom config file:\n"+
				"  freightd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  freightd init --config %s",
				configPath, configPath)
		}
	}

	// Load configuration
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file with restricted permissions (0600 = owner read/write only).
	// Config files may contain S3 credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use FREIGHT_ prefix and underscores
	// Example: FREIGHT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("FREIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Credentials are commonly supplied through the environment only.
	// AutomaticEnv resolves just the keys that appear in the file, so
	// these are bound explicitly.
	_ = v.BindEnv("store.s3.access_key_id")
	_ = v.BindEnv("store.s3.secret_access_key")

	// Both server fronts are on unless explicitly disabled. Post-load
	// defaulting cannot distinguish an absent key from an explicit false,
	// so these defaults live in viper itself.
	v.SetDefault("rpc.enabled", true)
	v.SetDefault("gateway.enabled", true)

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/freight/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Other errors are problems
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use human-readable
// sizes like "1Gi", "500Mi", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to ByteSize
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse human-readable string like "1Gi", "500Mi", "100MB"
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to time.Duration
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse duration string like "30s", "5m", "1h"
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "freight")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "freight")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
