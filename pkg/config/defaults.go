package config

import (
	"strings"
	"time"

	"github.com/freightcore/freightcore/internal/bytesize"
	"github.com/freightcore/freightcore/pkg/adapter/rpc"
	"github.com/freightcore/freightcore/pkg/gateway"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyStoreDefaults(&cfg.Store)
	applyTransferDefaults(&cfg.Transfer)
	applyProgressDefaults(&cfg.Progress)
	applyRPCDefaults(&cfg.RPC)
	applyGatewayDefaults(&cfg.Gateway)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)
	// No need to set, zero value is false

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "freightd"
	}
	// ServiceVersion stays empty; the daemon fills in its build version

	// Apply profiling defaults
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Enabled defaults to false (opt-in for profiling)
	// No need to set, zero value is false

	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	// Default profile types include CPU, memory allocation, and goroutines
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyStoreDefaults sets object store defaults.
// The memory backend needs no configuration, which keeps a bare
// `freightd start` working without a config file.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
	if cfg.S3.PartSize == 0 {
		cfg.S3.PartSize = 8 * bytesize.MiB
	}
}

// applyTransferDefaults sets transfer limit defaults.
// The values mirror the transfer service's own defaults so the effective
// configuration is visible in `freightd config show`.
func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.MultipartThreshold == 0 {
		cfg.MultipartThreshold = 5 * bytesize.MiB
	}
	if cfg.MaxChunkBytes == 0 {
		cfg.MaxChunkBytes = 32 * bytesize.MiB
	}
	if cfg.RecommendedChunkBytes == 0 {
		cfg.RecommendedChunkBytes = 256 * bytesize.KiB
	}
	if cfg.SessionIdleTimeout == 0 {
		cfg.SessionIdleTimeout = 30 * time.Minute
	}
	if cfg.DownloadReadChunkBytes == 0 {
		cfg.DownloadReadChunkBytes = 256 * bytesize.KiB
	}
	if cfg.MaxDirectBuffer == 0 {
		cfg.MaxDirectBuffer = 64 * bytesize.MiB
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 256
	}
	if cfg.MaxInflightBytes == 0 {
		cfg.MaxInflightBytes = bytesize.GiB
	}
	if cfg.SignedURLMaxTTL == 0 {
		cfg.SignedURLMaxTTL = 7 * 24 * time.Hour
	}
}

// applyProgressDefaults sets progress registry defaults.
func applyProgressDefaults(cfg *ProgressConfig) {
	if cfg.CoalesceInterval == 0 {
		cfg.CoalesceInterval = 500 * time.Millisecond
	}
	if cfg.RetentionAfterTerminal == 0 {
		cfg.RetentionAfterTerminal = 120 * time.Second
	}
	if cfg.SubscriberBuffer == 0 {
		cfg.SubscriberBuffer = 16
	}
}

// applyRPCDefaults sets RPC front defaults.
// MaxFragmentBytes is left alone: zero means the daemon derives it from the
// transfer chunk ceiling at startup.
func applyRPCDefaults(cfg *rpc.Config) {
	if cfg.Port == 0 {
		cfg.Port = 7420
	}
	if cfg.Timeouts.Read == 0 {
		cfg.Timeouts.Read = 2 * time.Minute
	}
	if cfg.Timeouts.Write == 0 {
		cfg.Timeouts.Write = 30 * time.Second
	}
	if cfg.Timeouts.Idle == 0 {
		cfg.Timeouts.Idle = 5 * time.Minute
	}
	if cfg.Timeouts.Shutdown == 0 {
		cfg.Timeouts.Shutdown = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

// applyGatewayDefaults sets subscription gateway defaults.
func applyGatewayDefaults(cfg *gateway.Config) {
	if cfg.Port == 0 {
		cfg.Port = 7421
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = 32
	}
	if cfg.ReadLimit == 0 {
		cfg.ReadLimit = 4 * int64(bytesize.KiB)
	}
	if cfg.Timeouts.Read == 0 {
		cfg.Timeouts.Read = 30 * time.Second
	}
	if cfg.Timeouts.Write == 0 {
		cfg.Timeouts.Write = 10 * time.Second
	}
	if cfg.Timeouts.Idle == 0 {
		cfg.Timeouts.Idle = 2 * time.Minute
	}
	if cfg.Timeouts.Shutdown == 0 {
		cfg.Timeouts.Shutdown = 30 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Store: StoreConfig{
			Backend: "memory",
		},
		RPC: rpc.Config{
			Enabled: true,
		},
		Gateway: gateway.Config{
			Enabled: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
