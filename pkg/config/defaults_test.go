package config

import (
	"testing"
	"time"

	"github.com/freightcore/freightcore/internal/bytesize"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_Telemetry(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Telemetry.Enabled {
		t.Error("Expected telemetry disabled by default")
	}
	if cfg.Telemetry.Endpoint != "localhost:4317" {
		t.Errorf("Expected default OTLP endpoint, got %q", cfg.Telemetry.Endpoint)
	}
	if cfg.Telemetry.SampleRate != 1.0 {
		t.Errorf("Expected default sample rate 1.0, got %v", cfg.Telemetry.SampleRate)
	}
	if cfg.Telemetry.ServiceName != "freightd" {
		t.Errorf("Expected default service name 'freightd', got %q", cfg.Telemetry.ServiceName)
	}
	if cfg.Telemetry.Profiling.Endpoint != "http://localhost:4040" {
		t.Errorf("Expected default Pyroscope endpoint, got %q", cfg.Telemetry.Profiling.Endpoint)
	}
	if len(cfg.Telemetry.Profiling.ProfileTypes) == 0 {
		t.Error("Expected default profile types to be set")
	}
}

func TestApplyDefaults_Store(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Store.Backend != "memory" {
		t.Errorf("Expected default store backend 'memory', got %q", cfg.Store.Backend)
	}
	if cfg.Store.S3.PartSize != 8*bytesize.MiB {
		t.Errorf("Expected default part size 8MiB, got %v", cfg.Store.S3.PartSize)
	}
}

func TestApplyDefaults_Transfer(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Transfer.MultipartThreshold != 5*bytesize.MiB {
		t.Errorf("Expected default multipart threshold 5MiB, got %v", cfg.Transfer.MultipartThreshold)
	}
	if cfg.Transfer.MaxChunkBytes != 32*bytesize.MiB {
		t.Errorf("Expected default max chunk bytes 32MiB, got %v", cfg.Transfer.MaxChunkBytes)
	}
	if cfg.Transfer.RecommendedChunkBytes != 256*bytesize.KiB {
		t.Errorf("Expected default recommended chunk 256KiB, got %v", cfg.Transfer.RecommendedChunkBytes)
	}
	if cfg.Transfer.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("Expected default session idle timeout 30m, got %v", cfg.Transfer.SessionIdleTimeout)
	}
	if cfg.Transfer.MaxSessions != 256 {
		t.Errorf("Expected default max sessions 256, got %d", cfg.Transfer.MaxSessions)
	}
	if cfg.Transfer.MaxInflightBytes != bytesize.GiB {
		t.Errorf("Expected default max inflight 1GiB, got %v", cfg.Transfer.MaxInflightBytes)
	}
	if cfg.Transfer.SignedURLMaxTTL != 7*24*time.Hour {
		t.Errorf("Expected default signed URL TTL 7d, got %v", cfg.Transfer.SignedURLMaxTTL)
	}
}

func TestApplyDefaults_Progress(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Progress.CoalesceInterval != 500*time.Millisecond {
		t.Errorf("Expected default coalesce interval 500ms, got %v", cfg.Progress.CoalesceInterval)
	}
	if cfg.Progress.RetentionAfterTerminal != 120*time.Second {
		t.Errorf("Expected default retention 120s, got %v", cfg.Progress.RetentionAfterTerminal)
	}
	if cfg.Progress.SubscriberBuffer != 16 {
		t.Errorf("Expected default subscriber buffer 16, got %d", cfg.Progress.SubscriberBuffer)
	}
}

func TestApplyDefaults_RPC(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.RPC.Port != 7420 {
		t.Errorf("Expected default RPC port 7420, got %d", cfg.RPC.Port)
	}
	if cfg.RPC.Timeouts.Read != 2*time.Minute {
		t.Errorf("Expected default read timeout 2m, got %v", cfg.RPC.Timeouts.Read)
	}
	if cfg.RPC.Timeouts.Write != 30*time.Second {
		t.Errorf("Expected default write timeout 30s, got %v", cfg.RPC.Timeouts.Write)
	}
	if cfg.RPC.Timeouts.Idle != 5*time.Minute {
		t.Errorf("Expected default idle timeout 5m, got %v", cfg.RPC.Timeouts.Idle)
	}
	if cfg.RPC.Timeouts.Shutdown != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.RPC.Timeouts.Shutdown)
	}
	// Zero means the daemon derives it from the transfer chunk ceiling
	if cfg.RPC.MaxFragmentBytes != 0 {
		t.Errorf("Expected max fragment bytes to stay 0, got %d", cfg.RPC.MaxFragmentBytes)
	}
}

func TestApplyDefaults_Gateway(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Gateway.Port != 7421 {
		t.Errorf("Expected default gateway port 7421, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.HeartbeatInterval != 30*time.Second {
		t.Errorf("Expected default heartbeat 30s, got %v", cfg.Gateway.HeartbeatInterval)
	}
	if cfg.Gateway.SendBuffer != 32 {
		t.Errorf("Expected default send buffer 32, got %d", cfg.Gateway.SendBuffer)
	}
	if cfg.Gateway.ReadLimit != 4096 {
		t.Errorf("Expected default read limit 4096, got %d", cfg.Gateway.ReadLimit)
	}
	if cfg.Gateway.Timeouts.Shutdown != 30*time.Second {
		t.Errorf("Expected default gateway shutdown timeout 30s, got %v", cfg.Gateway.Timeouts.Shutdown)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: "/var/log/freightd.log",
		},
		ShutdownTimeout: 60 * time.Second,
		Store: StoreConfig{
			Backend: "s3",
			S3: S3StoreConfig{
				Bucket:   "artifacts",
				PartSize: 16 * bytesize.MiB,
			},
		},
		Transfer: TransferConfig{
			MultipartThreshold: 10 * bytesize.MiB,
		},
	}

	ApplyDefaults(cfg)

	// Verify explicit values were preserved
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level 'DEBUG' to be preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected explicit format 'json' to be preserved, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "/var/log/freightd.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected explicit timeout 60s to be preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Store.Backend != "s3" {
		t.Errorf("Expected explicit backend 's3' to be preserved, got %q", cfg.Store.Backend)
	}
	if cfg.Store.S3.PartSize != 16*bytesize.MiB {
		t.Errorf("Expected explicit part size to be preserved, got %v", cfg.Store.S3.PartSize)
	}
	if cfg.Transfer.MultipartThreshold != 10*bytesize.MiB {
		t.Errorf("Expected explicit threshold to be preserved, got %v", cfg.Transfer.MultipartThreshold)
	}
	// Remaining transfer fields still get defaults
	if cfg.Transfer.MaxChunkBytes != 32*bytesize.MiB {
		t.Errorf("Expected default max chunk bytes alongside explicit threshold, got %v", cfg.Transfer.MaxChunkBytes)
	}
}

func TestApplyDefaults_NormalizesLogLevel(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected ApplyDefaults to normalize 'info' to 'INFO', got %q", cfg.Logging.Level)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	// The default config should pass validation
	err := Validate(cfg)
	if err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}

func TestGetDefaultConfig_HasRequiredFields(t *testing.T) {
	cfg := GetDefaultConfig()

	// Check all required sections are present
	if cfg.Logging.Level == "" {
		t.Error("Default config missing logging level")
	}
	if cfg.RPC.Port == 0 {
		t.Error("Default config missing RPC port")
	}
	if cfg.Gateway.Port == 0 {
		t.Error("Default config missing gateway port")
	}
	if cfg.Store.Backend == "" {
		t.Error("Default config missing store backend")
	}
}
