package config

import (
	"strings"
	"testing"

	"github.com/freightcore/freightcore/internal/bytesize"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidRPCPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.RPC.Port = 70000 // Out of range

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_NegativePort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Gateway.Port = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for negative port")
	}
}

func TestValidate_InvalidStoreBackend(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Backend = "gcs"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for unknown store backend")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_S3WithoutBucket(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Backend = "s3"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for S3 backend without bucket")
	}
	if !strings.Contains(err.Error(), "bucket") {
		t.Errorf("Expected error about missing bucket, got: %v", err)
	}
}

func TestValidate_S3PartSizeBounds(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Backend = "s3"
	cfg.Store.S3.Bucket = "artifacts"
	cfg.Store.S3.PartSize = bytesize.MiB // Below the S3 minimum

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for part size below 5MiB")
	}
	if !strings.Contains(err.Error(), "part_size") {
		t.Errorf("Expected error about part_size, got: %v", err)
	}

	cfg.Store.S3.PartSize = 6 * bytesize.GiB // Above the S3 maximum
	err = Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for part size above 5GiB")
	}

	cfg.Store.S3.PartSize = 8 * bytesize.MiB
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid part size to pass, got: %v", err)
	}
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for telemetry enabled without endpoint")
	}
	if !strings.Contains(err.Error(), "Endpoint") {
		t.Errorf("Expected error about telemetry endpoint, got: %v", err)
	}
}

func TestValidate_TelemetrySampleRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = "localhost:4317"
	cfg.Telemetry.SampleRate = 1.5 // Out of range (should be 0.0-1.0)

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for sample rate out of range")
	}
}

func TestValidate_RecommendedChunkAboveMax(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Transfer.MaxChunkBytes = bytesize.MiB
	cfg.Transfer.RecommendedChunkBytes = 2 * bytesize.MiB

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for recommended chunk above max")
	}
	if !strings.Contains(err.Error(), "recommended_chunk_bytes") {
		t.Errorf("Expected error about recommended_chunk_bytes, got: %v", err)
	}
}

func TestValidate_LogLevelCase(t *testing.T) {
	// Validation accepts both uppercase and lowercase log levels without
	// normalizing; normalization happens in ApplyDefaults.
	testCases := []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"}

	for _, level := range testCases {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		err := Validate(cfg)
		if err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}

		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}
}

func TestValidate_NilConfig(t *testing.T) {
	err := Validate(nil)
	if err == nil {
		t.Fatal("Expected validation error for nil config")
	}
}
