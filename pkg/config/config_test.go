package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/freightcore/freightcore/internal/bytesize"
)

func TestLoad_DefaultConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Write minimal config
	configContent := `
logging:
  level: "INFO"

store:
  backend: memory

rpc:
  port: 7420
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Load config
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Gateway.Port != 7421 {
		t.Errorf("Expected default gateway port 7421, got %d", cfg.Gateway.Port)
	}
	if cfg.Transfer.MultipartThreshold != 5*bytesize.MiB {
		t.Errorf("Expected default multipart threshold 5MiB, got %v", cfg.Transfer.MultipartThreshold)
	}
	if cfg.Progress.CoalesceInterval != 500*time.Millisecond {
		t.Errorf("Expected default coalesce interval 500ms, got %v", cfg.Progress.CoalesceInterval)
	}
	if !cfg.RPC.Enabled || !cfg.Gateway.Enabled {
		t.Errorf("Expected both fronts enabled by default, got rpc=%v gateway=%v",
			cfg.RPC.Enabled, cfg.Gateway.Enabled)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config.
	// This allows users to run the server without a config file for quick testing.
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}

	// Verify default config is returned
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}

	if cfg.RPC.Port != 7420 {
		t.Errorf("Expected default RPC port 7420, got %d", cfg.RPC.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Expected default store backend 'memory', got %q", cfg.Store.Backend)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	// Write invalid YAML
	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Should return error
	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"
format = "json"

[store]
backend = "memory"

[rpc]
port = 7420
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
}

func TestLoad_ByteSizeStrings(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
store:
  backend: s3
  s3:
    bucket: artifacts
    part_size: 16MiB

transfer:
  multipart_threshold: 10MiB
  max_chunk_bytes: 64Mi
  max_inflight_bytes: 2Gi
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Store.S3.PartSize != 16*bytesize.MiB {
		t.Errorf("Expected part size 16MiB, got %v", cfg.Store.S3.PartSize)
	}
	if cfg.Transfer.MultipartThreshold != 10*bytesize.MiB {
		t.Errorf("Expected multipart threshold 10MiB, got %v", cfg.Transfer.MultipartThreshold)
	}
	if cfg.Transfer.MaxChunkBytes != 64*bytesize.MiB {
		t.Errorf("Expected max chunk bytes 64MiB, got %v", cfg.Transfer.MaxChunkBytes)
	}
	if cfg.Transfer.MaxInflightBytes != 2*bytesize.GiB {
		t.Errorf("Expected max inflight bytes 2GiB, got %v", cfg.Transfer.MaxInflightBytes)
	}
}

func TestLoad_DurationStrings(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
transfer:
  session_idle_timeout: 45m

progress:
  coalesce_interval: 250ms

rpc:
  timeouts:
    read: 90s

gateway:
  heartbeat_interval: 10s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Transfer.SessionIdleTimeout != 45*time.Minute {
		t.Errorf("Expected session idle timeout 45m, got %v", cfg.Transfer.SessionIdleTimeout)
	}
	if cfg.Progress.CoalesceInterval != 250*time.Millisecond {
		t.Errorf("Expected coalesce interval 250ms, got %v", cfg.Progress.CoalesceInterval)
	}
	if cfg.RPC.Timeouts.Read != 90*time.Second {
		t.Errorf("Expected RPC read timeout 90s, got %v", cfg.RPC.Timeouts.Read)
	}
	if cfg.Gateway.HeartbeatInterval != 10*time.Second {
		t.Errorf("Expected gateway heartbeat 10s, got %v", cfg.Gateway.HeartbeatInterval)
	}
}

func TestLoad_DisabledFront(t *testing.T) {
	// An explicit enabled: false must survive loading; an absent key
	// must come out as enabled.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
rpc:
  enabled: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.RPC.Enabled {
		t.Error("Expected RPC front to be disabled")
	}
	if !cfg.Gateway.Enabled {
		t.Error("Expected gateway to stay enabled when its key is absent")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	// Verify all defaults are set
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.RPC.Port != 7420 {
		t.Errorf("Expected default RPC port 7420, got %d", cfg.RPC.Port)
	}
	if cfg.Gateway.Port != 7421 {
		t.Errorf("Expected default gateway port 7421, got %d", cfg.Gateway.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Expected default store backend 'memory', got %q", cfg.Store.Backend)
	}
	if cfg.Store.S3.PartSize != 8*bytesize.MiB {
		t.Errorf("Expected default part size 8MiB, got %v", cfg.Store.S3.PartSize)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()

	if filepath.Base(dir) != "freight" {
		t.Errorf("Expected directory name 'freight', got %q", filepath.Base(dir))
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "saved.yaml")

	orig := GetDefaultConfig()
	orig.Logging.Level = "DEBUG"
	orig.Transfer.MultipartThreshold = 10 * bytesize.MiB
	orig.Gateway.HeartbeatInterval = 15 * time.Second

	if err := SaveConfig(orig, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if loaded.Logging.Level != "DEBUG" {
		t.Errorf("Expected level 'DEBUG' after round trip, got %q", loaded.Logging.Level)
	}
	if loaded.Transfer.MultipartThreshold != 10*bytesize.MiB {
		t.Errorf("Expected multipart threshold 10MiB after round trip, got %v", loaded.Transfer.MultipartThreshold)
	}
	if loaded.Gateway.HeartbeatInterval != 15*time.Second {
		t.Errorf("Expected heartbeat 15s after round trip, got %v", loaded.Gateway.HeartbeatInterval)
	}
	if loaded.RPC.Port != 7420 {
		t.Errorf("Expected RPC port 7420 after round trip, got %d", loaded.RPC.Port)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// Set environment variables
	_ = os.Setenv("FREIGHT_LOGGING_LEVEL", "ERROR")
	_ = os.Setenv("FREIGHT_RPC_PORT", "9999")
	defer func() {
		_ = os.Unsetenv("FREIGHT_LOGGING_LEVEL")
		_ = os.Unsetenv("FREIGHT_RPC_PORT")
	}()

	// Create minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

store:
  backend: memory

rpc:
  port: 7420
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify environment variables override config file
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.RPC.Port != 9999 {
		t.Errorf("Expected port 9999 from env var, got %d", cfg.RPC.Port)
	}
}

func TestLoad_S3CredentialsFromEnvironment(t *testing.T) {
	// Credential keys are bound explicitly, so they override even when
	// absent from the file.
	_ = os.Setenv("FREIGHT_STORE_S3_ACCESS_KEY_ID", "AKIATEST")
	_ = os.Setenv("FREIGHT_STORE_S3_SECRET_ACCESS_KEY", "sekrit")
	defer func() {
		_ = os.Unsetenv("FREIGHT_STORE_S3_ACCESS_KEY_ID")
		_ = os.Unsetenv("FREIGHT_STORE_S3_SECRET_ACCESS_KEY")
	}()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
store:
  backend: s3
  s3:
    bucket: artifacts
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Store.S3.AccessKeyID != "AKIATEST" {
		t.Errorf("Expected access key from env var, got %q", cfg.Store.S3.AccessKeyID)
	}
	if cfg.Store.S3.SecretAccessKey != "sekrit" {
		t.Errorf("Expected secret key from env var, got %q", cfg.Store.S3.SecretAccessKey)
	}
}
