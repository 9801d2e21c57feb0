package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// configFileHeader is prepended to generated configuration files.
const configFileHeader = `# FreightCore Configuration File
#
# Values can be overridden with FREIGHT_* environment variables,
# e.g. FREIGHT_LOGGING_LEVEL=DEBUG or FREIGHT_STORE_S3_SECRET_ACCESS_KEY=...
#
# Byte sizes accept human-readable forms ("5MiB", "1Gi", "100MB");
# durations use Go syntax ("30s", "5m", "1h").

`

// InitConfig creates a configuration file with default values at the
// default location ($XDG_CONFIG_HOME/freight/config.yaml).
//
// Returns the path of the created file. Fails if a file already exists
// there, unless force is true.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a configuration file with default values at the
// given path. Fails if a file already exists there, unless force is true.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	content := append([]byte(configFileHeader), data...)
	if err := os.WriteFile(path, content, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
