package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/freightcore/freightcore/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the FreightCore configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  freightd config validate

  # Validate specific config file
  freightd config validate --config /etc/freight/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	// Load and validate configuration
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	// Determine path for display
	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	// Additional checks that are legal but probably not what the operator
	// wants in production.
	var warnings []string

	if cfg.Store.Backend == "memory" {
		warnings = append(warnings, "store backend is 'memory' - artifacts are lost on restart")
	}
	if cfg.Store.Backend == "s3" && cfg.Store.S3.AccessKeyID == "" && cfg.Store.S3.SecretAccessKey == "" {
		warnings = append(warnings, "no static S3 credentials configured - the SDK default chain must resolve them")
	}
	if !cfg.RPC.Enabled {
		warnings = append(warnings, "RPC front disabled - uploads and downloads are unavailable")
	}
	if !cfg.Gateway.Enabled {
		warnings = append(warnings, "gateway disabled - WebSocket progress subscriptions and /metrics are unavailable")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Configuration is valid.")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	return nil
}
