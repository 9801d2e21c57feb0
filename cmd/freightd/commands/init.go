package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/freightcore/freightcore/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample FreightCore configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/freight/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  freightd init

  # Initialize with custom path
  freightd init --config /etc/freight/config.yaml

  # Force overwrite existing config
  freightd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		// Use custom path
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		// Use default path
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: freightd start")
	fmt.Printf("  3. Or specify custom config: freightd start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  S3 credentials can be kept out of the file entirely:")
	fmt.Println("    export FREIGHT_STORE_S3_ACCESS_KEY_ID=...")
	fmt.Println("    export FREIGHT_STORE_S3_SECRET_ACCESS_KEY=...")

	return nil
}
