// Package commands implements the CLI commands for the freightctl client.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	serverAddr  string
	gatewayAddr string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "freightctl",
	Short: "FreightCore Control - Artifact transfer client",
	Long: `freightctl is the command-line client for a running freightd server.

Use this tool to upload and download artifacts, inspect and manage the
artifact catalog, mint presigned download URLs, and watch live transfer
progress through the subscription gateway.

Artifacts are addressed by coordinate: app/version/platform/filename,
for example myapp/1.4.2/linux-x86_64/myapp.tar.gz.

Use "freightctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:7420", "freightd RPC address (host:port)")
	rootCmd.PersistentFlags().StringVar(&gatewayAddr, "gateway", "localhost:7421", "freightd gateway address (host:port)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(headCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(urlCmd)
	rootCmd.AddCommand(watchCmd)
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
