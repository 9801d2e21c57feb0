package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var urlTTL time.Duration

var urlCmd = &cobra.Command{
	Use:   "url <app/version/platform/filename>",
	Short: "Mint a presigned download URL",
	Long: `Mint a presigned URL for downloading an artifact directly from the
backing object store, bypassing the server for the payload bytes.

The URL is only available when the server runs on a backend that
supports presigning (S3). The in-memory backend rejects the request.

Examples:
  freightctl url myapp/1.4.2/linux-x86_64/myapp.tar.gz --ttl 1h`,
	Args: cobra.ExactArgs(1),
	RunE: runURL,
}

func init() {
	urlCmd.Flags().DurationVar(&urlTTL, "ttl", 15*time.Minute, "How long the URL stays valid")
}

func runURL(cmd *cobra.Command, args []string) error {
	coord, err := parseCoordinate(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	c, err := dialClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	signed, err := c.GetSignedURL(ctx, coord, urlTTL)
	if err != nil {
		return fmt.Errorf("failed to mint signed URL: %w", err)
	}

	fmt.Println(signed.URL)
	fmt.Fprintf(cmd.ErrOrStderr(), "Expires: %s\n", signed.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}
