package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var headCmd = &cobra.Command{
	Use:   "head <app/version/platform/filename>",
	Short: "Show artifact metadata",
	Long: `Show the stored metadata of an artifact without downloading it.

Examples:
  freightctl head myapp/1.4.2/linux-x86_64/myapp.tar.gz`,
	Args: cobra.ExactArgs(1),
	RunE: runHead,
}

func runHead(cmd *cobra.Command, args []string) error {
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

	info, err := c.Head(ctx, coord)
	if err != nil {
		return fmt.Errorf("failed to head artifact: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(":")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.Append([]string{"Key", info.Key})
	table.Append([]string{"Size", fmt.Sprintf("%d (%s)", info.Size, humanBytes(info.Size))})
	table.Append([]string{"Content Type", emptyOr(info.ContentType, "-")})
	table.Append([]string{"ETag", emptyOr(info.ETag, "-")})
	table.Append([]string{"Updated", info.UpdatedAt.Local().Format("2006-01-02 15:04:05")})
	table.Render()

	return nil
}

// emptyOr substitutes fallback for an empty table cell.
func emptyOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
