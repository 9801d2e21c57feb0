package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/freightcore/freightcore/pkg/client"
)

var listLimit int32

var listCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List stored artifacts",
	Long: `List artifacts stored on the server, newest page first by key order.

The optional prefix narrows the listing by leading coordinate
components: "myapp" lists every artifact of an application,
"myapp/1.4.2" one release, "myapp/1.4.2/linux-x86_64" one platform.
Paging cursors are followed transparently up to --limit entries.

Examples:
  # Everything
  freightctl list

  # One release across platforms
  freightctl list myapp/1.4.2`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

func init() {
	listCmd.Flags().Int32Var(&listLimit, "limit", 0, "Stop after this many entries (0 = no cap)")
}

func runList(cmd *cobra.Command, args []string) error {
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}

	ctx := context.Background()
	c, err := dialClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	var entries []client.ArtifactInfo
	cursor := ""
	for {
		pageLimit := int32(0)
		if listLimit > 0 {
			pageLimit = listLimit - int32(len(entries))
		}

		page, err := c.List(ctx, prefix, cursor, pageLimit)
		if err != nil {
			return fmt.Errorf("failed to list artifacts: %w", err)
		}
		entries = append(entries, page.Entries...)

		if page.NextCursor == "" || (listLimit > 0 && int32(len(entries)) >= listLimit) {
			break
		}
		cursor = page.NextCursor
	}
	if listLimit > 0 && int32(len(entries)) > listLimit {
		entries = entries[:listLimit]
	}

	if len(entries) == 0 {
		fmt.Println("No artifacts found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"KEY", "SIZE", "CONTENT TYPE", "UPDATED"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, e := range entries {
		table.Append([]string{
			e.Key,
			humanBytes(e.Size),
			emptyOr(e.ContentType, "-"),
			e.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()

	return nil
}
