package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/freightcore/freightcore/pkg/client"
)

var watchRPC bool

var watchCmd = &cobra.Command{
	Use:   "watch <operation-id>",
	Short: "Watch live progress of a transfer",
	Long: `Watch an upload or download operation's progress until it finishes.

Snapshots stream over the WebSocket gateway by default; --rpc switches
to the RPC subscription stream instead. A late watch starts from the
operation's current state, so joining mid-transfer still shows where
it stands.

Examples:
  # Watch over the gateway
  freightctl watch 01J9GX2K7V3M4N5P6Q7R8S9T0A

  # Watch over the RPC front
  freightctl watch 01J9GX2K7V3M4N5P6Q7R8S9T0A --rpc`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchRPC, "rpc", false, "Subscribe over the RPC front instead of the gateway")
}

func runWatch(cmd *cobra.Command, args []string) error {
	operationID := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var last client.ProgressSnapshot
	onSnapshot := func(snap client.ProgressSnapshot) error {
		last = snap
		printSnapshot(snap)
		return nil
	}

	var err error
	if watchRPC {
		var c *client.Client
		c, err = dialClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()
		err = c.SubscribeProgress(ctx, operationID, onSnapshot)
	} else {
		err = client.WatchOperation(ctx, gatewayAddr, operationID, onSnapshot)
	}
	finishProgressLine()

	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("Interrupted.")
			return nil
		}
		return fmt.Errorf("watch failed: %w", err)
	}

	if last.Status == "failed" {
		return fmt.Errorf("operation %s failed: %s", operationID, emptyOr(last.Error, "unknown error"))
	}
	return nil
}

// printSnapshot rewrites the terminal line with the snapshot's state.
func printSnapshot(snap client.ProgressSnapshot) {
	line := fmt.Sprintf("\r%-11s %s", snap.Status, humanBytes(snap.BytesProcessed))
	if snap.BytesTotal > 0 {
		line += fmt.Sprintf(" / %s (%3.0f%%)",
			humanBytes(snap.BytesTotal),
			float64(snap.BytesProcessed)/float64(snap.BytesTotal)*100)
	}
	if snap.SpeedBPS > 0 && !snap.Terminal() {
		line += fmt.Sprintf("  %s", humanSpeed(snap.SpeedBPS))
	}
	if snap.ETASeconds > 0 && !snap.Terminal() {
		line += fmt.Sprintf("  ETA %ds", snap.ETASeconds)
	}
	if snap.Message != "" {
		line += "  " + snap.Message
	}
	// Pad over leftovers from a longer previous line.
	fmt.Fprintf(os.Stderr, "%-80s", line)
}
