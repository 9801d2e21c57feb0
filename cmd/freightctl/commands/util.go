package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/freightcore/freightcore/internal/bytesize"
	"github.com/freightcore/freightcore/pkg/client"
)

// dialTimeout bounds the initial connection to the server.
const dialTimeout = 10 * time.Second

// dialClient connects to the freightd RPC front named by --server.
func dialClient(ctx context.Context) (*client.Client, error) {
	c, err := client.Dial(ctx, client.Config{
		Address:     serverAddr,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to freightd at %s: %w", serverAddr, err)
	}
	return c, nil
}

// parseCoordinate parses an app/version/platform/filename argument.
func parseCoordinate(arg string) (client.Coordinate, error) {
	parts := strings.Split(arg, "/")
	if len(parts) != 4 {
		return client.Coordinate{}, fmt.Errorf(
			"invalid coordinate %q: expected app/version/platform/filename", arg)
	}
	for _, p := range parts {
		if p == "" {
			return client.Coordinate{}, fmt.Errorf(
				"invalid coordinate %q: empty component", arg)
		}
	}
	return client.Coordinate{
		App:      parts[0],
		Version:  parts[1],
		Platform: parts[2],
		Filename: parts[3],
	}, nil
}

// humanBytes renders a byte count for terminal output.
func humanBytes(n int64) string {
	if n < 0 {
		return "-"
	}
	return bytesize.ByteSize(n).String()
}

// humanSpeed renders a bytes-per-second rate.
func humanSpeed(bps float64) string {
	if bps <= 0 {
		return "-"
	}
	return bytesize.ByteSize(bps).String() + "/s"
}

// progressLine rewrites one terminal line with transfer progress. total may
// be 0 when the size is unknown.
func progressLine(verb string, done, total int64) {
	if total > 0 {
		fmt.Fprintf(os.Stderr, "\r%s %s / %s (%3.0f%%)",
			verb, humanBytes(done), humanBytes(total), float64(done)/float64(total)*100)
	} else {
		fmt.Fprintf(os.Stderr, "\r%s %s", verb, humanBytes(done))
	}
}

// finishProgressLine terminates the progress line started by progressLine.
func finishProgressLine() {
	fmt.Fprintln(os.Stderr)
}
