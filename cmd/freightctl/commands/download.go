package commands

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/freightcore/freightcore/pkg/client"
)

var (
	downloadOutput string
	downloadRange  string
	downloadQuiet  bool
)

var downloadCmd = &cobra.Command{
	Use:   "download <app/version/platform/filename>",
	Short: "Download an artifact",
	Long: `Download an artifact from the store into a local file.

By default the artifact is written to its filename component in the
current directory. Use -o to pick a different destination, or "-o -"
to stream to stdout. --range selects a half-open byte window of the
artifact; leave the end empty to read to the end.

Examples:
  # Download into ./myapp.tar.gz
  freightctl download myapp/1.4.2/linux-x86_64/myapp.tar.gz

  # Download the first MiB of an artifact to stdout
  freightctl download myapp/1.4.2/linux-x86_64/myapp.tar.gz --range 0-1048576 -o -`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "Destination path (\"-\" for stdout, default: artifact filename)")
	downloadCmd.Flags().StringVar(&downloadRange, "range", "", "Byte range start-end (half-open), e.g. 0-1024 or 1024-")
	downloadCmd.Flags().BoolVarP(&downloadQuiet, "quiet", "q", false, "Suppress the progress line")
}

func runDownload(cmd *cobra.Command, args []string) error {
	coord, err := parseCoordinate(args[0])
	if err != nil {
		return err
	}

	rng, err := parseByteRange(downloadRange)
	if err != nil {
		return err
	}

	dest := downloadOutput
	if dest == "" {
		dest = coord.Filename
	}

	var out *os.File
	toStdout := dest == "-"
	if toStdout {
		out = os.Stdout
	} else {
		out, err = os.Create(dest)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", dest, err)
		}
		defer out.Close()
	}

	ctx := context.Background()
	c, err := dialClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	var w = progressWriter{dst: out}
	showProgress := !downloadQuiet && !toStdout
	if showProgress {
		w.report = progressLine
		// A quick Head gives the progress line a total to report against.
		// The download itself surfaces a missing artifact, so a Head
		// failure is not fatal here.
		if info, herr := c.Head(ctx, coord); herr == nil {
			w.total = selectedLength(info.Size, rng)
		}
	}

	stats, err := c.Download(ctx, coord, rng, &w)
	if showProgress {
		finishProgressLine()
	}
	if err != nil {
		if !toStdout {
			os.Remove(dest)
		}
		return fmt.Errorf("download failed: %w", err)
	}

	if !toStdout {
		fmt.Printf("Downloaded %s (%s) to %s\n", args[0], humanBytes(stats.BytesReceived), dest)
	}
	return nil
}

// parseByteRange parses "start-end" into a half-open range. An empty end
// means to the end of the artifact.
func parseByteRange(s string) (*client.ByteRange, error) {
	if s == "" {
		return nil, nil
	}

	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return nil, fmt.Errorf("invalid --range %q: expected start-end", s)
	}

	var rng client.ByteRange
	var err error
	if rng.Start, err = strconv.ParseInt(start, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid --range start %q: %w", start, err)
	}
	if end == "" {
		// Server clamps the end to the artifact size.
		rng.End = math.MaxInt64
	} else if rng.End, err = strconv.ParseInt(end, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid --range end %q: %w", end, err)
	}
	if rng.Start < 0 || rng.End <= rng.Start {
		return nil, fmt.Errorf("invalid --range %q: window is empty or inverted", s)
	}
	return &rng, nil
}

// selectedLength computes how many bytes a download will carry: the whole
// object, or the range window clamped to the object size.
func selectedLength(size int64, rng *client.ByteRange) int64 {
	if rng == nil {
		return size
	}
	end := rng.End
	if end > size {
		end = size
	}
	if end <= rng.Start {
		return 0
	}
	return end - rng.Start
}

// progressWriter counts bytes through to dst and reports after each write.
type progressWriter struct {
	dst     *os.File
	total   int64
	written int64
	report  func(verb string, done, total int64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.written += int64(n)
	if w.report != nil {
		w.report("Downloading", w.written, w.total)
	}
	return n, err
}
