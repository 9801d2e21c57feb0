package commands

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/freightcore/freightcore/internal/bytesize"
	"github.com/freightcore/freightcore/pkg/client"
)

var (
	uploadContentType string
	uploadChunkSize   string
	uploadQuiet       bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file> <app/version/platform[/filename]>",
	Short: "Upload an artifact",
	Long: `Upload a local file to the artifact store.

The destination coordinate is app/version/platform/filename. When the
filename component is omitted it defaults to the base name of the local
file. The server verifies the payload against a SHA-256 digest computed
while uploading, so a corrupted transfer is rejected instead of stored.

Examples:
  # Upload, deriving the stored filename from the local file
  freightctl upload dist/myapp.tar.gz myapp/1.4.2/linux-x86_64

  # Upload under an explicit filename with a MIME type
  freightctl upload build.zip myapp/1.4.2/windows-x86_64/myapp.zip --content-type application/zip`,
	Args: cobra.ExactArgs(2),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadContentType, "content-type", "", "MIME type to store (default: derived from file extension)")
	uploadCmd.Flags().StringVar(&uploadChunkSize, "chunk-size", "", "Override the server's recommended chunk size (e.g. 4Mi)")
	uploadCmd.Flags().BoolVarP(&uploadQuiet, "quiet", "q", false, "Suppress the progress line")
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]

	coord, err := parseUploadCoordinate(args[1], filepath.Base(path))
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	opts := client.UploadOptions{
		DeclaredSize: info.Size(),
		ContentType:  uploadContentType,
	}
	if opts.ContentType == "" {
		opts.ContentType = mime.TypeByExtension(filepath.Ext(path))
	}
	if uploadChunkSize != "" {
		size, err := bytesize.ParseByteSize(uploadChunkSize)
		if err != nil {
			return fmt.Errorf("invalid --chunk-size: %w", err)
		}
		opts.ChunkSize = size.Int64()
	}
	if !uploadQuiet {
		total := info.Size()
		opts.OnProgress = func(sent int64) {
			progressLine("Uploading", sent, total)
		}
	}

	ctx := context.Background()
	c, err := dialClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Upload(ctx, coord, f, opts)
	if !uploadQuiet {
		finishProgressLine()
	}
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	fmt.Printf("Uploaded %s (%s)\n", coord.App+"/"+coord.Version+"/"+coord.Platform+"/"+coord.Filename, humanBytes(info.Size()))
	fmt.Printf("  Location: %s\n", result.Location)
	if result.ETag != "" {
		fmt.Printf("  ETag:     %s\n", result.ETag)
	}
	return nil
}

// parseUploadCoordinate accepts either a full four-part coordinate or a
// three-part one, filling the filename from the local file's base name.
func parseUploadCoordinate(arg, defaultFilename string) (client.Coordinate, error) {
	parts := strings.Split(arg, "/")
	switch len(parts) {
	case 3:
		parts = append(parts, defaultFilename)
	case 4:
	default:
		return client.Coordinate{}, fmt.Errorf(
			"invalid coordinate %q: expected app/version/platform[/filename]", arg)
	}
	for _, p := range parts {
		if p == "" {
			return client.Coordinate{}, fmt.Errorf("invalid coordinate %q: empty component", arg)
		}
	}
	return client.Coordinate{
		App:      parts[0],
		Version:  parts[1],
		Platform: parts[2],
		Filename: parts[3],
	}, nil
}
