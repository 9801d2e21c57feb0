package client

import (
	"context"
	"time"

	"github.com/freightcore/freightcore/internal/protocol/freight/rpc"
)

// Coordinate addresses one artifact: an application build for a platform.
type Coordinate struct {
	App      string
	Version  string
	Platform string
	Filename string
}

func (c Coordinate) wire() rpc.Coordinate {
	return rpc.Coordinate{
		App:      c.App,
		Version:  c.Version,
		Platform: c.Platform,
		Filename: c.Filename,
	}
}

// ByteRange selects the half-open window [Start, End) of an artifact.
type ByteRange struct {
	Start int64
	End   int64
}

// ArtifactInfo is stored artifact metadata.
type ArtifactInfo struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
	UpdatedAt   time.Time
}

// ListPage is one page of a listing. NextCursor is empty on the last page.
type ListPage struct {
	Entries    []ArtifactInfo
	NextCursor string
}

// SignedURL is a presigned download URL and its expiry.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// Head fetches metadata for an artifact.
func (c *Client) Head(ctx context.Context, coord Coordinate) (ArtifactInfo, error) {
	var reply rpc.HeadReply
	if err := c.call(ctx, rpc.ProcHead, &rpc.HeadRequest{Coordinate: coord.wire()}, &reply); err != nil {
		return ArtifactInfo{}, err
	}
	return ArtifactInfo{
		Key:         reply.Key,
		Size:        reply.Size,
		ContentType: reply.ContentType,
		ETag:        reply.ETag,
		UpdatedAt:   time.Unix(reply.UpdatedAtUnix, 0),
	}, nil
}

// List pages through stored artifacts under a key prefix. An empty cursor
// starts from the beginning; limit caps the page size, 0 for the server
// default.
func (c *Client) List(ctx context.Context, prefix, cursor string, limit int32) (ListPage, error) {
	var reply rpc.ListReply
	req := &rpc.ListRequest{Prefix: prefix, Cursor: cursor, Limit: limit}
	if err := c.call(ctx, rpc.ProcList, req, &reply); err != nil {
		return ListPage{}, err
	}

	page := ListPage{
		Entries:    make([]ArtifactInfo, 0, len(reply.Entries)),
		NextCursor: reply.NextCursor,
	}
	for _, e := range reply.Entries {
		page.Entries = append(page.Entries, ArtifactInfo{
			Key:         e.Key,
			Size:        e.Size,
			ContentType: e.ContentType,
			ETag:        e.ETag,
			UpdatedAt:   time.Unix(e.UpdatedAtUnix, 0),
		})
	}
	return page, nil
}

// Delete removes an artifact. Returns whether it existed.
func (c *Client) Delete(ctx context.Context, coord Coordinate) (bool, error) {
	var reply rpc.DeleteReply
	if err := c.call(ctx, rpc.ProcDelete, &rpc.DeleteRequest{Coordinate: coord.wire()}, &reply); err != nil {
		return false, err
	}
	return reply.Deleted, nil
}

// GetSignedURL asks the server for a presigned download URL valid for ttl.
func (c *Client) GetSignedURL(ctx context.Context, coord Coordinate, ttl time.Duration) (SignedURL, error) {
	var reply rpc.SignedURLReply
	req := &rpc.SignedURLRequest{
		Coordinate: coord.wire(),
		TTLSeconds: uint32(ttl / time.Second),
	}
	if err := c.call(ctx, rpc.ProcGetSignedURL, req, &reply); err != nil {
		return SignedURL{}, err
	}
	return SignedURL{URL: reply.URL, ExpiresAt: time.Unix(reply.ExpiresAtUnix, 0)}, nil
}
