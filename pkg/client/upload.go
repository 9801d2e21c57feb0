package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/freightcore/freightcore/internal/protocol/freight/rpc"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// InitiateOptions parameterizes Initiate.
type InitiateOptions struct {
	// DeclaredSize is the expected payload size in bytes. 0 means unknown;
	// the server then caps the upload at its direct-buffer limit.
	DeclaredSize int64

	// ContentType is stored as the artifact's MIME type.
	ContentType string

	// ExpectedDigest is the hex SHA-256 the server verifies at commit.
	// Optional; Commit can also supply it.
	ExpectedDigest string
}

// UploadSession describes an opened upload session.
type UploadSession struct {
	SessionID            string
	RecommendedChunkSize int64
	Multipart            bool
}

// UploadSummary is the running ingest summary after a chunk.
type UploadSummary struct {
	SessionID      string
	ChunksAccepted uint64
	BytesReceived  int64
}

// CommitResult reports the stored object.
type CommitResult struct {
	Location string
	ETag     string
}

// UploadOptions parameterizes the high-level Upload helper.
type UploadOptions struct {
	// DeclaredSize is the source size in bytes, 0 when unknown. Declaring
	// the size lets the server pick multipart for large payloads.
	DeclaredSize int64

	// ContentType is stored as the artifact's MIME type.
	ContentType string

	// ChunkSize overrides the server's recommended chunk size.
	ChunkSize int64

	// OnProgress, when set, observes the byte count sent after each chunk.
	OnProgress func(sent int64)
}

// Initiate opens an upload session for an artifact.
func (c *Client) Initiate(ctx context.Context, coord Coordinate, opts InitiateOptions) (UploadSession, error) {
	var reply rpc.InitiateReply
	req := &rpc.InitiateRequest{
		Coordinate:     coord.wire(),
		DeclaredSize:   opts.DeclaredSize,
		ContentType:    opts.ContentType,
		ExpectedDigest: opts.ExpectedDigest,
	}
	if err := c.call(ctx, rpc.ProcInitiate, req, &reply); err != nil {
		return UploadSession{}, err
	}
	return UploadSession{
		SessionID:            reply.SessionID,
		RecommendedChunkSize: reply.RecommendedChunkSize,
		Multipart:            reply.Multipart,
	}, nil
}

// UploadChunk sends one chunk of session payload. Sequences are 1-based
// and strictly increasing; final marks the last chunk. A CRC32-C checksum
// over the payload is attached so the server can verify it on the way in.
func (c *Client) UploadChunk(ctx context.Context, sessionID string, sequence uint64, payload []byte, final bool) (UploadSummary, error) {
	var reply rpc.UploadChunkReply
	req := &rpc.UploadChunkRequest{
		SessionID: sessionID,
		Sequence:  sequence,
		IsFinal:   final,
		Checksum:  crc32.Checksum(payload, castagnoli),
		Payload:   payload,
	}
	if err := c.call(ctx, rpc.ProcUploadChunk, req, &reply); err != nil {
		return UploadSummary{}, err
	}
	return UploadSummary{
		SessionID:      reply.SessionID,
		ChunksAccepted: reply.ChunksAccepted,
		BytesReceived:  reply.BytesReceived,
	}, nil
}

// Commit finalizes a session, making the artifact visible. expectedDigest,
// when non-empty, overrides the digest declared at initiation.
func (c *Client) Commit(ctx context.Context, sessionID, expectedDigest string) (CommitResult, error) {
	var reply rpc.CommitReply
	req := &rpc.CommitRequest{SessionID: sessionID, ExpectedDigest: expectedDigest}
	if err := c.call(ctx, rpc.ProcCommit, req, &reply); err != nil {
		return CommitResult{}, err
	}
	return CommitResult{Location: reply.Location, ETag: reply.ETag}, nil
}

// Abort cancels an open session, discarding everything received for it.
func (c *Client) Abort(ctx context.Context, sessionID, reason string) error {
	return c.call(ctx, rpc.ProcAbort, &rpc.AbortRequest{SessionID: sessionID, Reason: reason}, nil)
}

// Upload streams r into a new artifact: it opens a session, sends the
// payload in chunks, and commits with the SHA-256 computed while reading.
//
// On a chunk or read failure the session is aborted best-effort before the
// error is returned.
func (c *Client) Upload(ctx context.Context, coord Coordinate, r io.Reader, opts UploadOptions) (CommitResult, error) {
	sess, err := c.Initiate(ctx, coord, InitiateOptions{
		DeclaredSize: opts.DeclaredSize,
		ContentType:  opts.ContentType,
	})
	if err != nil {
		return CommitResult{}, err
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = sess.RecommendedChunkSize
	}
	if chunkSize <= 0 {
		chunkSize = 256 << 10
	}

	hasher := sha256.New()
	buf := make([]byte, chunkSize)
	var sequence uint64
	var sent int64

	for {
		n, rerr := io.ReadFull(r, buf)
		eof := rerr == io.EOF || rerr == io.ErrUnexpectedEOF

		if n > 0 {
			sequence++
			hasher.Write(buf[:n])
			if _, err := c.UploadChunk(ctx, sess.SessionID, sequence, buf[:n], eof); err != nil {
				_ = c.Abort(ctx, sess.SessionID, "chunk upload failed")
				return CommitResult{}, err
			}
			sent += int64(n)
			if opts.OnProgress != nil {
				opts.OnProgress(sent)
			}
		}

		if eof {
			break
		}
		if rerr != nil {
			_ = c.Abort(ctx, sess.SessionID, "source read failed")
			return CommitResult{}, fmt.Errorf("read upload source: %w", rerr)
		}
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	res, err := c.Commit(ctx, sess.SessionID, digest)
	if err != nil {
		return CommitResult{}, err
	}
	return res, nil
}
