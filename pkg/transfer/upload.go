package transfer

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/google/uuid"

	"github.com/freightcore/freightcore/internal/logger"
	"github.com/freightcore/freightcore/internal/telemetry"
	"github.com/freightcore/freightcore/pkg/fault"
	"github.com/freightcore/freightcore/pkg/objstore"
	"github.com/freightcore/freightcore/pkg/session"
)

// castagnoli is the table for the optional per-chunk CRC-32C checksum.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// InitiateOptions carries the optional upload parameters.
type InitiateOptions struct {
	// DeclaredSize is the announced total byte count, 0 when unknown.
	// Sizes above the multipart threshold select multipart mode.
	DeclaredSize int64

	// ContentType is an optional MIME hint stored with the object.
	ContentType string

	// ExpectedDigest is an optional hex SHA-256 verified at commit.
	ExpectedDigest string
}

// InitiateResult describes the opened session.
type InitiateResult struct {
	SessionID             string
	RecommendedChunkBytes int64
	Multipart             bool
}

// Chunk is one inbound upload chunk.
type Chunk struct {
	SessionID string

	// Sequence is 1-based and strictly increasing. Gaps and duplicates
	// are rejected.
	Sequence uint64

	Payload []byte

	// IsFinal signals the last chunk. Commit is still required.
	IsFinal bool

	// Checksum is an optional CRC-32C of Payload, 0 when absent.
	Checksum uint32
}

// Summary is the running state returned after each accepted chunk.
type Summary struct {
	SessionID      string
	ChunksAccepted uint64
	BytesReceived  int64
}

// CommitResult identifies the stored artifact.
type CommitResult struct {
	Location string
	ETag     string
}

// Initiate opens an upload session for the coordinate. The transfer mode
// is fixed here: declared sizes above the multipart threshold stream parts
// to the backend, everything else buffers and lands with a single put.
func (s *Service) Initiate(ctx context.Context, coordinate objstore.Coordinate, opts InitiateOptions) (res InitiateResult, err error) {
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanTransferInitiate,
		telemetry.StorageKey(coordinate.Key()),
		telemetry.Size(opts.DeclaredSize))
	defer span.End()
	defer func() { telemetry.RecordError(ctx, err) }()

	if err = coordinate.Validate(); err != nil {
		return InitiateResult{}, err
	}
	if opts.DeclaredSize < 0 {
		return InitiateResult{}, fault.NewInvalid("declared size must not be negative")
	}
	if opts.ExpectedDigest != "" && !isHexDigest(opts.ExpectedDigest) {
		return InitiateResult{}, fault.NewInvalid("expected digest must be a 64-character hex SHA-256")
	}

	mode := session.ModeDirect
	if opts.DeclaredSize > s.cfg.MultipartThreshold {
		mode = session.ModeMultipart
	}

	id := uuid.NewString()
	sess := session.New(id, coordinate, mode, session.Options{
		DeclaredSize:   opts.DeclaredSize,
		ContentType:    opts.ContentType,
		ExpectedDigest: strings.ToLower(opts.ExpectedDigest),
	})
	if err = s.sessions.Add(sess); err != nil {
		return InitiateResult{}, err
	}

	if mode == session.ModeMultipart {
		uploadID, merr := s.store.CreateMultipart(ctx, coordinate.Key(), opts.ContentType)
		if merr != nil {
			s.sessions.Remove(id)
			err = merr
			return InitiateResult{}, err
		}
		sess.SetUploadID(uploadID)
	}

	// The progress record attaches last so rejected initiations never
	// publish one.
	sess.SetProgress(s.registry.Open(id, opts.DeclaredSize))

	if s.metrics != nil {
		s.metrics.RecordUploadStarted(string(mode))
	}
	logger.Info("Upload session opened",
		"sessionID", id,
		"artifact", coordinate.String(),
		"mode", mode,
		"declaredSize", opts.DeclaredSize)

	return InitiateResult{
		SessionID:             id,
		RecommendedChunkBytes: s.cfg.RecommendedChunkBytes,
		Multipart:             mode == session.ModeMultipart,
	}, nil
}

// IngestChunk validates and applies one chunk. Rejections leave the
// session unchanged; store failures while flushing parts terminate it.
func (s *Service) IngestChunk(ctx context.Context, chunk Chunk) (Summary, error) {
	if len(chunk.Payload) == 0 {
		return Summary{}, fault.NewInvalid("chunk payload must not be empty")
	}
	if int64(len(chunk.Payload)) > s.cfg.MaxChunkBytes {
		return Summary{}, fault.NewInvalidf("chunk of %d bytes exceeds the %d byte maximum",
			len(chunk.Payload), s.cfg.MaxChunkBytes)
	}
	if chunk.Checksum != 0 {
		if got := crc32.Checksum(chunk.Payload, castagnoli); got != chunk.Checksum {
			return Summary{}, fault.NewInvalidf("chunk %d checksum mismatch: declared %08x, computed %08x",
				chunk.Sequence, chunk.Checksum, got)
		}
	}

	sess, err := s.sessions.Get(chunk.SessionID)
	if err != nil {
		return Summary{}, err
	}

	sess.AcquireWriter()
	defer sess.ReleaseWriter()

	if err := s.checkCapacity(sess, int64(len(chunk.Payload))); err != nil {
		return Summary{}, err
	}
	if err := sess.Accept(chunk.Sequence, chunk.Payload, chunk.IsFinal); err != nil {
		return Summary{}, err
	}

	if h := sess.Progress(); h != nil {
		h.Advance(int64(len(chunk.Payload)), "")
	}
	if s.metrics != nil {
		s.metrics.RecordChunkAccepted(len(chunk.Payload))
	}

	if sess.Mode() == session.ModeMultipart {
		if err := s.flushParts(ctx, sess, false); err != nil {
			s.failUpload(ctx, sess, failLabel(err))
			return Summary{}, err
		}
	}

	v := sess.View()
	return Summary{
		SessionID:      v.ID,
		ChunksAccepted: v.NextSequence - 1,
		BytesReceived:  v.BytesReceived,
	}, nil
}

// Commit finalizes the upload: the digest is verified before any bytes
// become visible, then the buffered payload is put (direct) or the
// multipart upload is completed (multipart). The session ends terminal
// either way.
func (s *Service) Commit(ctx context.Context, sessionID, expectedDigest string) (res CommitResult, err error) {
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanTransferCommit,
		telemetry.SessionID(sessionID))
	defer span.End()
	defer func() { telemetry.RecordError(ctx, err) }()

	if expectedDigest != "" && !isHexDigest(expectedDigest) {
		return CommitResult{}, fault.NewInvalid("expected digest must be a 64-character hex SHA-256")
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return CommitResult{}, err
	}

	sess.AcquireWriter()
	defer sess.ReleaseWriter()

	if err = sess.BeginCommit(); err != nil {
		return CommitResult{}, err
	}

	expected := strings.ToLower(expectedDigest)
	if expected == "" {
		expected = sess.ExpectedDigest()
	}
	computed := sess.Digest()
	if expected != "" && expected != computed {
		err = fault.NewIntegrity(sessionID, expected, computed)
		s.failUpload(ctx, sess, "digest_mismatch")
		return CommitResult{}, err
	}

	key := sess.Coordinate().Key()
	var put objstore.PutResult
	switch sess.Mode() {
	case session.ModeDirect:
		data := sess.BufferBytes()
		put, err = s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)),
			sess.ContentType(), map[string]string{"sha256": computed})
	case session.ModeMultipart:
		if err = s.flushParts(ctx, sess, true); err == nil {
			put, err = s.store.CompleteMultipart(ctx, key, sess.UploadID(), sess.Parts())
		}
	}
	if err != nil {
		s.failUpload(ctx, sess, failLabel(err))
		return CommitResult{}, err
	}

	sess.Complete()
	if h := sess.Progress(); h != nil {
		h.Complete("")
	}
	if s.metrics != nil {
		s.metrics.RecordUploadFinished(string(sess.Mode()), "committed", sess.BytesReceived(), sess.LastActivity().Sub(sess.StartedAt()))
	}
	logger.Info("Upload committed",
		"sessionID", sessionID,
		"artifact", key,
		"mode", sess.Mode(),
		"bytes", sess.BytesReceived(),
		"etag", put.ETag,
		"sha256", computed)

	return CommitResult{Location: put.Location, ETag: put.ETag}, nil
}

// Abort cancels an upload from Open or Committing. Adapter cleanup is
// best-effort; the failure reason reaches subscribers via progress.
func (s *Service) Abort(ctx context.Context, sessionID, reason string) (err error) {
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanTransferAbort,
		telemetry.SessionID(sessionID))
	defer span.End()
	defer func() { telemetry.RecordError(ctx, err) }()

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "aborted"
	}
	return s.abortSession(ctx, sess, reason, "aborted")
}

// checkCapacity enforces the direct-mode buffer bounds before a chunk is
// accepted, so rejected chunks leave the session untouched.
func (s *Service) checkCapacity(sess *session.Session, incoming int64) error {
	if sess.Mode() != session.ModeDirect {
		return nil
	}
	received := sess.BytesReceived()
	if declared := sess.DeclaredSize(); declared > 0 {
		if received+incoming > declared+declaredSizeSlack {
			return fault.NewInvalidf("session %s overflows its declared size of %d bytes", sess.ID(), declared)
		}
		return nil
	}
	if received+incoming > s.cfg.MaxDirectBuffer {
		return fault.NewResourceExhausted(fmt.Sprintf(
			"session %s exceeded the %d byte direct-upload limit; declare a size to enable multipart",
			sess.ID(), s.cfg.MaxDirectBuffer))
	}
	return nil
}

// flushParts uploads buffered data as parts at the store's granularity.
// With final set, any residue below the granularity flushes as the last,
// possibly short, part. Caller holds the writer slot.
func (s *Service) flushParts(ctx context.Context, sess *session.Session, final bool) error {
	partSize := s.store.PartSize()
	key := sess.Coordinate().Key()

	for {
		buffered := sess.BufferedBytes()
		if buffered < partSize && !(final && buffered > 0) {
			return nil
		}
		n := partSize
		if buffered < n {
			n = buffered
		}

		index := sess.NextPartIndex()
		data := sess.TakePart(int(n))
		part, err := s.store.UploadPart(ctx, key, sess.UploadID(), index, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return err
		}
		sess.RecordPart(part)
	}
}

// isHexDigest reports whether s is a well-formed hex SHA-256.
func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
