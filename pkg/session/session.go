// Package session holds short-lived state for in-flight uploads.
//
// A Session tracks one chunked upload from initiation to a terminal state.
// Chunk payloads accumulate in an in-memory buffer (all of them in direct
// mode, one part's worth in multipart mode) and a SHA-256 digest is folded
// in incrementally as chunks are accepted.
//
// Concurrency model: each session has exactly one writer at a time. The
// goroutine driving the upload claims the writer slot with AcquireWriter
// before ingesting chunks, committing, or aborting; everyone else reads
// consistent snapshots through View or the individual accessors.
package session

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/freightcore/freightcore/pkg/fault"
	"github.com/freightcore/freightcore/pkg/objstore"
	"github.com/freightcore/freightcore/pkg/progress"
)

// Mode selects how accepted bytes reach the object store.
type Mode string

const (
	// ModeDirect accumulates the whole payload in memory and writes it with
	// a single put at commit time.
	ModeDirect Mode = "direct"

	// ModeMultipart streams buffered parts to the store as they fill and
	// completes the multipart upload at commit time.
	ModeMultipart Mode = "multipart"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusCommitting Status = "committing"
	StatusCommitted  Status = "committed"
	StatusAborted    Status = "aborted"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusAborted || s == StatusFailed
}

// Options carries the optional initiation parameters.
type Options struct {
	// DeclaredSize is the announced total byte count, 0 when unknown.
	DeclaredSize int64

	// ContentType is an optional MIME hint stored with the object.
	ContentType string

	// ExpectedDigest is an optional hex SHA-256 the commit must match.
	ExpectedDigest string

	// Progress is the handle publishing this upload's progress record.
	Progress *progress.Handle
}

// Session is the state of one in-flight upload.
type Session struct {
	id             string
	coordinate     objstore.Coordinate
	mode           Mode
	declaredSize   int64
	contentType    string
	expectedDigest string
	startedAt      time.Time

	// writeMu is the writer slot. Chunk ingest, commit, and abort all run
	// while holding it.
	writeMu sync.Mutex

	mu            sync.Mutex // Protects the fields below
	prog          *progress.Handle
	status        Status
	nextSequence  uint64
	bytesReceived int64
	buffered      int64
	parts         []objstore.Part
	uploadID      string
	finalSeen     bool
	lastActivity  time.Time

	// Writer-owned state, guarded by writeMu rather than mu.
	digest hash.Hash
	buffer bytes.Buffer
}

// View is a consistent point-in-time copy of the session metadata.
type View struct {
	ID            string
	Coordinate    objstore.Coordinate
	Mode          Mode
	Status        Status
	DeclaredSize  int64
	ContentType   string
	BytesReceived int64
	BufferedBytes int64
	NextSequence  uint64
	Parts         int
	UploadID      string
	FinalSeen     bool
	StartedAt     time.Time
	LastActivity  time.Time
}

// New creates an open session. The first expected chunk sequence is 1.
func New(id string, coordinate objstore.Coordinate, mode Mode, opts Options) *Session {
	now := time.Now()
	return &Session{
		id:             id,
		coordinate:     coordinate,
		mode:           mode,
		declaredSize:   opts.DeclaredSize,
		contentType:    opts.ContentType,
		expectedDigest: opts.ExpectedDigest,
		startedAt:      now,
		prog:           opts.Progress,
		status:         StatusOpen,
		nextSequence:   1,
		lastActivity:   now,
		digest:         sha256.New(),
	}
}

// ID returns the session identifier, which doubles as the progress
// operation id.
func (s *Session) ID() string { return s.id }

// Coordinate returns the artifact coordinate fixed at initiation.
func (s *Session) Coordinate() objstore.Coordinate { return s.coordinate }

// Mode returns the transfer mode fixed at initiation.
func (s *Session) Mode() Mode { return s.mode }

// DeclaredSize returns the announced total size, 0 when unknown.
func (s *Session) DeclaredSize() int64 { return s.declaredSize }

// ContentType returns the MIME hint, empty when absent.
func (s *Session) ContentType() string { return s.contentType }

// ExpectedDigest returns the hex digest announced at initiation, empty
// when absent.
func (s *Session) ExpectedDigest() string { return s.expectedDigest }

// Progress returns the progress handle, nil when the session is untracked.
func (s *Session) Progress() *progress.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prog
}

// SetProgress attaches the progress handle. The transfer service attaches
// it once the session is admitted, so rejected initiations never create a
// progress record.
func (s *Session) SetProgress(h *progress.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prog = h
}

// StartedAt returns the initiation time.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// BytesReceived returns the total accepted payload bytes.
func (s *Session) BytesReceived() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesReceived
}

// BufferedBytes returns the bytes currently held in memory.
func (s *Session) BufferedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered
}

// NextSequence returns the next acceptable chunk sequence number.
func (s *Session) NextSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSequence
}

// UploadID returns the adapter's multipart upload handle, empty for
// direct sessions or before the multipart upload is created.
func (s *Session) UploadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadID
}

// SetUploadID stores the adapter's multipart upload handle.
func (s *Session) SetUploadID(uploadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadID = uploadID
}

// Parts returns a copy of the completed parts in upload order.
func (s *Session) Parts() []objstore.Part {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]objstore.Part, len(s.parts))
	copy(out, s.parts)
	return out
}

// NextPartIndex returns the 1-based index for the next part upload.
func (s *Session) NextPartIndex() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int32(len(s.parts)) + 1
}

// FinalSeen reports whether a chunk with the final flag has been accepted.
func (s *Session) FinalSeen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalSeen
}

// LastActivity returns the time of the last accepted chunk or transition.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// View returns a consistent snapshot of the session metadata.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:            s.id,
		Coordinate:    s.coordinate,
		Mode:          s.mode,
		Status:        s.status,
		DeclaredSize:  s.declaredSize,
		ContentType:   s.contentType,
		BytesReceived: s.bytesReceived,
		BufferedBytes: s.buffered,
		NextSequence:  s.nextSequence,
		Parts:         len(s.parts),
		UploadID:      s.uploadID,
		FinalSeen:     s.finalSeen,
		StartedAt:     s.startedAt,
		LastActivity:  s.lastActivity,
	}
}

// AcquireWriter claims the session's single writer slot, blocking until
// any in-flight writer releases it.
func (s *Session) AcquireWriter() {
	s.writeMu.Lock()
}

// ReleaseWriter releases the writer slot.
func (s *Session) ReleaseWriter() {
	s.writeMu.Unlock()
}

// Accept validates one chunk against the protocol state and folds it in:
// the payload is appended to the buffer, the digest advances, and the
// counters move. A rejected chunk leaves the session unchanged.
//
// Caller must hold the writer slot.
func (s *Session) Accept(sequence uint64, payload []byte, isFinal bool) error {
	s.mu.Lock()
	if s.status != StatusOpen {
		status := s.status
		s.mu.Unlock()
		return fault.NewInvalidf("session %s is %s, not accepting chunks", s.id, status)
	}
	if s.finalSeen {
		s.mu.Unlock()
		return fault.NewInvalidf("session %s already received its final chunk", s.id)
	}
	if sequence != s.nextSequence {
		expected := s.nextSequence
		s.mu.Unlock()
		return fault.NewInvalidf("session %s expected chunk sequence %d, got %d", s.id, expected, sequence)
	}

	s.nextSequence++
	s.bytesReceived += int64(len(payload))
	s.buffered += int64(len(payload))
	s.finalSeen = isFinal
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.digest.Write(payload)
	s.buffer.Write(payload)
	return nil
}

// TakePart drains exactly n buffered bytes for a part upload. The returned
// slice aliases the internal buffer and is only valid until the next Accept.
//
// Caller must hold the writer slot.
func (s *Session) TakePart(n int) []byte {
	out := s.buffer.Next(n)
	s.mu.Lock()
	s.buffered -= int64(len(out))
	s.mu.Unlock()
	return out
}

// BufferBytes returns the accumulated buffer contents without draining
// them. Used by direct-mode commit to stream the whole payload.
//
// Caller must hold the writer slot.
func (s *Session) BufferBytes() []byte {
	return s.buffer.Bytes()
}

// RecordPart appends a completed part upload.
func (s *Session) RecordPart(p objstore.Part) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = append(s.parts, p)
	s.lastActivity = time.Now()
}

// Digest returns the hex SHA-256 over all accepted bytes so far.
//
// Caller must hold the writer slot.
func (s *Session) Digest() string {
	return hex.EncodeToString(s.digest.Sum(nil))
}

// BeginCommit moves Open to Committing. Any other starting state is a
// state conflict; chunks arriving afterwards are rejected by Accept.
//
// Caller must hold the writer slot.
func (s *Session) BeginCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusOpen {
		return fault.NewConflict(s.id, fmt.Sprintf("cannot commit session in state %s", s.status))
	}
	s.status = StatusCommitting
	s.lastActivity = time.Now()
	return nil
}

// Complete moves the session to Committed and releases its buffer.
//
// Caller must hold the writer slot and have called BeginCommit.
func (s *Session) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusCommitted
	s.finishLocked()
}

// Fail moves any non-terminal state to Failed and releases the buffer.
// Failing an already-terminal session is a no-op.
//
// Caller must hold the writer slot.
func (s *Session) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = StatusFailed
	s.finishLocked()
}

// MarkAborted moves Open or Committing to Aborted and releases the buffer.
//
// Caller must hold the writer slot.
func (s *Session) MarkAborted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusOpen && s.status != StatusCommitting {
		return fault.NewConflict(s.id, fmt.Sprintf("cannot abort session in state %s", s.status))
	}
	s.status = StatusAborted
	s.finishLocked()
	return nil
}

// finishLocked drops the buffer backing array so terminal sessions stop
// pinning payload memory while they remain queryable. Caller holds both
// the writer slot and s.mu.
func (s *Session) finishLocked() {
	s.lastActivity = time.Now()
	s.buffered = 0
	s.buffer = bytes.Buffer{}
}
