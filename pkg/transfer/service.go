// Package transfer implements the upload and download state machines over
// an object store backend.
//
// Uploads are chunked: Initiate opens a session and fixes the transfer
// mode, IngestChunk folds strictly-sequenced chunks into it, and Commit
// verifies the digest and makes the artifact visible. Small uploads buffer
// in memory and land with a single put; larger ones stream parts to the
// backend as they fill, so the full artifact is never held in memory.
// Downloads stream the object back as ordered frames. Both directions
// publish progress records that the gateway and the RPC front expose to
// subscribers.
package transfer

import (
	"context"
	"strings"
	"time"

	"github.com/freightcore/freightcore/internal/logger"
	"github.com/freightcore/freightcore/pkg/fault"
	"github.com/freightcore/freightcore/pkg/objstore"
	"github.com/freightcore/freightcore/pkg/progress"
	"github.com/freightcore/freightcore/pkg/session"
)

// Defaults applied by Config.applyDefaults.
const (
	DefaultMultipartThreshold    = 5 << 20
	DefaultMaxChunkBytes         = 32 << 20
	DefaultRecommendedChunkBytes = 256 << 10
	DefaultSessionIdleTimeout    = 30 * time.Minute
	DefaultDownloadReadChunk     = 256 << 10
	DefaultMaxDirectBuffer       = 64 << 20
	DefaultMaxSessions           = 256
	DefaultMaxInflightBytes      = 1 << 30
	DefaultSignedURLMaxTTL       = 7 * 24 * time.Hour
)

const (
	// minReadChunk and maxReadChunk bound the read granularity for both
	// download streaming and the recommended upload chunk size.
	minReadChunk = 64 << 10
	maxReadChunk = 1 << 20

	// declaredSizeSlack tolerates clients whose declared size is a rounded
	// estimate rather than an exact count.
	declaredSizeSlack = 256 << 10

	// abortTimeout bounds best-effort adapter cleanup on failure paths
	// that no longer have a caller context.
	abortTimeout = 30 * time.Second
)

// Metrics receives transfer instrumentation. Implementations must be safe
// for concurrent use. A nil Metrics is valid and disables instrumentation.
type Metrics interface {
	// RecordUploadStarted counts initiated sessions by mode.
	RecordUploadStarted(mode string)

	// RecordUploadFinished observes a terminal upload: outcome is one of
	// committed, failed, aborted, or expired.
	RecordUploadFinished(mode, outcome string, bytes int64, duration time.Duration)

	// RecordChunkAccepted observes one accepted chunk.
	RecordChunkAccepted(bytes int)

	// RecordDownloadStarted counts opened download streams.
	RecordDownloadStarted()

	// RecordDownloadFinished observes a finished download: outcome is one
	// of completed, failed, or cancelled.
	RecordDownloadFinished(outcome string, bytes int64, duration time.Duration)
}

// Config tunes the transfer service.
type Config struct {
	// MultipartThreshold selects multipart mode for uploads declaring a
	// size above it.
	MultipartThreshold int64

	// MaxChunkBytes rejects inbound chunks larger than this.
	MaxChunkBytes int64

	// RecommendedChunkBytes is the chunk size hint returned by Initiate.
	RecommendedChunkBytes int64

	// SessionIdleTimeout aborts sessions with no chunk activity.
	SessionIdleTimeout time.Duration

	// DownloadReadChunkBytes is the store read granularity for downloads.
	DownloadReadChunkBytes int64

	// MaxDirectBuffer caps direct-mode sessions without a declared size.
	MaxDirectBuffer int64

	// MaxSessions caps concurrently live upload sessions.
	MaxSessions int

	// MaxInflightBytes caps aggregate buffered bytes across sessions.
	MaxInflightBytes int64

	// SignedURLMaxTTL caps the lifetime of presigned download URLs.
	SignedURLMaxTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.MultipartThreshold <= 0 {
		c.MultipartThreshold = DefaultMultipartThreshold
	}
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if c.RecommendedChunkBytes <= 0 {
		c.RecommendedChunkBytes = DefaultRecommendedChunkBytes
	}
	if c.SessionIdleTimeout <= 0 {
		c.SessionIdleTimeout = DefaultSessionIdleTimeout
	}
	if c.DownloadReadChunkBytes <= 0 {
		c.DownloadReadChunkBytes = DefaultDownloadReadChunk
	}
	if c.DownloadReadChunkBytes < minReadChunk {
		c.DownloadReadChunkBytes = minReadChunk
	}
	if c.DownloadReadChunkBytes > maxReadChunk {
		c.DownloadReadChunkBytes = maxReadChunk
	}
	if c.MaxDirectBuffer <= 0 {
		c.MaxDirectBuffer = DefaultMaxDirectBuffer
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.MaxInflightBytes <= 0 {
		c.MaxInflightBytes = DefaultMaxInflightBytes
	}
	if c.SignedURLMaxTTL <= 0 {
		c.SignedURLMaxTTL = DefaultSignedURLMaxTTL
	}
}

// Service coordinates uploads, downloads, and catalog operations.
type Service struct {
	cfg      Config
	store    objstore.Store
	registry *progress.Registry
	sessions *session.Store
	metrics  Metrics
}

// New creates the service and its session store. The janitor starts with
// Start. Both metrics arguments may be nil.
func New(
	cfg Config,
	store objstore.Store,
	registry *progress.Registry,
	metrics Metrics,
	sessionMetrics session.Metrics,
) *Service {
	cfg.applyDefaults()

	svc := &Service{
		cfg:      cfg,
		store:    store,
		registry: registry,
		metrics:  metrics,
	}
	svc.sessions = session.NewStore(session.Config{
		IdleTimeout:      cfg.SessionIdleTimeout,
		MaxSessions:      cfg.MaxSessions,
		MaxInflightBytes: cfg.MaxInflightBytes,
	}, svc.expireSession, sessionMetrics)

	return svc
}

// Start launches the session janitor.
func (s *Service) Start() {
	s.sessions.Start()
}

// Close stops the janitor and aborts surviving sessions so adapter-side
// multipart state is released.
func (s *Service) Close() {
	s.sessions.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	for _, sess := range s.sessions.Sessions() {
		if sess.Status().Terminal() {
			continue
		}
		_ = s.abortSession(ctx, sess, "shutdown", "aborted")
	}
}

// expireSession is the janitor callback for idle sessions.
func (s *Service) expireSession(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	_ = s.abortSession(ctx, sess, "idle_timeout", "expired")
}

// abortSession aborts sess, releasing adapter state and publishing the
// failure reason. Terminal sessions yield a Conflict.
func (s *Service) abortSession(ctx context.Context, sess *session.Session, reason, outcome string) error {
	sess.AcquireWriter()
	defer sess.ReleaseWriter()

	if err := sess.MarkAborted(); err != nil {
		return err
	}
	s.releaseMultipart(ctx, sess)
	if h := sess.Progress(); h != nil {
		h.Fail(reason)
	}
	if s.metrics != nil {
		s.metrics.RecordUploadFinished(string(sess.Mode()), outcome, sess.BytesReceived(), time.Since(sess.StartedAt()))
	}
	logger.Info("Upload session aborted",
		"sessionID", sess.ID(),
		"artifact", sess.Coordinate().String(),
		"reason", reason)
	return nil
}

// failUpload moves the session to Failed, releases adapter state, and
// publishes the failure. Caller holds the writer slot.
func (s *Service) failUpload(ctx context.Context, sess *session.Session, label string) {
	sess.Fail()
	s.releaseMultipart(ctx, sess)
	if h := sess.Progress(); h != nil {
		h.Fail(label)
	}
	if s.metrics != nil {
		s.metrics.RecordUploadFinished(string(sess.Mode()), "failed", sess.BytesReceived(), time.Since(sess.StartedAt()))
	}
}

// releaseMultipart best-effort aborts the adapter-side multipart upload.
func (s *Service) releaseMultipart(ctx context.Context, sess *session.Session) {
	uploadID := sess.UploadID()
	if uploadID == "" {
		return
	}
	if ctx.Err() != nil {
		// The caller's context is already dead; give cleanup its own.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), abortTimeout)
		defer cancel()
	}
	if err := s.store.AbortMultipart(ctx, sess.Coordinate().Key(), uploadID); err != nil {
		logger.Warn("Failed to abort multipart upload",
			"sessionID", sess.ID(),
			"uploadID", uploadID,
			"error", err)
	}
}

// failLabel maps an error to a progress failure label.
func failLabel(err error) string {
	return strings.ToLower(fault.CodeOf(err).String())
}
