package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/freightcore/freightcore/pkg/fault"
	"github.com/freightcore/freightcore/pkg/objstore/memory"
)

func TestConfigApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	if cfg.MultipartThreshold != DefaultMultipartThreshold {
		t.Errorf("MultipartThreshold = %d, want %d", cfg.MultipartThreshold, DefaultMultipartThreshold)
	}
	if cfg.RecommendedChunkBytes != DefaultRecommendedChunkBytes {
		t.Errorf("RecommendedChunkBytes = %d, want %d", cfg.RecommendedChunkBytes, DefaultRecommendedChunkBytes)
	}
	if cfg.SessionIdleTimeout != DefaultSessionIdleTimeout {
		t.Errorf("SessionIdleTimeout = %v, want %v", cfg.SessionIdleTimeout, DefaultSessionIdleTimeout)
	}
	if cfg.DownloadReadChunkBytes != DefaultDownloadReadChunk {
		t.Errorf("DownloadReadChunkBytes = %d, want %d", cfg.DownloadReadChunkBytes, DefaultDownloadReadChunk)
	}
	if cfg.SignedURLMaxTTL != DefaultSignedURLMaxTTL {
		t.Errorf("SignedURLMaxTTL = %v, want %v", cfg.SignedURLMaxTTL, DefaultSignedURLMaxTTL)
	}
}

func TestConfigClampsReadChunk(t *testing.T) {
	low := Config{DownloadReadChunkBytes: 1}
	low.applyDefaults()
	if low.DownloadReadChunkBytes != minReadChunk {
		t.Errorf("tiny read chunk = %d, want clamped to %d", low.DownloadReadChunkBytes, minReadChunk)
	}

	high := Config{DownloadReadChunkBytes: 64 << 20}
	high.applyDefaults()
	if high.DownloadReadChunkBytes != maxReadChunk {
		t.Errorf("huge read chunk = %d, want clamped to %d", high.DownloadReadChunkBytes, maxReadChunk)
	}
}

func TestFailLabel(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fault.NewUnavailable("backend down", errors.New("dial refused")), "unavailable"},
		{fault.NewIntegrity("s1", "aa", "bb"), "integrity"},
		{context.Canceled, "cancelled"},
		{context.DeadlineExceeded, "cancelled"},
		{errors.New("mystery"), "unknown"},
	}
	for _, tc := range cases {
		if got := failLabel(tc.err); got != tc.want {
			t.Errorf("failLabel(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestServiceCloseAbortsOpenSessions(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, Config{}, store)
	svc.Start()

	res, err := svc.Initiate(context.Background(), testCoordinate(), InitiateOptions{})
	if err != nil {
		t.Fatalf("Initiate error: %v", err)
	}
	if _, err := svc.IngestChunk(context.Background(), Chunk{
		SessionID: res.SessionID,
		Sequence:  1,
		Payload:   []byte("partial"),
	}); err != nil {
		t.Fatalf("IngestChunk error: %v", err)
	}

	svc.Close()

	sess, err := svc.sessions.Get(res.SessionID)
	if err != nil {
		t.Fatalf("session lookup after close: %v", err)
	}
	if !sess.Status().Terminal() {
		t.Errorf("session status after close = %s, want terminal", sess.Status())
	}

	snap, ok := svc.registry.Get(res.SessionID)
	if !ok {
		t.Fatal("progress record missing after close")
	}
	if snap.Error != "shutdown" {
		t.Errorf("progress error = %q, want shutdown", snap.Error)
	}
}

func TestServiceCloseIsIdempotent(t *testing.T) {
	svc := newTestService(t, Config{}, memory.New())
	svc.Start()
	svc.Close()
	svc.Close()
}
