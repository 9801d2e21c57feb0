package transfer

import (
	"context"
	"time"

	"github.com/freightcore/freightcore/internal/logger"
	"github.com/freightcore/freightcore/pkg/fault"
	"github.com/freightcore/freightcore/pkg/objstore"
)

// SignedURLResult is a presigned read URL and its expiry.
type SignedURLResult struct {
	URL       string
	ExpiresAt time.Time
}

// Head returns the artifact's metadata without its body.
func (s *Service) Head(ctx context.Context, coordinate objstore.Coordinate) (objstore.ObjectInfo, error) {
	if err := coordinate.Validate(); err != nil {
		return objstore.ObjectInfo{}, err
	}
	return s.store.Head(ctx, coordinate.Key())
}

// List returns one page of artifacts under prefix, lexicographic by key,
// resuming from cursor.
func (s *Service) List(ctx context.Context, prefix, cursor string, limit int32) (objstore.ListPage, error) {
	return s.store.List(ctx, prefix, cursor, limit)
}

// Delete removes the artifact. Returns false without error when it was
// already absent.
func (s *Service) Delete(ctx context.Context, coordinate objstore.Coordinate) (bool, error) {
	if err := coordinate.Validate(); err != nil {
		return false, err
	}
	deleted, err := s.store.Delete(ctx, coordinate.Key())
	if err != nil {
		return false, err
	}
	if deleted {
		logger.Info("Artifact deleted", "artifact", coordinate.String())
	}
	return deleted, nil
}

// SignedURL produces a presigned read URL for the artifact. The bytes
// bypass the core, so no progress record is created. The artifact must
// exist; presigning an absent key would hand out a URL that 404s.
func (s *Service) SignedURL(ctx context.Context, coordinate objstore.Coordinate, ttl time.Duration) (SignedURLResult, error) {
	if err := coordinate.Validate(); err != nil {
		return SignedURLResult{}, err
	}
	if ttl <= 0 {
		return SignedURLResult{}, fault.NewInvalid("signed URL ttl must be positive")
	}
	if ttl > s.cfg.SignedURLMaxTTL {
		return SignedURLResult{}, fault.NewInvalidf("signed URL ttl exceeds the %s maximum", s.cfg.SignedURLMaxTTL)
	}
	if _, err := s.store.Head(ctx, coordinate.Key()); err != nil {
		return SignedURLResult{}, err
	}
	url, err := s.store.SignedURL(ctx, coordinate.Key(), ttl)
	if err != nil {
		return SignedURLResult{}, err
	}
	return SignedURLResult{URL: url, ExpiresAt: time.Now().Add(ttl)}, nil
}
