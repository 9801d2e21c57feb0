package s3

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/freightcore/freightcore/internal/telemetry"
	"github.com/freightcore/freightcore/pkg/fault"
)

// SignedURL returns a presigned GET URL for the object under key, valid
// for ttl.
//
// Presigning is a local signature computation; it does not verify that the
// object exists. Callers that need that guarantee should Head the key first.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (url string, err error) {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStorePresign, key,
		telemetry.StoreBackend("s3"),
		telemetry.Bucket(s.bucket))
	defer span.End()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("PresignGetObject", time.Since(start), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return "", err
	}

	if ttl <= 0 {
		return "", fault.NewInvalidf("signed URL ttl must be positive, got %s", ttl)
	}

	req, perr := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	}, s3.WithPresignExpires(ttl))
	if perr != nil {
		return "", classify("PresignGetObject", key, perr)
	}

	return req.URL, nil
}
