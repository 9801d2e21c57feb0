package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/freightcore/freightcore/internal/logger"
	"github.com/freightcore/freightcore/internal/telemetry"
	"github.com/freightcore/freightcore/pkg/fault"
	"github.com/freightcore/freightcore/pkg/objstore"
)

// CreateMultipart starts a multipart upload for key and returns the upload id.
func (s *Store) CreateMultipart(ctx context.Context, key string, contentType string) (uploadID string, err error) {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStoreMultipartCreate, key,
		telemetry.StoreBackend("s3"),
		telemetry.Bucket(s.bucket))
	defer span.End()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("CreateMultipartUpload", time.Since(start), err)
		}
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return "", err
	}

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, cerr := s.client.CreateMultipartUpload(ctx, input)
	if cerr != nil {
		return "", classify("CreateMultipartUpload", key, cerr)
	}

	uploadID = aws.ToString(out.UploadId)
	logger.Debug("Started multipart upload", "key", key, "upload_id", uploadID)

	return uploadID, nil
}

// UploadPart uploads one part of a multipart upload.
//
// Part indices are 1-based. Every part except the last must meet the S3
// five-MiB minimum; S3 rejects the completion otherwise.
func (s *Store) UploadPart(
	ctx context.Context,
	key string,
	uploadID string,
	index int32,
	r io.Reader,
	size int64,
) (part objstore.Part, err error) {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStoreMultipartPart, key,
		telemetry.StoreBackend("s3"),
		telemetry.Bucket(s.bucket),
		telemetry.UploadID(uploadID),
		telemetry.PartIndex(index))
	defer span.End()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("UploadPart", time.Since(start), err)
		}
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return objstore.Part{}, err
	}

	if index < 1 {
		return objstore.Part{}, fault.NewInvalidf("part index %d must be positive", index)
	}

	out, uerr := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.fullKey(key)),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(index),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if uerr != nil {
		return objstore.Part{}, classify("UploadPart", key, uerr)
	}

	if s.metrics != nil {
		s.metrics.RecordBytes("upload", size)
		s.metrics.ObserveMultipartPart(index)
	}

	return objstore.Part{
		Index: index,
		ETag:  aws.ToString(out.ETag),
		Size:  size,
	}, nil
}

// CompleteMultipart finishes a multipart upload, assembling the given parts
// into the final object. Parts must be listed in ascending index order.
func (s *Store) CompleteMultipart(
	ctx context.Context,
	key string,
	uploadID string,
	parts []objstore.Part,
) (res objstore.PutResult, err error) {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStoreMultipartComplete, key,
		telemetry.StoreBackend("s3"),
		telemetry.Bucket(s.bucket),
		telemetry.UploadID(uploadID))
	defer span.End()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("CompleteMultipartUpload", time.Since(start), err)
		}
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return objstore.PutResult{}, err
	}

	if len(parts) == 0 {
		return objstore.PutResult{}, fault.NewInvalid("multipart completion requires at least one part")
	}

	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Index),
		}
	}

	full := s.fullKey(key)
	out, cerr := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(full),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if cerr != nil {
		return objstore.PutResult{}, classify("CompleteMultipartUpload", key, cerr)
	}

	logger.Debug("Completed multipart upload", "key", key, "upload_id", uploadID, "parts", len(parts))

	return objstore.PutResult{
		Location: fmt.Sprintf("s3://%s/%s", s.bucket, full),
		ETag:     aws.ToString(out.ETag),
	}, nil
}

// AbortMultipart cancels a multipart upload and discards its parts.
// Aborting an unknown or already-finished upload is not an error.
func (s *Store) AbortMultipart(ctx context.Context, key string, uploadID string) (err error) {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStoreMultipartAbort, key,
		telemetry.StoreBackend("s3"),
		telemetry.Bucket(s.bucket),
		telemetry.UploadID(uploadID))
	defer span.End()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("AbortMultipartUpload", time.Since(start), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return err
	}

	_, aerr := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.fullKey(key)),
		UploadId: aws.String(uploadID),
	})
	if aerr != nil {
		var noSuchUpload *types.NoSuchUpload
		if errors.As(aerr, &noSuchUpload) || isNotFoundError(aerr) {
			return nil
		}
		return classify("AbortMultipartUpload", key, aerr)
	}

	if s.metrics != nil {
		s.metrics.RecordMultipartAborted()
	}

	logger.Debug("Aborted multipart upload", "key", key, "upload_id", uploadID)

	return nil
}
