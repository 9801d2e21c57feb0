// Package s3 provides an S3-backed object store for freightcore.
//
// The store speaks to any S3-compatible service (AWS, MinIO, LocalStack)
// through the AWS SDK v2 and maps service failures onto the fault taxonomy:
// missing objects surface as CodeNotFound, denied access as
// CodePermissionDenied, malformed requests as CodeInvalid, throttling and
// 5xx responses as CodeUnavailable, everything else as CodeUnknown.
//
// Read operations (Get, Head, List) retry transient failures with
// exponential backoff. Write operations are not retried; callers decide
// whether a CodeUnavailable failure is worth repeating.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/freightcore/freightcore/internal/logger"
	"github.com/freightcore/freightcore/internal/telemetry"
	"github.com/freightcore/freightcore/pkg/fault"
	"github.com/freightcore/freightcore/pkg/objstore"
)

const (
	// s3MinPartSize is the smallest part S3 accepts for any part except
	// the last one of a multipart upload.
	s3MinPartSize = 5 * 1024 * 1024

	// defaultPartSize is the part size used when the config leaves it unset.
	defaultPartSize = 8 * 1024 * 1024

	defaultMaxRetries        = 3
	defaultInitialBackoff    = 100 * time.Millisecond
	defaultMaxBackoff        = 2 * time.Second
	defaultBackoffMultiplier = 2.0

	defaultListLimit = 1000
)

// Metrics records store operation telemetry.
//
// A nil Metrics is valid and disables all recording, so callers that run
// without a metrics registry pay no overhead.
type Metrics interface {
	// ObserveOperation records one S3 API call with its duration and outcome.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records payload bytes moved in the given direction
	// ("upload" or "download").
	RecordBytes(direction string, bytes int64)

	// ObserveMultipartPart records the part number of an uploaded part.
	ObserveMultipartPart(partNumber int32)

	// RecordMultipartAborted counts an aborted multipart upload.
	RecordMultipartAborted()
}

// Retry controls retry behavior for read-path operations.
type Retry struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff growth.
	MaxBackoff time.Duration

	// BackoffMultiplier scales the backoff between attempts.
	BackoffMultiplier float64
}

// Config holds configuration for the S3 object store.
type Config struct {
	// Bucket is the S3 bucket name. Required.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// AccessKeyID and SecretAccessKey configure static credentials.
	// When empty the SDK default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool

	// KeyPrefix is prepended to all object keys (e.g., "artifacts/").
	KeyPrefix string

	// PartSize is the multipart part size in bytes. Must be at least 5 MiB.
	PartSize int64

	// Retry configures the read-path retry policy.
	Retry Retry
}

func (c *Config) applyDefaults() {
	if c.PartSize == 0 {
		c.PartSize = defaultPartSize
	}
	if c.KeyPrefix != "" && !strings.HasSuffix(c.KeyPrefix, "/") {
		c.KeyPrefix += "/"
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = defaultMaxRetries
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = defaultInitialBackoff
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = defaultMaxBackoff
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = defaultBackoffMultiplier
	}
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3: bucket name is required")
	}
	if c.PartSize < s3MinPartSize {
		return fmt.Errorf("s3: part size %d is below the S3 minimum of %d bytes", c.PartSize, s3MinPartSize)
	}
	return nil
}

// retryPolicy is the normalized form of Retry used by store operations.
type retryPolicy struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

// Store is an S3-backed implementation of objstore.Store.
type Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	keyPrefix string
	partSize  int64
	retry     retryPolicy
	metrics   Metrics
}

// New creates a new S3 object store with an existing client.
//
// A nil metrics disables telemetry recording.
func New(client *s3.Client, cfg Config, metrics Metrics) (*Store, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Store{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		partSize:  cfg.PartSize,
		retry: retryPolicy{
			maxRetries:        cfg.Retry.MaxRetries,
			initialBackoff:    cfg.Retry.InitialBackoff,
			maxBackoff:        cfg.Retry.MaxBackoff,
			backoffMultiplier: cfg.Retry.BackoffMultiplier,
		},
		metrics: metrics,
	}, nil
}

// NewFromConfig creates a new S3 object store by creating an S3 client from config.
// This is the preferred constructor when you don't have an existing S3 client.
func NewFromConfig(ctx context.Context, cfg Config, metrics Metrics) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)

	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return New(client, cfg, metrics)
}

// fullKey returns the full S3 key for an artifact key.
func (s *Store) fullKey(key string) string {
	return s.keyPrefix + key
}

// stripKey removes the key prefix from a full S3 key.
func (s *Store) stripKey(full string) string {
	if s.keyPrefix != "" && strings.HasPrefix(full, s.keyPrefix) {
		return full[len(s.keyPrefix):]
	}
	return full
}

// calculateBackoff returns the backoff duration for a given attempt using the store's retry config.
func (s *Store) calculateBackoff(attempt int) time.Duration {
	backoff := float64(s.retry.initialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= s.retry.backoffMultiplier
	}
	if backoff > float64(s.retry.maxBackoff) {
		backoff = float64(s.retry.maxBackoff)
	}
	return time.Duration(backoff)
}

// Put stores the object under key, replacing any existing object.
//
// When size is objstore.SizeUnknown the reader is buffered in memory to
// determine the content length; callers with large unsized payloads should
// use the multipart path instead.
func (s *Store) Put(
	ctx context.Context,
	key string,
	r io.Reader,
	size int64,
	contentType string,
	userMeta map[string]string,
) (res objstore.PutResult, err error) {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStorePut, key,
		telemetry.StoreBackend("s3"),
		telemetry.Bucket(s.bucket))
	defer span.End()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("PutObject", time.Since(start), err)
		}
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return objstore.PutResult{}, err
	}

	if size == objstore.SizeUnknown {
		data, rerr := io.ReadAll(r)
		if rerr != nil {
			return objstore.PutResult{}, fault.NewUnavailable("reading payload for put", rerr)
		}
		r = bytes.NewReader(data)
		size = int64(len(data))
	}

	full := s.fullKey(key)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(full),
		Body:          r,
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if len(userMeta) > 0 {
		input.Metadata = userMeta
	}

	out, perr := s.client.PutObject(ctx, input)
	if perr != nil {
		return objstore.PutResult{}, classify("PutObject", key, perr)
	}

	if s.metrics != nil {
		s.metrics.RecordBytes("upload", size)
	}

	return objstore.PutResult{
		Location: fmt.Sprintf("s3://%s/%s", s.bucket, full),
		ETag:     aws.ToString(out.ETag),
	}, nil
}

// Get returns a reader over the object, or over the given byte range.
//
// The returned ObjectInfo always carries the full object size, even for
// ranged reads. Transient failures are retried with exponential backoff.
func (s *Store) Get(
	ctx context.Context,
	key string,
	rng *objstore.ByteRange,
) (rc io.ReadCloser, info objstore.ObjectInfo, err error) {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStoreGet, key,
		telemetry.StoreBackend("s3"),
		telemetry.Bucket(s.bucket))
	defer span.End()

	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("GetObject", time.Since(start), err)
		}
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return nil, objstore.ObjectInfo{}, err
	}

	if rng != nil {
		if err = rng.Validate(); err != nil {
			return nil, objstore.ObjectInfo{}, err
		}
	}

	full := s.fullKey(key)

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	}
	if rng != nil {
		// S3 ranges are inclusive on both ends.
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End-1))
	}

	var result *s3.GetObjectOutput
	var lastErr error

	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Get: retrying", "backoff", backoff, "attempt", attempt, "max_retries", s.retry.maxRetries, "key", full)

			select {
			case <-ctx.Done():
				return nil, objstore.ObjectInfo{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, lastErr = s.client.GetObject(ctx, input)

		if lastErr == nil {
			break
		}

		if isNotFoundError(lastErr) {
			return nil, objstore.ObjectInfo{}, fault.NewNotFound(key, "object")
		}

		if rng != nil && isInvalidRangeError(lastErr) {
			return nil, objstore.ObjectInfo{}, fault.NewInvalidf("range start %d not satisfiable for %s", rng.Start, key)
		}

		if !isRetryableError(lastErr) {
			break
		}

		logger.Debug("Get: transient error", "attempt", attempt+1, "max_retries", s.retry.maxRetries+1, "key", full, "error", lastErr)
	}

	if lastErr != nil {
		return nil, objstore.ObjectInfo{}, classify("GetObject", key, lastErr)
	}

	info = objstore.ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(result.ContentLength),
		ContentType: aws.ToString(result.ContentType),
		ETag:        aws.ToString(result.ETag),
		UpdatedAt:   aws.ToTime(result.LastModified),
	}

	// A ranged response reports the range length in ContentLength; the full
	// object size is in the Content-Range trailer ("bytes start-end/total").
	if rng != nil {
		if total, ok := parseContentRangeTotal(aws.ToString(result.ContentRange)); ok {
			info.Size = total
		}
	}

	return &meteredReadCloser{
		ReadCloser: result.Body,
		metrics:    s.metrics,
	}, info, nil
}

// Head returns object metadata without downloading the content.
func (s *Store) Head(ctx context.Context, key string) (info objstore.ObjectInfo, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("HeadObject", time.Since(start), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return objstore.ObjectInfo{}, err
	}

	full := s.fullKey(key)

	var result *s3.HeadObjectOutput
	var lastErr error

	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("Head: retrying", "backoff", backoff, "attempt", attempt, "max_retries", s.retry.maxRetries, "key", full)

			select {
			case <-ctx.Done():
				return objstore.ObjectInfo{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, lastErr = s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(full),
		})

		if lastErr == nil {
			break
		}

		if isNotFoundError(lastErr) {
			return objstore.ObjectInfo{}, fault.NewNotFound(key, "object")
		}

		if !isRetryableError(lastErr) {
			break
		}

		logger.Debug("Head: transient error", "attempt", attempt+1, "max_retries", s.retry.maxRetries+1, "key", full, "error", lastErr)
	}

	if lastErr != nil {
		return objstore.ObjectInfo{}, classify("HeadObject", key, lastErr)
	}

	return objstore.ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(result.ContentLength),
		ContentType: aws.ToString(result.ContentType),
		ETag:        aws.ToString(result.ETag),
		UpdatedAt:   aws.ToTime(result.LastModified),
	}, nil
}

// List returns a lexicographically ordered page of objects under prefix.
//
// The cursor is the NextCursor from a previous page, or empty for the first
// page. An empty NextCursor in the result means the listing is exhausted.
func (s *Store) List(
	ctx context.Context,
	prefix string,
	cursor string,
	limit int32,
) (page objstore.ListPage, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("ListObjectsV2", time.Since(start), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return objstore.ListPage{}, err
	}

	if limit <= 0 {
		limit = defaultListLimit
	}

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.fullKey(prefix)),
		MaxKeys: aws.Int32(limit),
	}
	if cursor != "" {
		input.ContinuationToken = aws.String(cursor)
	}

	var result *s3.ListObjectsV2Output
	var lastErr error

	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("List: retrying", "backoff", backoff, "attempt", attempt, "max_retries", s.retry.maxRetries, "prefix", prefix)

			select {
			case <-ctx.Done():
				return objstore.ListPage{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, lastErr = s.client.ListObjectsV2(ctx, input)

		if lastErr == nil {
			break
		}

		if !isRetryableError(lastErr) {
			break
		}

		logger.Debug("List: transient error", "attempt", attempt+1, "max_retries", s.retry.maxRetries+1, "prefix", prefix, "error", lastErr)
	}

	if lastErr != nil {
		return objstore.ListPage{}, classify("ListObjectsV2", prefix, lastErr)
	}

	entries := make([]objstore.ObjectInfo, 0, len(result.Contents))
	for _, obj := range result.Contents {
		entries = append(entries, objstore.ObjectInfo{
			Key:       s.stripKey(aws.ToString(obj.Key)),
			Size:      aws.ToInt64(obj.Size),
			ETag:      aws.ToString(obj.ETag),
			UpdatedAt: aws.ToTime(obj.LastModified),
		})
	}

	page = objstore.ListPage{Entries: entries}
	if aws.ToBool(result.IsTruncated) {
		page.NextCursor = aws.ToString(result.NextContinuationToken)
	}

	return page, nil
}

// Delete removes the object under key. It reports whether the object
// existed before the call; deleting an absent object is not an error.
func (s *Store) Delete(ctx context.Context, key string) (existed bool, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("DeleteObject", time.Since(start), err)
		}
	}()

	if err = ctx.Err(); err != nil {
		return false, err
	}

	// S3 DeleteObject succeeds for missing keys, so probe first to report
	// whether anything was actually removed.
	_, herr := s.Head(ctx, key)
	if herr != nil {
		if fault.IsNotFound(herr) {
			return false, nil
		}
		return false, herr
	}

	full := s.fullKey(key)
	_, derr := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if derr != nil {
		return false, classify("DeleteObject", key, derr)
	}

	return true, nil
}

// PartSize returns the configured multipart flush granularity.
func (s *Store) PartSize() int64 {
	return s.partSize
}

// EnsureBucket creates the configured bucket if it does not already exist.
func (s *Store) EnsureBucket(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveOperation("CreateBucket", time.Since(start), err)
		}
	}()

	input := &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	}

	// us-east-1 is the one region that must not carry a location constraint.
	region := s.client.Options().Region
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	_, cerr := s.client.CreateBucket(ctx, input)
	if cerr != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(cerr, &owned) {
			return nil
		}
		return classify("CreateBucket", s.bucket, cerr)
	}

	logger.Info("Created bucket", "bucket", s.bucket)
	return nil
}

// Health verifies the bucket is reachable with the configured credentials.
func (s *Store) Health(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fault.NewUnavailable(fmt.Sprintf("bucket %s not reachable", s.bucket), err)
	}
	return nil
}

// Backend returns the backend identifier.
func (s *Store) Backend() string {
	return "s3"
}

// parseContentRangeTotal extracts the total object size from a Content-Range
// header of the form "bytes start-end/total".
func parseContentRangeTotal(cr string) (int64, bool) {
	i := strings.LastIndexByte(cr, '/')
	if i < 0 || i == len(cr)-1 {
		return 0, false
	}
	total, err := strconv.ParseInt(cr[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return total, true
}

// meteredReadCloser counts downloaded bytes as they are read.
type meteredReadCloser struct {
	io.ReadCloser
	metrics Metrics
}

func (m *meteredReadCloser) Read(p []byte) (int, error) {
	n, err := m.ReadCloser.Read(p)
	if n > 0 && m.metrics != nil {
		m.metrics.RecordBytes("download", int64(n))
	}
	return n, err
}

// Ensure Store implements objstore.Store.
var _ objstore.Store = (*Store)(nil)
