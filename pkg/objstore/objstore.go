// Package objstore defines the uniform object store interface the freight
// core consumes, together with the artifact coordinate to object key mapping.
//
// Implementations talk to a concrete blob backend (S3, in-memory); the core
// never assumes which. Every operation fails with a *fault.Error carrying one
// of CodeNotFound, CodePermissionDenied, CodeUnavailable, CodeInvalid, or
// CodeUnknown. CodeUnavailable is the only retryable class.
package objstore

import (
	"context"
	"fmt"
	"io"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	// Key is the object key relative to the store's configured prefix.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ContentType is the stored MIME type, empty if the backend has none.
	ContentType string

	// ETag is the backend's entity tag for the object.
	ETag string

	// UpdatedAt is the last modification time reported by the backend.
	UpdatedAt time.Time
}

// PutResult reports where a put landed.
type PutResult struct {
	// Location is a backend-specific locator for the stored object.
	Location string

	// ETag is the entity tag assigned by the backend.
	ETag string
}

// ByteRange is a half-open byte interval [Start, End).
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered by the range.
func (r ByteRange) Length() int64 {
	return r.End - r.Start
}

// Validate checks that the range is well-formed. A nil *ByteRange means the
// whole object and is always valid.
func (r ByteRange) Validate() error {
	if r.Start < 0 {
		return fmt.Errorf("range start %d is negative", r.Start)
	}
	if r.End <= r.Start {
		return fmt.Errorf("range [%d, %d) is empty or inverted", r.Start, r.End)
	}
	return nil
}

// Part identifies one uploaded part of a multipart upload.
type Part struct {
	// Index is the 1-based part number. Indices are strictly ascending with
	// no gaps at completion time.
	Index int32

	// ETag is the backend's tag for the part, required for completion.
	ETag string

	// Size is the part length in bytes.
	Size int64
}

// ListPage is one page of a lexicographic listing.
type ListPage struct {
	// Entries are the objects in this page, ordered by key.
	Entries []ObjectInfo

	// NextCursor resumes the listing after this page. Empty when the listing
	// is exhausted.
	NextCursor string
}

// SizeUnknown is passed as the size argument when the byte count of a stream
// is not known up front.
const SizeUnknown int64 = -1

// Store is the adapter interface between the freight core and a blob backend.
//
// Keys are forward-slash separated and opaque to callers; the transfer layer
// derives them from artifact coordinates via Coordinate.Key. Implementations
// may prepend a configured prefix but must strip it again on the way out, so
// callers always see prefix-relative keys.
type Store interface {
	// Put stores the stream under key atomically: on error no partial object
	// is observable. size may be SizeUnknown. userMeta travels with the
	// object when the backend supports it.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, userMeta map[string]string) (PutResult, error)

	// Get opens a readable stream for the object. rng selects a half-open
	// byte subset; nil reads the whole object. The returned ObjectInfo
	// carries the full object size, not the range length.
	Get(ctx context.Context, key string, rng *ByteRange) (io.ReadCloser, ObjectInfo, error)

	// Head fetches object metadata without the body. Fails with CodeNotFound
	// if the object is absent.
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// SignedURL produces a presigned read URL valid for ttl.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// List returns one page of keys under prefix, lexicographic, resuming
	// from cursor. limit caps the page size; 0 means backend default.
	List(ctx context.Context, prefix, cursor string, limit int32) (ListPage, error)

	// Delete removes the object. Returns false without error when the object
	// was already absent.
	Delete(ctx context.Context, key string) (bool, error)

	// CreateMultipart begins a multipart upload and returns its upload ID.
	CreateMultipart(ctx context.Context, key, contentType string) (string, error)

	// UploadPart stores one part of an open multipart upload.
	UploadPart(ctx context.Context, key, uploadID string, index int32, r io.Reader, size int64) (Part, error)

	// CompleteMultipart assembles the named parts into the final object.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (PutResult, error)

	// AbortMultipart releases backend state held by an open multipart upload.
	// Aborting an unknown upload is not an error.
	AbortMultipart(ctx context.Context, key, uploadID string) error

	// PartSize is the buffering granularity for multipart uploads. The
	// transfer layer flushes accumulated chunks at this bound; it is never
	// smaller than the backend's minimum part size, so every part but the
	// last satisfies the backend.
	PartSize() int64

	// EnsureBucket idempotently creates the backing container if missing.
	EnsureBucket(ctx context.Context) error

	// Health probes the backend. A nil return means the store is usable.
	Health(ctx context.Context) error

	// Backend names the implementation ("s3", "memory") for logs and metrics.
	Backend() string
}
