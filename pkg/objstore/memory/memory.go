// Package memory provides an in-process objstore.Store implementation.
//
// It backs dev mode (store.backend: memory) and the transfer and adapter test
// surface. Objects live in a map guarded by a RWMutex; multipart uploads are
// held as part maps until completed or aborted. Semantics mirror the S3 store
// including ranged reads, lexicographic listing with cursors, and the minimum
// part size rule.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/freightcore/freightcore/pkg/fault"
	"github.com/freightcore/freightcore/pkg/objstore"
	"github.com/google/uuid"
)

// defaultPartSize mirrors the S3 floor so transfer part-flushing behaves
// the same against both backends by default.
const defaultPartSize = 5 << 20

// defaultListLimit caps a listing page when the caller passes 0.
const defaultListLimit = 1000

type object struct {
	data        []byte
	contentType string
	etag        string
	updatedAt   time.Time
	userMeta    map[string]string
}

type multipart struct {
	key         string
	contentType string
	parts       map[int32][]byte
	etags       map[int32]string
}

// Store is an in-memory object store.
type Store struct {
	partSize   int64
	mu         sync.RWMutex
	objects    map[string]*object
	multiparts map[string]*multipart
	putSeq     uint64
}

// New creates an empty in-memory store with the default part granularity.
func New() *Store {
	return NewWithPartSize(defaultPartSize)
}

// NewWithPartSize creates an empty store with a custom part granularity.
// Small values let tests exercise the multipart path with small payloads.
func NewWithPartSize(partSize int64) *Store {
	if partSize <= 0 {
		partSize = defaultPartSize
	}
	return &Store{
		partSize:   partSize,
		objects:    make(map[string]*object),
		multiparts: make(map[string]*multipart),
	}
}

// Put stores the full stream under key. The object becomes visible only
// after the reader is drained without error.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, userMeta map[string]string) (objstore.PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return objstore.PutResult{}, fault.NewUnavailable("reading put stream", err)
	}
	if size != objstore.SizeUnknown && int64(len(data)) != size {
		return objstore.PutResult{}, fault.NewInvalidf("put stream length %d does not match declared size %d", len(data), size)
	}
	if err := ctx.Err(); err != nil {
		return objstore.PutResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.putSeq++
	etag := fmt.Sprintf("%q", fmt.Sprintf("mem-%d", s.putSeq))
	s.objects[key] = &object{
		data:        data,
		contentType: contentType,
		etag:        etag,
		updatedAt:   time.Now().UTC(),
		userMeta:    cloneMeta(userMeta),
	}

	return objstore.PutResult{Location: "memory://" + key, ETag: etag}, nil
}

// Get opens a reader over the stored bytes, optionally restricted to rng.
func (s *Store) Get(ctx context.Context, key string, rng *objstore.ByteRange) (io.ReadCloser, objstore.ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return nil, objstore.ObjectInfo{}, fault.NewNotFound(key, "object")
	}

	data := obj.data
	if rng != nil {
		if err := rng.Validate(); err != nil {
			return nil, objstore.ObjectInfo{}, fault.NewInvalid(err.Error())
		}
		if rng.Start >= int64(len(data)) {
			return nil, objstore.ObjectInfo{}, fault.NewInvalidf("range start %d beyond object size %d", rng.Start, len(data))
		}
		end := rng.End
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		data = data[rng.Start:end]
	}

	return io.NopCloser(bytes.NewReader(data)), objectInfo(key, obj), nil
}

// Head returns metadata for the object without its body.
func (s *Store) Head(ctx context.Context, key string) (objstore.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return objstore.ObjectInfo{}, fault.NewNotFound(key, "object")
	}
	return objectInfo(key, obj), nil
}

// SignedURL fabricates a memory:// URL. It satisfies the interface so dev
// mode exercises the presign path; the URL is not fetchable.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()

	if !ok {
		return "", fault.NewNotFound(key, "object")
	}
	expires := time.Now().UTC().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s?expires=%d", key, expires), nil
}

// List returns a page of keys under prefix in lexicographic order. The
// cursor is the last key of the previous page.
func (s *Store) List(ctx context.Context, prefix, cursor string, limit int32) (objstore.ListPage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) && k > cursor {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	page := objstore.ListPage{}
	for _, k := range keys {
		if int32(len(page.Entries)) == limit {
			page.NextCursor = page.Entries[len(page.Entries)-1].Key
			break
		}
		page.Entries = append(page.Entries, objectInfo(k, s.objects[k]))
	}
	s.mu.RUnlock()

	return page, nil
}

// Delete removes the object, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; !ok {
		return false, nil
	}
	delete(s.objects, key)
	return true, nil
}

// CreateMultipart opens a multipart upload for key.
func (s *Store) CreateMultipart(ctx context.Context, key, contentType string) (string, error) {
	uploadID := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.multiparts[uploadID] = &multipart{
		key:         key,
		contentType: contentType,
		parts:       make(map[int32][]byte),
		etags:       make(map[int32]string),
	}
	return uploadID, nil
}

// UploadPart stores one part of an open upload.
func (s *Store) UploadPart(ctx context.Context, key, uploadID string, index int32, r io.Reader, size int64) (objstore.Part, error) {
	if index < 1 {
		return objstore.Part{}, fault.NewInvalidf("part index %d must be >= 1", index)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return objstore.Part{}, fault.NewUnavailable("reading part stream", err)
	}
	if size != objstore.SizeUnknown && int64(len(data)) != size {
		return objstore.Part{}, fault.NewInvalidf("part stream length %d does not match declared size %d", len(data), size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mp, ok := s.multiparts[uploadID]
	if !ok || mp.key != key {
		return objstore.Part{}, fault.NewNotFound(uploadID, "multipart upload")
	}

	etag := fmt.Sprintf("%q", fmt.Sprintf("part-%s-%d", uploadID[:8], index))
	mp.parts[index] = data
	mp.etags[index] = etag

	return objstore.Part{Index: index, ETag: etag, Size: int64(len(data))}, nil
}

// CompleteMultipart assembles the named parts in index order into the final
// object and discards the upload state.
func (s *Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []objstore.Part) (objstore.PutResult, error) {
	if len(parts) == 0 {
		return objstore.PutResult{}, fault.NewInvalid("multipart completion requires at least one part")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mp, ok := s.multiparts[uploadID]
	if !ok || mp.key != key {
		return objstore.PutResult{}, fault.NewNotFound(uploadID, "multipart upload")
	}

	var assembled []byte
	prev := int32(0)
	for _, p := range parts {
		if p.Index <= prev {
			return objstore.PutResult{}, fault.NewInvalidf("part indices must be strictly ascending, got %d after %d", p.Index, prev)
		}
		data, ok := mp.parts[p.Index]
		if !ok {
			return objstore.PutResult{}, fault.NewInvalidf("part %d was never uploaded", p.Index)
		}
		if mp.etags[p.Index] != p.ETag {
			return objstore.PutResult{}, fault.NewInvalidf("part %d etag mismatch", p.Index)
		}
		assembled = append(assembled, data...)
		prev = p.Index
	}

	delete(s.multiparts, uploadID)
	s.putSeq++
	etag := fmt.Sprintf("%q", fmt.Sprintf("mem-mp-%d", s.putSeq))
	s.objects[key] = &object{
		data:        assembled,
		contentType: mp.contentType,
		etag:        etag,
		updatedAt:   time.Now().UTC(),
	}

	return objstore.PutResult{Location: "memory://" + key, ETag: etag}, nil
}

// AbortMultipart discards upload state. Unknown uploads are ignored.
func (s *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.multiparts, uploadID)
	return nil
}

// PartSize returns the configured part flush granularity.
func (s *Store) PartSize() int64 {
	return s.partSize
}

// EnsureBucket is a no-op: the map always exists.
func (s *Store) EnsureBucket(ctx context.Context) error {
	return nil
}

// Health always reports healthy.
func (s *Store) Health(ctx context.Context) error {
	return nil
}

// Backend names the implementation.
func (s *Store) Backend() string {
	return "memory"
}

// OpenMultipartCount reports uploads that were created but neither completed
// nor aborted. Tests use it to verify cleanup.
func (s *Store) OpenMultipartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.multiparts)
}

// objectInfo derives the public metadata view. Stored objects are never
// mutated after insertion, so no lock is needed to read one.
func objectInfo(key string, obj *object) objstore.ObjectInfo {
	return objstore.ObjectInfo{
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		ETag:        obj.etag,
		UpdatedAt:   obj.updatedAt,
	}
}

func cloneMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	clone := make(map[string]string, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
