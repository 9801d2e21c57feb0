// Package bufpool provides a tiered buffer pool for efficient memory reuse.
//
// The pool hands out reusable byte slices for I/O heavy paths (RPC frame
// reads, object store read chunking), reducing GC pressure from short-lived
// message buffers. Three size tiers balance memory efficiency with reuse:
//
//   - Small buffers (4KB): control messages and small replies
//   - Medium buffers (256KB): download read chunks and typical upload chunks
//   - Large buffers (1MB): bulk transfer frames
//
// Requests larger than the large tier are allocated directly and never
// pooled, so occasional oversized chunks do not pin memory.
//
// All operations are safe for concurrent use.
package bufpool

import (
	"sync"
)

// Default buffer size classes. These can be overridden with NewPool.
const (
	// DefaultSmallSize covers control messages and unary replies (4KB)
	DefaultSmallSize = 4 << 10

	// DefaultMediumSize covers the default read/chunk granularity (256KB)
	DefaultMediumSize = 256 << 10

	// DefaultLargeSize covers bulk transfer frames (1MB)
	DefaultLargeSize = 1 << 20
)

// Pool manages byte slice pools organized by size class. It selects the
// appropriate class for a requested size and falls back to direct allocation
// for oversized requests.
type Pool struct {
	small      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	smallSize  int
	mediumSize int
	largeSize  int
}

// Config holds size-class overrides for a custom pool.
type Config struct {
	SmallSize  int
	MediumSize int
	LargeSize  int
}

// NewPool creates a buffer pool with the given configuration.
// If cfg is nil, default tier sizes are used.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.MediumSize <= 0 {
		cfg.MediumSize = DefaultMediumSize
	}
	if cfg.LargeSize <= 0 {
		cfg.LargeSize = DefaultLargeSize
	}

	p := &Pool{
		smallSize:  cfg.SmallSize,
		mediumSize: cfg.MediumSize,
		largeSize:  cfg.LargeSize,
	}

	p.small = sync.Pool{
		New: func() any {
			buf := make([]byte, p.smallSize)
			return &buf
		},
	}
	p.medium = sync.Pool{
		New: func() any {
			buf := make([]byte, p.mediumSize)
			return &buf
		},
	}
	p.large = sync.Pool{
		New: func() any {
			buf := make([]byte, p.largeSize)
			return &buf
		},
	}

	return p
}

// Get returns a byte slice of exactly the requested length, backed by a
// pooled buffer whose capacity may exceed it. The caller must return the
// buffer with Put when finished.
//
// Sizes above the large tier are allocated directly and will not be pooled.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// Put returns a buffer to the pool for reuse. The buffer must have come from
// Get and must not be used afterwards. Oversized buffers are left to the GC.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	// The owning tier is identified by capacity; anything else is not ours
	// to pool.
	switch cap(buf) {
	case p.smallSize:
		fullBuf := buf[:cap(buf)]
		p.small.Put(&fullBuf)
	case p.mediumSize:
		fullBuf := buf[:cap(buf)]
		p.medium.Put(&fullBuf)
	case p.largeSize:
		fullBuf := buf[:cap(buf)]
		p.large.Put(&fullBuf)
	}
}

// globalPool is the package-level pool with default configuration.
var globalPool = NewPool(nil)

// Get returns a byte slice of at least the requested size from the global pool.
//
// Usage:
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}

// GetUint32 is a convenience wrapper for protocols that carry uint32 sizes.
func GetUint32(size uint32) []byte {
	return globalPool.Get(int(size))
}
