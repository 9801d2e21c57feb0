package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/freightcore/freightcore/internal/logger"
	"github.com/freightcore/freightcore/pkg/fault"
)

// Defaults applied by Config.applyDefaults.
const (
	DefaultIdleTimeout       = 30 * time.Minute
	DefaultScanInterval      = time.Minute
	DefaultTerminalRetention = time.Minute
	DefaultMaxSessions       = 256
	DefaultMaxInflightBytes  = 1 << 30
)

// Metrics receives store gauge updates. Implementations must be safe for
// concurrent use. A nil Metrics is valid and disables instrumentation.
type Metrics interface {
	// SetActiveSessions reports the number of non-terminal sessions.
	SetActiveSessions(count int)

	// SetInflightBytes reports the aggregate buffered payload bytes.
	SetInflightBytes(bytes int64)

	// RecordSessionExpired counts sessions aborted by the idle janitor.
	RecordSessionExpired()
}

// ExpireFunc is invoked by the janitor for each session whose idle timeout
// elapsed. The callback owns the abort (adapter cleanup, progress failure);
// the store only detects staleness. Called without store locks held.
type ExpireFunc func(sess *Session)

// Config tunes the store limits and the janitor cadence.
type Config struct {
	// IdleTimeout aborts sessions with no chunk activity for this long.
	IdleTimeout time.Duration

	// ScanInterval is the janitor wake-up period.
	ScanInterval time.Duration

	// TerminalRetention keeps finished sessions queryable before removal.
	TerminalRetention time.Duration

	// MaxSessions caps concurrently live sessions.
	MaxSessions int

	// MaxInflightBytes caps aggregate buffered bytes across live sessions.
	// New sessions are rejected once the cap is reached; existing sessions
	// are never degraded.
	MaxInflightBytes int64
}

func (c *Config) applyDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.TerminalRetention <= 0 {
		c.TerminalRetention = DefaultTerminalRetention
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.MaxInflightBytes <= 0 {
		c.MaxInflightBytes = DefaultMaxInflightBytes
	}
}

// Store is the in-memory session map with an idle-eviction janitor.
type Store struct {
	cfg     Config
	expire  ExpireFunc
	metrics Metrics

	mu       sync.RWMutex // Protects sessions
	sessions map[string]*Session

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	stopped chan struct{}
}

// NewStore creates a store. The janitor does not run until Start.
func NewStore(cfg Config, expire ExpireFunc, metrics Metrics) *Store {
	cfg.applyDefaults()
	return &Store{
		cfg:      cfg,
		expire:   expire,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

// Add registers a session, enforcing the session-count and aggregate
// in-flight byte caps. Rejections are ResourceExhausted.
func (s *Store) Add(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	live, inflight := s.tallyLocked()
	if live >= s.cfg.MaxSessions {
		return fault.NewResourceExhausted(fmt.Sprintf("session limit %d reached", s.cfg.MaxSessions))
	}
	if inflight >= s.cfg.MaxInflightBytes {
		return fault.NewResourceExhausted(fmt.Sprintf("in-flight byte budget %d exhausted", s.cfg.MaxInflightBytes))
	}
	if _, exists := s.sessions[sess.ID()]; exists {
		return fault.NewConflict(sess.ID(), "session id already in use")
	}

	s.sessions[sess.ID()] = sess
	if s.metrics != nil {
		s.metrics.SetActiveSessions(live + 1)
		s.metrics.SetInflightBytes(inflight)
	}
	return nil
}

// Get returns the session for id, or NotFound.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fault.NewNotFound(id, "session")
	}
	return sess, nil
}

// Remove drops the session for id, if present.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	if s.metrics != nil {
		live, inflight := s.tallyLocked()
		s.metrics.SetActiveSessions(live)
		s.metrics.SetInflightBytes(inflight)
	}
}

// Len returns the number of tracked sessions, terminal ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sessions returns a snapshot of all tracked sessions.
func (s *Store) Sessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// tallyLocked counts live sessions and their buffered bytes. Caller holds
// s.mu in either mode. Lock order is s.mu before each session's metadata
// mutex.
func (s *Store) tallyLocked() (live int, inflight int64) {
	for _, sess := range s.sessions {
		v := sess.View()
		if v.Status.Terminal() {
			continue
		}
		live++
		inflight += v.BufferedBytes
	}
	return live, inflight
}

// Start launches the background janitor. Safe to call multiple times.
func (s *Store) Start() {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	s.runMu.Unlock()

	go s.scanLoop()
}

// Stop halts the janitor and blocks until the loop has exited. Safe to
// call multiple times.
func (s *Store) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.runMu.Unlock()

	<-s.stopped
}

// IsRunning reports whether the janitor loop is active.
func (s *Store) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *Store) scanLoop() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

// sweep aborts idle sessions through the expire callback and removes
// terminal sessions past their retention window.
func (s *Store) sweep(now time.Time) {
	var expired []*Session
	var stale []string

	s.mu.RLock()
	for id, sess := range s.sessions {
		v := sess.View()
		if v.Status.Terminal() {
			if now.Sub(v.LastActivity) > s.cfg.TerminalRetention {
				stale = append(stale, id)
			}
			continue
		}
		if now.Sub(v.LastActivity) > s.cfg.IdleTimeout {
			expired = append(expired, sess)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		s.Remove(id)
	}

	for _, sess := range expired {
		logger.Info("Session janitor: aborting idle session",
			"sessionID", sess.ID(),
			"artifact", sess.Coordinate().String(),
			"idleFor", now.Sub(sess.LastActivity()).Round(time.Second))
		if s.metrics != nil {
			s.metrics.RecordSessionExpired()
		}
		if s.expire != nil {
			s.expire(sess)
		}
	}

	if s.metrics != nil {
		s.mu.RLock()
		live, inflight := s.tallyLocked()
		s.mu.RUnlock()
		s.metrics.SetActiveSessions(live)
		s.metrics.SetInflightBytes(inflight)
	}
}
