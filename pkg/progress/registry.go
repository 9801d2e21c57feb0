package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/freightcore/freightcore/internal/logger"
)

const (
	// DefaultCoalesceInterval is the minimum gap between non-terminal
	// publishes of one record.
	DefaultCoalesceInterval = 500 * time.Millisecond

	// DefaultRetention is how long a terminal record stays queryable.
	DefaultRetention = 120 * time.Second

	// DefaultSubscriberBuffer is the per-subscription snapshot buffer.
	DefaultSubscriberBuffer = 16

	// minSubscriberBuffer is the smallest buffer the registry accepts.
	minSubscriberBuffer = 16
)

// Metrics records registry telemetry.
//
// A nil Metrics is valid and disables all recording.
type Metrics interface {
	// RecordSnapshot counts one published snapshot by status.
	RecordSnapshot(status Status)

	// RecordDroppedSnapshot counts a snapshot displaced by buffer pressure.
	RecordDroppedSnapshot()

	// SetActiveOperations reports the number of tracked operations.
	SetActiveOperations(count int)

	// SetActiveSubscribers reports the number of attached subscriptions.
	SetActiveSubscribers(count int)
}

// Config controls registry behavior.
type Config struct {
	// CoalesceInterval is the minimum gap between non-terminal publishes
	// of one record. Advances arriving faster are folded into the next
	// publish. Terminal snapshots are always published immediately.
	CoalesceInterval time.Duration

	// Retention is how long a terminal record remains queryable so slow
	// subscribers still observe completion.
	Retention time.Duration

	// SubscriberBuffer is the per-subscription snapshot buffer capacity.
	SubscriberBuffer int
}

func (c *Config) applyDefaults() {
	if c.CoalesceInterval <= 0 {
		c.CoalesceInterval = DefaultCoalesceInterval
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.SubscriberBuffer < minSubscriberBuffer {
		c.SubscriberBuffer = DefaultSubscriberBuffer
	}
}

// record is the live state behind one operation id. All fields are guarded
// by mu; publishes happen under mu so every subscription observes snapshots
// in publish order.
type record struct {
	mu sync.Mutex

	id             string
	status         Status
	bytesProcessed int64
	bytesTotal     int64
	message        string
	errLabel       string
	startedAt      time.Time
	updatedAt      time.Time
	finishedAt     *time.Time

	subscribers map[*Subscription]struct{}
	lastPublish time.Time
	dirty       bool // an advance happened since the last publish
	closed      bool // terminal snapshot has been published
	retainTimer *time.Timer
}

// Registry is the process-wide map of operation id to live progress state.
type Registry struct {
	cfg     Config
	metrics Metrics

	mu      sync.RWMutex
	records map[string]*record
	closed  bool

	subscriberCount atomic.Int64
}

// NewRegistry creates a progress registry.
//
// A nil metrics disables telemetry recording.
func NewRegistry(cfg Config, metrics Metrics) *Registry {
	cfg.applyDefaults()

	return &Registry{
		cfg:     cfg,
		metrics: metrics,
		records: make(map[string]*record),
	}
}

// Handle is the mutation capability for one record. It is held by the
// transfer task that owns the operation; subscribers never mutate.
type Handle struct {
	reg *Registry
	rec *record
}

// Open creates a record for operationID in state in_progress and publishes
// the initial snapshot. bytesTotal may be zero when the total is unknown.
//
// Opening an id that is already tracked supersedes the previous record:
// the old one is failed so its subscribers terminate cleanly.
func (r *Registry) Open(operationID string, bytesTotal int64) *Handle {
	now := time.Now()
	rec := &record{
		id:          operationID,
		status:      StatusInProgress,
		bytesTotal:  bytesTotal,
		startedAt:   now,
		updatedAt:   now,
		subscribers: make(map[*Subscription]struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		// Registry is shutting down: hand back a detached record so the
		// caller's advances go nowhere instead of panicking.
		return &Handle{reg: r, rec: rec}
	}
	prev := r.records[operationID]
	r.records[operationID] = rec
	count := len(r.records)
	r.mu.Unlock()

	if prev != nil {
		logger.Warn("Progress record superseded", "operation_id", operationID)
		r.finishRecord(prev, StatusFailed, "", "superseded")
	}

	if r.metrics != nil {
		r.metrics.SetActiveOperations(count)
	}

	// Publish the initial snapshot to subscribers that raced Open.
	rec.mu.Lock()
	rec.publishLocked(r, rec.snapshotLocked())
	rec.mu.Unlock()

	return &Handle{reg: r, rec: rec}
}

// Get returns the current snapshot for operationID. Terminal records remain
// visible until their retention window elapses.
func (r *Registry) Get(operationID string) (Snapshot, bool) {
	r.mu.RLock()
	rec := r.records[operationID]
	r.mu.RUnlock()

	if rec == nil {
		return Snapshot{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshotLocked(), true
}

// Subscribe attaches a subscription to operationID.
//
// The current snapshot is delivered immediately. If the operation is unknown
// a synthetic not_found terminator is delivered instead, and if it is already
// terminal only the terminal snapshot is delivered; in both cases the stream
// then closes. Otherwise the stream carries every subsequent publish up to
// and including the terminal snapshot.
func (r *Registry) Subscribe(operationID string) *Subscription {
	sub := newSubscription(r, operationID, r.cfg.SubscriberBuffer)

	r.mu.RLock()
	rec := r.records[operationID]
	r.mu.RUnlock()

	if rec == nil {
		sub.offer(syntheticNotFound(operationID))
		sub.closeChan()
		return sub
	}

	rec.mu.Lock()
	snap := rec.snapshotLocked()
	if rec.closed {
		rec.mu.Unlock()
		sub.offer(snap)
		sub.closeChan()
		return sub
	}
	rec.subscribers[sub] = struct{}{}
	// Deliver the initial snapshot under the record lock so a concurrent
	// advance cannot be observed before it.
	sub.offer(snap)
	rec.mu.Unlock()

	count := r.subscriberCount.Add(1)
	if r.metrics != nil {
		r.metrics.SetActiveSubscribers(int(count))
	}

	return sub
}

// Advance atomically adds delta to bytes_processed and publishes a snapshot,
// unless one was published within the coalesce interval. label, when
// non-empty, replaces the record's message.
//
// Advancing a terminal record is a no-op.
func (h *Handle) Advance(delta int64, label string) {
	rec := h.rec

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.closed {
		return
	}

	rec.bytesProcessed += delta
	rec.updatedAt = time.Now()
	if label != "" {
		rec.message = label
	}

	if time.Since(rec.lastPublish) < h.reg.cfg.CoalesceInterval {
		rec.dirty = true
		return
	}

	rec.publishLocked(h.reg, rec.snapshotLocked())
}

// Complete marks the operation successful and publishes the terminal
// snapshot. The record stays queryable for the retention window.
func (h *Handle) Complete(label string) {
	h.reg.finishRecord(h.rec, StatusCompleted, label, "")
}

// Fail marks the operation failed with a short stable error label and
// publishes the terminal snapshot.
func (h *Handle) Fail(errLabel string) {
	h.reg.finishRecord(h.rec, StatusFailed, "", errLabel)
}

// Snapshot returns the record's current snapshot.
func (h *Handle) Snapshot() Snapshot {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	return h.rec.snapshotLocked()
}

// OperationID returns the id this handle mutates.
func (h *Handle) OperationID() string {
	return h.rec.id
}

// finishRecord drives a record to its terminal state, flushes any coalesced
// advance first, closes all subscriptions, and schedules removal.
func (r *Registry) finishRecord(rec *record, status Status, label, errLabel string) {
	rec.mu.Lock()

	if rec.closed {
		rec.mu.Unlock()
		return
	}

	// Coalesced advances must still surface before the terminal snapshot.
	if rec.dirty {
		rec.publishLocked(r, rec.snapshotLocked())
	}

	now := time.Now()
	rec.status = status
	rec.updatedAt = now
	rec.finishedAt = &now
	if label != "" {
		rec.message = label
	}
	if errLabel != "" {
		rec.errLabel = errLabel
	}

	rec.publishLocked(r, rec.snapshotLocked())

	detached := len(rec.subscribers)
	for sub := range rec.subscribers {
		sub.closeChan()
	}
	rec.subscribers = nil
	rec.closed = true

	rec.retainTimer = time.AfterFunc(r.cfg.Retention, func() {
		r.remove(rec.id, rec)
	})
	rec.mu.Unlock()

	if detached > 0 {
		count := r.subscriberCount.Add(int64(-detached))
		if r.metrics != nil {
			r.metrics.SetActiveSubscribers(int(count))
		}
	}
}

// remove drops a terminal record once its retention window has elapsed.
func (r *Registry) remove(operationID string, rec *record) {
	r.mu.Lock()
	if current, ok := r.records[operationID]; ok && current == rec {
		delete(r.records, operationID)
	}
	count := len(r.records)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetActiveOperations(count)
	}
}

// detach removes a subscription from its record, if still attached.
func (r *Registry) detach(sub *Subscription) {
	r.mu.RLock()
	rec := r.records[sub.operationID]
	r.mu.RUnlock()

	if rec == nil {
		return
	}

	rec.mu.Lock()
	_, attached := rec.subscribers[sub]
	if attached {
		delete(rec.subscribers, sub)
		sub.closeChan()
	}
	rec.mu.Unlock()

	if attached {
		count := r.subscriberCount.Add(-1)
		if r.metrics != nil {
			r.metrics.SetActiveSubscribers(int(count))
		}
	}
}

// Close drains the registry: in-flight operations are failed with a
// "shutdown" label so attached subscribers observe a terminal snapshot,
// retention timers are stopped, and all records are dropped.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	records := r.records
	r.records = make(map[string]*record)
	r.mu.Unlock()

	for _, rec := range records {
		r.finishRecord(rec, StatusFailed, "", "shutdown")

		rec.mu.Lock()
		if rec.retainTimer != nil {
			rec.retainTimer.Stop()
		}
		rec.mu.Unlock()
	}

	if r.metrics != nil {
		r.metrics.SetActiveOperations(0)
	}
}

// snapshotLocked derives the public snapshot from the record state.
// Caller holds rec.mu.
func (rec *record) snapshotLocked() Snapshot {
	snap := Snapshot{
		OperationID:    rec.id,
		Status:         rec.status,
		BytesProcessed: rec.bytesProcessed,
		BytesTotal:     rec.bytesTotal,
		Message:        rec.message,
		Error:          rec.errLabel,
		StartedAt:      rec.startedAt,
		UpdatedAt:      rec.updatedAt,
		FinishedAt:     rec.finishedAt,
	}

	if elapsed := rec.updatedAt.Sub(rec.startedAt).Seconds(); elapsed > 0 && rec.bytesProcessed > 0 {
		snap.SpeedBPS = float64(rec.bytesProcessed) / elapsed
	}
	if snap.SpeedBPS > 0 && rec.bytesTotal > 0 {
		remaining := rec.bytesTotal - rec.bytesProcessed
		if remaining < 0 {
			remaining = 0
		}
		snap.ETASeconds = int64(float64(remaining) / snap.SpeedBPS)
	}

	return snap
}

// publishLocked delivers snap to every attached subscription.
// Caller holds rec.mu.
func (rec *record) publishLocked(r *Registry, snap Snapshot) {
	rec.lastPublish = time.Now()
	rec.dirty = false

	for sub := range rec.subscribers {
		sub.offer(snap)
	}

	if r.metrics != nil {
		r.metrics.RecordSnapshot(snap.Status)
	}
}
