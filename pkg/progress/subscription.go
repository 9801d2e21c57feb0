package progress

import "sync"

// Subscription is one subscriber's view of an operation's snapshot stream.
//
// The stream delivers the snapshot current at subscribe time, then every
// subsequent publish, and closes after the terminal snapshot. Under buffer
// pressure intermediate snapshots are dropped oldest-first so the newest
// state wins; the terminal snapshot is the last value written and is never
// displaced.
type Subscription struct {
	reg         *Registry
	operationID string
	ch          chan Snapshot
	closeOnce   sync.Once
}

func newSubscription(r *Registry, operationID string, buffer int) *Subscription {
	return &Subscription{
		reg:         r,
		operationID: operationID,
		ch:          make(chan Snapshot, buffer),
	}
}

// Snapshots returns the snapshot stream. The channel is closed once the
// terminal snapshot has been buffered or the subscription is detached.
func (s *Subscription) Snapshots() <-chan Snapshot {
	return s.ch
}

// OperationID returns the operation this subscription observes.
func (s *Subscription) OperationID() string {
	return s.operationID
}

// Close detaches the subscription from the registry. The underlying
// operation is unaffected. Close is idempotent and safe to call
// concurrently with publishes.
func (s *Subscription) Close() {
	s.reg.detach(s)
}

// offer enqueues snap without ever blocking the publisher. When the buffer
// is full the oldest buffered snapshot is dropped to make room.
//
// Offers for one subscription are serialized by the record lock, so the
// terminal snapshot, being the final offer, cannot be displaced.
func (s *Subscription) offer(snap Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}

		select {
		case <-s.ch:
			if s.reg.metrics != nil {
				s.reg.metrics.RecordDroppedSnapshot()
			}
		default:
		}
	}
}

// closeChan closes the stream exactly once. Callers hold the record lock
// whenever the subscription might still receive offers.
func (s *Subscription) closeChan() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}
