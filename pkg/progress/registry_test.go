package progress

import (
	"sync"
	"testing"
	"time"
)

// newTestRegistry returns a registry with fast timings for tests.
func newTestRegistry() *Registry {
	return NewRegistry(Config{
		CoalesceInterval: time.Nanosecond,
		Retention:        time.Hour,
	}, nil)
}

// recvSnapshot receives one snapshot or fails the test.
func recvSnapshot(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Snapshots():
		if !ok {
			t.Fatal("snapshot stream closed unexpectedly")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}

// drain collects snapshots until the stream closes.
func drain(t *testing.T, sub *Subscription) []Snapshot {
	t.Helper()
	var snaps []Snapshot
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return snaps
			}
			snaps = append(snaps, snap)
		case <-deadline:
			t.Fatal("timed out draining snapshots")
		}
	}
}

func TestRegistry_SubscribeReceivesCurrentSnapshot(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	h := r.Open("op-1", 1000)
	h.Advance(250, "uploading")

	sub := r.Subscribe("op-1")
	defer sub.Close()

	snap := recvSnapshot(t, sub)
	if snap.OperationID != "op-1" {
		t.Errorf("OperationID = %q, want op-1", snap.OperationID)
	}
	if snap.Status != StatusInProgress {
		t.Errorf("Status = %q, want in_progress", snap.Status)
	}
	if snap.BytesProcessed != 250 {
		t.Errorf("BytesProcessed = %d, want 250", snap.BytesProcessed)
	}
	if snap.BytesTotal != 1000 {
		t.Errorf("BytesTotal = %d, want 1000", snap.BytesTotal)
	}
	if snap.Message != "uploading" {
		t.Errorf("Message = %q, want uploading", snap.Message)
	}
}

func TestRegistry_MonotoneProgressTerminalLast(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	h := r.Open("op-1", 300)
	sub := r.Subscribe("op-1")

	h.Advance(100, "")
	h.Advance(100, "")
	h.Advance(100, "")
	h.Complete("done")

	snaps := drain(t, sub)
	if len(snaps) == 0 {
		t.Fatal("no snapshots received")
	}

	var last int64 = -1
	for i, snap := range snaps {
		if snap.BytesProcessed < last {
			t.Errorf("snapshot %d: bytes went backwards (%d after %d)", i, snap.BytesProcessed, last)
		}
		last = snap.BytesProcessed
		if snap.Terminal() && i != len(snaps)-1 {
			t.Errorf("terminal snapshot at position %d of %d", i, len(snaps))
		}
	}

	final := snaps[len(snaps)-1]
	if final.Status != StatusCompleted {
		t.Errorf("final Status = %q, want completed", final.Status)
	}
	if final.BytesProcessed != 300 {
		t.Errorf("final BytesProcessed = %d, want 300", final.BytesProcessed)
	}
	if final.FinishedAt == nil {
		t.Error("final FinishedAt is nil")
	}
}

func TestRegistry_SlowSubscriberDoesNotBlockAdvance(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	h := r.Open("op-1", 10000)

	// This subscriber never reads.
	slow := r.Subscribe("op-1")

	fast := r.Subscribe("op-1")
	var fastLast Snapshot
	var fastMu sync.Mutex
	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		for snap := range fast.Snapshots() {
			fastMu.Lock()
			fastLast = snap
			fastMu.Unlock()
		}
	}()

	// All advances must return without waiting on the slow subscriber.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			h.Advance(10, "")
		}
		h.Complete("")
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("advances blocked by a slow subscriber")
	}

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fast subscriber stream did not close")
	}

	fastMu.Lock()
	if fastLast.Status != StatusCompleted {
		t.Errorf("fast subscriber final Status = %q, want completed", fastLast.Status)
	}
	fastMu.Unlock()

	// The slow subscriber still finds the terminal snapshot when it drains.
	snaps := drain(t, slow)
	if len(snaps) == 0 {
		t.Fatal("slow subscriber received nothing")
	}
	if got := snaps[len(snaps)-1]; got.Status != StatusCompleted {
		t.Errorf("slow subscriber final Status = %q, want completed", got.Status)
	}
}

func TestRegistry_LatestWinsUnderBufferPressure(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	h := r.Open("op-1", 0)
	sub := r.Subscribe("op-1")

	for i := 0; i < 200; i++ {
		h.Advance(1, "")
	}
	h.Fail("io_error")

	snaps := drain(t, sub)
	if len(snaps) == 0 {
		t.Fatal("no snapshots received")
	}
	if len(snaps) > DefaultSubscriberBuffer {
		t.Errorf("drained %d snapshots, buffer capacity is %d", len(snaps), DefaultSubscriberBuffer)
	}

	var last int64 = -1
	for i, snap := range snaps {
		if snap.BytesProcessed < last {
			t.Errorf("snapshot %d: bytes went backwards (%d after %d)", i, snap.BytesProcessed, last)
		}
		last = snap.BytesProcessed
	}

	final := snaps[len(snaps)-1]
	if final.Status != StatusFailed {
		t.Errorf("final Status = %q, want failed", final.Status)
	}
	if final.Error != "io_error" {
		t.Errorf("final Error = %q, want io_error", final.Error)
	}
}

func TestRegistry_TerminalDeliveredToAllSubscribers(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	h := r.Open("op-1", 100)

	subs := []*Subscription{
		r.Subscribe("op-1"),
		r.Subscribe("op-1"),
		r.Subscribe("op-1"),
	}

	h.Advance(100, "")
	h.Complete("")

	for i, sub := range subs {
		snaps := drain(t, sub)
		if len(snaps) == 0 {
			t.Fatalf("subscriber %d received nothing", i)
		}
		terminals := 0
		for _, snap := range snaps {
			if snap.Terminal() {
				terminals++
			}
		}
		if terminals != 1 {
			t.Errorf("subscriber %d observed %d terminal snapshots, want exactly 1", i, terminals)
		}
		if !snaps[len(snaps)-1].Terminal() {
			t.Errorf("subscriber %d: last snapshot is not terminal", i)
		}
	}
}

func TestRegistry_SubscribeUnknownOperation(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	sub := r.Subscribe("never-existed")

	snaps := drain(t, sub)
	if len(snaps) != 1 {
		t.Fatalf("received %d snapshots, want exactly 1", len(snaps))
	}

	snap := snaps[0]
	if snap.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", snap.Status)
	}
	if snap.Error != NotFoundError {
		t.Errorf("Error = %q, want %q", snap.Error, NotFoundError)
	}
	if snap.FinishedAt == nil {
		t.Error("FinishedAt is nil on synthetic terminator")
	}
}

func TestRegistry_SubscribeAfterTerminalWithinRetention(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	h := r.Open("op-1", 50)
	h.Advance(50, "")
	h.Complete("done")

	sub := r.Subscribe("op-1")
	snaps := drain(t, sub)
	if len(snaps) != 1 {
		t.Fatalf("received %d snapshots, want exactly 1", len(snaps))
	}
	if snaps[0].Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", snaps[0].Status)
	}
	if snaps[0].BytesProcessed != 50 {
		t.Errorf("BytesProcessed = %d, want 50", snaps[0].BytesProcessed)
	}
}

func TestRegistry_RecordRemovedAfterRetention(t *testing.T) {
	r := NewRegistry(Config{
		CoalesceInterval: time.Nanosecond,
		Retention:        50 * time.Millisecond,
	}, nil)
	defer r.Close()

	h := r.Open("op-1", 10)
	h.Complete("")

	if _, ok := r.Get("op-1"); !ok {
		t.Fatal("terminal record not queryable inside the retention window")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := r.Get("op-1"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("record still present long after retention elapsed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A fresh subscription now sees the synthetic terminator.
	sub := r.Subscribe("op-1")
	snaps := drain(t, sub)
	if len(snaps) != 1 || snaps[0].Error != NotFoundError {
		t.Errorf("expected a single not_found terminator, got %+v", snaps)
	}
}

func TestRegistry_CoalescingFoldsIntermediateAdvances(t *testing.T) {
	r := NewRegistry(Config{
		CoalesceInterval: time.Hour,
		Retention:        time.Hour,
	}, nil)
	defer r.Close()

	h := r.Open("op-1", 60)
	sub := r.Subscribe("op-1")

	h.Advance(10, "")
	h.Advance(20, "")
	h.Advance(30, "")
	h.Complete("")

	snaps := drain(t, sub)

	// Initial snapshot, the flushed pre-terminal state, then the terminal.
	if len(snaps) != 3 {
		t.Fatalf("received %d snapshots, want 3: %+v", len(snaps), snaps)
	}
	if snaps[0].BytesProcessed != 0 || snaps[0].Status != StatusInProgress {
		t.Errorf("initial snapshot = %+v", snaps[0])
	}
	if snaps[1].BytesProcessed != 60 || snaps[1].Status != StatusInProgress {
		t.Errorf("pre-terminal snapshot = %+v", snaps[1])
	}
	if snaps[2].BytesProcessed != 60 || snaps[2].Status != StatusCompleted {
		t.Errorf("terminal snapshot = %+v", snaps[2])
	}
}

func TestRegistry_GetDerivesSpeedAndETA(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	h := r.Open("op-1", 1000)

	// Right after open there is no elapsed time and no bytes.
	snap, ok := r.Get("op-1")
	if !ok {
		t.Fatal("record not found")
	}
	if snap.SpeedBPS != 0 {
		t.Errorf("initial SpeedBPS = %f, want 0", snap.SpeedBPS)
	}

	time.Sleep(20 * time.Millisecond)
	h.Advance(500, "")

	snap, ok = r.Get("op-1")
	if !ok {
		t.Fatal("record not found")
	}
	if snap.SpeedBPS <= 0 {
		t.Errorf("SpeedBPS = %f, want > 0", snap.SpeedBPS)
	}
	if snap.ETASeconds < 0 {
		t.Errorf("ETASeconds = %d, want >= 0", snap.ETASeconds)
	}
	if snap.BytesProcessed != 500 {
		t.Errorf("BytesProcessed = %d, want 500", snap.BytesProcessed)
	}
}

func TestRegistry_AdvanceAfterTerminalIsNoOp(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	h := r.Open("op-1", 100)
	h.Advance(100, "")
	h.Complete("")

	h.Advance(50, "late")
	h.Fail("late failure")

	snap, ok := r.Get("op-1")
	if !ok {
		t.Fatal("record not found")
	}
	if snap.BytesProcessed != 100 {
		t.Errorf("BytesProcessed = %d, want 100", snap.BytesProcessed)
	}
	if snap.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", snap.Status)
	}
	if snap.Error != "" {
		t.Errorf("Error = %q, want empty", snap.Error)
	}
}

func TestRegistry_SupersededOpenFailsPreviousRecord(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	r.Open("op-1", 100)
	sub := r.Subscribe("op-1")

	h2 := r.Open("op-1", 200)

	snaps := drain(t, sub)
	if len(snaps) == 0 {
		t.Fatal("no snapshots received")
	}
	final := snaps[len(snaps)-1]
	if final.Status != StatusFailed || final.Error != "superseded" {
		t.Errorf("final snapshot = %+v, want failed/superseded", final)
	}

	// The new record is live and independent.
	sub2 := r.Subscribe("op-1")
	snap := recvSnapshot(t, sub2)
	if snap.Status != StatusInProgress || snap.BytesTotal != 200 {
		t.Errorf("new record snapshot = %+v", snap)
	}
	sub2.Close()
	h2.Complete("")
}

func TestRegistry_SubscriptionCloseDetaches(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	h := r.Open("op-1", 100)

	sub := r.Subscribe("op-1")
	other := r.Subscribe("op-1")

	// Consume the initial snapshot, then detach.
	recvSnapshot(t, sub)
	sub.Close()
	sub.Close() // idempotent

	if _, ok := <-sub.Snapshots(); ok {
		t.Error("detached subscription stream still open")
	}

	// The operation and the other subscriber are unaffected.
	h.Advance(100, "")
	h.Complete("")

	snaps := drain(t, other)
	if len(snaps) == 0 || !snaps[len(snaps)-1].Terminal() {
		t.Error("remaining subscriber did not observe the terminal snapshot")
	}
}

func TestRegistry_CloseFailsInFlightOperations(t *testing.T) {
	r := newTestRegistry()

	h := r.Open("op-1", 100)
	h.Advance(40, "")
	sub := r.Subscribe("op-1")

	r.Close()
	r.Close() // idempotent

	snaps := drain(t, sub)
	if len(snaps) == 0 {
		t.Fatal("no snapshots received")
	}
	final := snaps[len(snaps)-1]
	if final.Status != StatusFailed || final.Error != "shutdown" {
		t.Errorf("final snapshot = %+v, want failed/shutdown", final)
	}

	if _, ok := r.Get("op-1"); ok {
		t.Error("record still queryable after Close")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusInProgress.Terminal() {
		t.Error("in_progress must not be terminal")
	}
	if !StatusCompleted.Terminal() {
		t.Error("completed must be terminal")
	}
	if !StatusFailed.Terminal() {
		t.Error("failed must be terminal")
	}
}
