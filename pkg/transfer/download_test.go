package transfer

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/freightcore/freightcore/pkg/fault"
	"github.com/freightcore/freightcore/pkg/objstore"
	"github.com/freightcore/freightcore/pkg/objstore/memory"
	"github.com/freightcore/freightcore/pkg/progress"
)

// putObject seeds the store with data under the test coordinate.
func putObject(t *testing.T, store *memory.Store, data []byte) objstore.Coordinate {
	t.Helper()
	coord := testCoordinate()
	_, err := store.Put(context.Background(), coord.Key(), bytes.NewReader(data), int64(len(data)), "application/octet-stream", nil)
	if err != nil {
		t.Fatalf("seeding object: %v", err)
	}
	return coord
}

// collectFrames copies every frame, since payloads alias the read buffer.
type collectedFrame struct {
	sequence  uint64
	payload   []byte
	totalSize int64
	isFinal   bool
}

func collectFrames(frames *[]collectedFrame) FrameSink {
	return func(f Frame) error {
		*frames = append(*frames, collectedFrame{
			sequence:  f.Sequence,
			payload:   append([]byte(nil), f.Payload...),
			totalSize: f.TotalSize,
			isFinal:   f.IsFinal,
		})
		return nil
	}
}

func TestDownloadWholeObject(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, Config{DownloadReadChunkBytes: minReadChunk}, store)

	data := bytes.Repeat([]byte("freight-core-"), 12000) // ~156 KB, spans three reads
	coord := putObject(t, store, data)

	var frames []collectedFrame
	res, err := svc.Download(context.Background(), coord, nil, collectFrames(&frames))
	if err != nil {
		t.Fatalf("Download error: %v", err)
	}
	if res.BytesSent != int64(len(data)) {
		t.Errorf("BytesSent = %d, want %d", res.BytesSent, len(data))
	}
	if res.OperationID == "" {
		t.Error("Download returned empty operation id")
	}
	if res.Info.Size != int64(len(data)) {
		t.Errorf("Info.Size = %d, want %d", res.Info.Size, len(data))
	}

	if len(frames) < 2 {
		t.Fatalf("frames = %d, want data frames plus a final frame", len(frames))
	}
	var assembled []byte
	for i, f := range frames {
		if f.sequence != uint64(i+1) {
			t.Errorf("frame[%d].sequence = %d, want %d", i, f.sequence, i+1)
		}
		if f.totalSize != int64(len(data)) {
			t.Errorf("frame[%d].totalSize = %d, want %d", i, f.totalSize, len(data))
		}
		last := i == len(frames)-1
		if f.isFinal != last {
			t.Errorf("frame[%d].isFinal = %v, want %v", i, f.isFinal, last)
		}
		if last && len(f.payload) != 0 {
			t.Errorf("final frame carries %d payload bytes, want 0", len(f.payload))
		}
		if !last {
			if len(f.payload) == 0 {
				t.Errorf("data frame[%d] has empty payload", i)
			}
			if int64(len(f.payload)) > minReadChunk {
				t.Errorf("frame[%d] payload = %d bytes, exceeds read chunk %d", i, len(f.payload), minReadChunk)
			}
			assembled = append(assembled, f.payload...)
		}
	}
	if !bytes.Equal(assembled, data) {
		t.Errorf("assembled stream differs: got %d bytes, want %d", len(assembled), len(data))
	}

	snap, ok := svc.registry.Get(res.OperationID)
	if !ok {
		t.Fatal("progress record missing after download")
	}
	if snap.Status != progress.StatusCompleted || snap.BytesProcessed != int64(len(data)) {
		t.Errorf("progress = %s/%d, want completed/%d", snap.Status, snap.BytesProcessed, len(data))
	}
	if snap.BytesTotal != int64(len(data)) {
		t.Errorf("progress BytesTotal = %d, want %d", snap.BytesTotal, len(data))
	}
}

func TestDownloadByteRange(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, Config{}, store)

	data := make([]byte, 200000)
	for i := range data {
		data[i] = byte(i)
	}
	coord := putObject(t, store, data)

	rng := &objstore.ByteRange{Start: 100000, End: 160000}
	var frames []collectedFrame
	res, err := svc.Download(context.Background(), coord, rng, collectFrames(&frames))
	if err != nil {
		t.Fatalf("Download error: %v", err)
	}
	if res.BytesSent != 60000 {
		t.Errorf("BytesSent = %d, want 60000", res.BytesSent)
	}
	// Info still reports the full object size.
	if res.Info.Size != int64(len(data)) {
		t.Errorf("Info.Size = %d, want %d", res.Info.Size, len(data))
	}

	var assembled []byte
	for _, f := range frames {
		if f.totalSize != 60000 {
			t.Errorf("frame totalSize = %d, want range length 60000", f.totalSize)
		}
		assembled = append(assembled, f.payload...)
	}
	if !bytes.Equal(assembled, data[100000:160000]) {
		t.Error("ranged stream does not match the requested subset")
	}

	snap, _ := svc.registry.Get(res.OperationID)
	if snap.BytesTotal != 60000 {
		t.Errorf("progress BytesTotal = %d, want range length 60000", snap.BytesTotal)
	}
}

func TestDownloadRangeClampsToObjectEnd(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, Config{}, store)

	data := bytes.Repeat([]byte{0x7}, 50000)
	coord := putObject(t, store, data)

	rng := &objstore.ByteRange{Start: 40000, End: 999999}
	var frames []collectedFrame
	res, err := svc.Download(context.Background(), coord, rng, collectFrames(&frames))
	if err != nil {
		t.Fatalf("Download error: %v", err)
	}
	if res.BytesSent != 10000 {
		t.Errorf("BytesSent = %d, want clamped 10000", res.BytesSent)
	}
}

func TestDownloadRangeValidation(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, Config{}, store)
	coord := putObject(t, store, []byte("short object"))
	ctx := context.Background()
	discard := func(Frame) error { return nil }

	cases := []struct {
		name string
		rng  objstore.ByteRange
	}{
		{"negative start", objstore.ByteRange{Start: -1, End: 5}},
		{"empty", objstore.ByteRange{Start: 5, End: 5}},
		{"inverted", objstore.ByteRange{Start: 8, End: 3}},
		{"start beyond object", objstore.ByteRange{Start: 100, End: 200}},
	}
	for _, tc := range cases {
		rng := tc.rng
		if _, err := svc.Download(ctx, coord, &rng, discard); !fault.IsInvalid(err) {
			t.Errorf("%s: error = %v, want Invalid", tc.name, err)
		}
	}
}

func TestDownloadZeroByteObject(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, Config{}, store)
	coord := putObject(t, store, nil)

	var frames []collectedFrame
	res, err := svc.Download(context.Background(), coord, nil, collectFrames(&frames))
	if err != nil {
		t.Fatalf("Download error: %v", err)
	}
	if res.BytesSent != 0 {
		t.Errorf("BytesSent = %d, want 0", res.BytesSent)
	}
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want just the final frame", len(frames))
	}
	if !frames[0].isFinal || frames[0].sequence != 1 || len(frames[0].payload) != 0 {
		t.Errorf("final frame = %+v, want empty is_final sequence 1", frames[0])
	}

	snap, _ := svc.registry.Get(res.OperationID)
	if snap.Status != progress.StatusCompleted {
		t.Errorf("progress status = %s, want completed", snap.Status)
	}
}

func TestDownloadMissingObject(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, Config{}, store)

	_, err := svc.Download(context.Background(), testCoordinate(), nil, func(Frame) error { return nil })
	if !fault.IsNotFound(err) {
		t.Fatalf("Download error = %v, want NotFound", err)
	}
}

func TestDownloadInvalidCoordinate(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, Config{}, store)

	bad := testCoordinate()
	bad.Filename = "../escape"
	_, err := svc.Download(context.Background(), bad, nil, func(Frame) error { return nil })
	if !fault.IsInvalid(err) {
		t.Fatalf("Download error = %v, want Invalid", err)
	}
}

func TestDownloadSinkErrorMarksCancelled(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, Config{DownloadReadChunkBytes: minReadChunk}, store)

	data := bytes.Repeat([]byte{0x1}, 3*minReadChunk)
	coord := putObject(t, store, data)

	receiverGone := errors.New("receiver went away")
	calls := 0
	res, err := svc.Download(context.Background(), coord, nil, func(Frame) error {
		calls++
		if calls == 2 {
			return receiverGone
		}
		return nil
	})
	if !fault.IsCancelled(err) {
		t.Fatalf("Download error = %v, want Cancelled", err)
	}
	if !errors.Is(err, receiverGone) {
		t.Errorf("error does not wrap the sink failure: %v", err)
	}
	if res.OperationID == "" {
		t.Fatal("result lost the operation id on the failure path")
	}

	snap, ok := svc.registry.Get(res.OperationID)
	if !ok {
		t.Fatal("progress record missing after sink failure")
	}
	if snap.Status != progress.StatusFailed || snap.Error != "cancelled" {
		t.Errorf("progress = %s/%q, want failed/cancelled", snap.Status, snap.Error)
	}
}

func TestDownloadContextCancelStopsStream(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, Config{DownloadReadChunkBytes: minReadChunk}, store)

	data := bytes.Repeat([]byte{0x2}, 4*minReadChunk)
	coord := putObject(t, store, data)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := 0
	res, err := svc.Download(ctx, coord, nil, func(f Frame) error {
		frames++
		cancel()
		return nil
	})
	if !fault.IsCancelled(err) {
		t.Fatalf("Download error = %v, want Cancelled", err)
	}
	if frames != 1 {
		t.Errorf("frames delivered after cancel = %d, want 1", frames)
	}

	snap, ok := svc.registry.Get(res.OperationID)
	if !ok {
		t.Fatal("progress record missing after cancel")
	}
	if snap.Status != progress.StatusFailed || snap.Error != "cancelled" {
		t.Errorf("progress = %s/%q, want failed/cancelled", snap.Status, snap.Error)
	}
	if snap.BytesProcessed >= int64(len(data)) {
		t.Errorf("BytesProcessed = %d, want a partial count below %d", snap.BytesProcessed, len(data))
	}
}
