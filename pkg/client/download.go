package client

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/freightcore/freightcore/internal/protocol/freight/rpc"
)

// DownloadStats summarizes a completed download stream.
type DownloadStats struct {
	// TotalSize is the full selected size in bytes as announced by the
	// server (the range length for ranged downloads).
	TotalSize int64

	// BytesReceived counts payload bytes written to the destination.
	BytesReceived int64
}

// ProgressSnapshot is one observed state of a tracked operation.
type ProgressSnapshot struct {
	OperationID    string
	Status         string
	BytesProcessed int64
	BytesTotal     int64
	SpeedBPS       float64
	ETASeconds     int64
	Message        string
	Error          string
	StartedAt      time.Time
	UpdatedAt      time.Time

	// FinishedAt is zero while the operation is live.
	FinishedAt time.Time
}

// Terminal reports whether the snapshot is the last one the stream will
// carry for its operation.
func (s ProgressSnapshot) Terminal() bool {
	return s.Status == "completed" || s.Status == "failed"
}

// Download streams an artifact, or a byte range of it, into w. Frames are
// verified to arrive in sequence; the stream ends with the server's final
// frame. The stats are valid even when an error cut the stream short.
func (c *Client) Download(ctx context.Context, coord Coordinate, rng *ByteRange, w io.Writer) (DownloadStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := &rpc.DownloadRequest{Coordinate: coord.wire()}
	if rng != nil {
		req.HasRange = true
		req.RangeStart = rng.Start
		req.RangeEnd = rng.End
	}

	var stats DownloadStats
	xid, err := c.send(ctx, rpc.ProcDownload, req)
	if err != nil {
		return stats, err
	}

	stop := c.interruptOnCancel(ctx)
	defer stop()

	var next uint64 = 1
	for {
		var frame rpc.DownloadFrame
		if err := c.receive(ctx, xid, &frame, true); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return stats, cerr
			}
			return stats, err
		}

		if frame.Sequence != next {
			c.closeBroken()
			return stats, fmt.Errorf("download frame %d out of order, want %d", frame.Sequence, next)
		}
		next++

		stats.TotalSize = frame.TotalSize
		if len(frame.Payload) > 0 {
			if _, err := w.Write(frame.Payload); err != nil {
				// Dropping the connection is what tells the server to
				// stop producing frames.
				c.closeBroken()
				return stats, fmt.Errorf("write download payload: %w", err)
			}
			stats.BytesReceived += int64(len(frame.Payload))
		}

		if frame.IsFinal {
			return stats, nil
		}
	}
}

// SubscribeProgress streams snapshots of a tracked operation to fn until a
// terminal snapshot arrives, fn returns an error, or ctx is cancelled. The
// first snapshot is the operation's current state, so late subscribers see
// where the operation stands immediately.
func (c *Client) SubscribeProgress(ctx context.Context, operationID string, fn func(ProgressSnapshot) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	xid, err := c.send(ctx, rpc.ProcSubscribeProgress, &rpc.SubscribeProgressRequest{OperationID: operationID})
	if err != nil {
		return err
	}

	stop := c.interruptOnCancel(ctx)
	defer stop()

	for {
		var wire rpc.ProgressSnapshot
		if err := c.receive(ctx, xid, &wire, true); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return err
		}

		snap := snapshotFromWire(wire)
		if err := fn(snap); err != nil {
			c.closeBroken()
			return err
		}
		if snap.Terminal() {
			return nil
		}
	}
}

func snapshotFromWire(w rpc.ProgressSnapshot) ProgressSnapshot {
	snap := ProgressSnapshot{
		OperationID:    w.OperationID,
		Status:         w.Status,
		BytesProcessed: w.BytesProcessed,
		BytesTotal:     w.BytesTotal,
		SpeedBPS:       w.SpeedBPS,
		ETASeconds:     w.ETASeconds,
		Message:        w.Message,
		Error:          w.Error,
		StartedAt:      time.Unix(w.StartedAtUnix, 0),
		UpdatedAt:      time.Unix(w.UpdatedAtUnix, 0),
	}
	if w.FinishedAtUnix != 0 {
		snap.FinishedAt = time.Unix(w.FinishedAtUnix, 0)
	}
	return snap
}
