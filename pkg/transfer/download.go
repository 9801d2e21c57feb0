package transfer

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/freightcore/freightcore/internal/bufpool"
	"github.com/freightcore/freightcore/internal/logger"
	"github.com/freightcore/freightcore/internal/telemetry"
	"github.com/freightcore/freightcore/pkg/fault"
	"github.com/freightcore/freightcore/pkg/objstore"
)

// Frame is one unit of a download stream. Data frames carry a non-empty
// payload with IsFinal false; the stream ends with exactly one empty
// frame with IsFinal true.
type Frame struct {
	// Sequence is 1-based and strictly increasing within one stream.
	Sequence uint64

	// Payload aliases an internal read buffer and is only valid until
	// the sink returns. Sinks that retain bytes must copy.
	Payload []byte

	// TotalSize is the byte count this stream carries: the range length
	// for ranged requests, otherwise the object size.
	TotalSize int64

	IsFinal bool
}

// FrameSink consumes stream frames in order. A non-nil return stops the
// stream; the transfer treats it as the receiver going away.
type FrameSink func(Frame) error

// DownloadResult summarises a finished stream.
type DownloadResult struct {
	// OperationID keys the progress record observers can subscribe to.
	OperationID string

	// Info is the object's metadata; Size is the full object size even
	// for ranged downloads.
	Info objstore.ObjectInfo

	BytesSent int64
}

// Download streams the artifact to sink as ordered frames, reading from
// the store in bounded chunks. rng selects a half-open byte subset; nil
// streams the whole object. Progress is published under a fresh
// operation id for the lifetime of the stream; once the stream has
// opened, the result carries that id even on error so callers can
// reference the failed record.
func (s *Service) Download(ctx context.Context, coordinate objstore.Coordinate, rng *objstore.ByteRange, sink FrameSink) (res DownloadResult, err error) {
	opID := uuid.NewString()

	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanTransferDownload,
		telemetry.StorageKey(coordinate.Key()),
		telemetry.OperationID(opID))
	defer span.End()
	defer func() { telemetry.RecordError(ctx, err) }()

	if err = coordinate.Validate(); err != nil {
		return DownloadResult{}, err
	}
	if rng != nil {
		if verr := rng.Validate(); verr != nil {
			err = fault.NewInvalidf("invalid byte range: %s", verr)
			return DownloadResult{}, err
		}
	}

	key := coordinate.Key()
	info, err := s.store.Head(ctx, key)
	if err != nil {
		return DownloadResult{}, err
	}

	total := info.Size
	if rng != nil {
		if rng.Start >= info.Size {
			err = fault.NewInvalidf("range start %d is beyond the %d byte object", rng.Start, info.Size)
			return DownloadResult{}, err
		}
		effective := *rng
		if effective.End > info.Size {
			effective.End = info.Size
		}
		total = effective.Length()
		rng = &effective
	}

	rc, _, err := s.store.Get(ctx, key, rng)
	if err != nil {
		return DownloadResult{}, err
	}
	defer rc.Close()

	h := s.registry.Open(opID, total)
	started := time.Now()
	if s.metrics != nil {
		s.metrics.RecordDownloadStarted()
	}

	var sent int64
	defer func() {
		if s.metrics != nil {
			outcome := "completed"
			switch {
			case err == nil:
			case fault.IsCancelled(err):
				outcome = "cancelled"
			default:
				outcome = "failed"
			}
			s.metrics.RecordDownloadFinished(outcome, sent, time.Since(started))
		}
	}()

	buf := bufpool.Get(int(s.cfg.DownloadReadChunkBytes))
	defer bufpool.Put(buf)

	res = DownloadResult{OperationID: opID, Info: info}

	var sequence uint64
	for {
		if cerr := ctx.Err(); cerr != nil {
			h.Fail("cancelled")
			err = fault.Wrap(fault.CodeCancelled, "download cancelled", cerr)
			return res, err
		}

		n, rerr := io.ReadFull(rc, buf)
		if n > 0 {
			sequence++
			frame := Frame{Sequence: sequence, Payload: buf[:n], TotalSize: total}
			if serr := sink(frame); serr != nil {
				h.Fail("cancelled")
				err = fault.Wrap(fault.CodeCancelled, "download stream closed by receiver", serr)
				return res, err
			}
			h.Advance(int64(n), "")
			sent += int64(n)
			res.BytesSent = sent
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				h.Fail("cancelled")
				err = fault.Wrap(fault.CodeCancelled, "download cancelled", rerr)
				return res, err
			}
			h.Fail("unavailable")
			err = fault.NewUnavailable("object read failed", rerr)
			return res, err
		}
	}

	sequence++
	if serr := sink(Frame{Sequence: sequence, TotalSize: total, IsFinal: true}); serr != nil {
		h.Fail("cancelled")
		err = fault.Wrap(fault.CodeCancelled, "download stream closed by receiver", serr)
		return res, err
	}
	h.Complete("")

	logger.Debug("Download completed",
		"operationID", opID,
		"artifact", key,
		"bytes", sent)

	return res, nil
}
