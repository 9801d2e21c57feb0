package rpc

import (
	"context"
	"time"

	"github.com/freightcore/freightcore/internal/protocol/freight/rpc"
	"github.com/freightcore/freightcore/pkg/fault"
	"github.com/freightcore/freightcore/pkg/objstore"
	"github.com/freightcore/freightcore/pkg/progress"
	"github.com/freightcore/freightcore/pkg/transfer"
)

// dispatch handles one decoded call end to end, writing the reply (or the
// reply stream) to the connection. The returned status is the wire outcome
// for metrics; a non-nil error is a transport failure fatal to the
// connection.
func (c *conn) dispatch(ctx context.Context, hdr rpc.CallHeader, args []byte) (rpc.Status, error) {
	if hdr.Program != rpc.Program {
		return c.writeError(hdr.XID, fault.NewInvalidf("unknown program 0x%08x", hdr.Program))
	}
	if hdr.Version != rpc.ProgramVersion {
		return c.writeError(hdr.XID, fault.NewInvalidf("unsupported program version %d, server speaks version %d", hdr.Version, rpc.ProgramVersion))
	}

	switch hdr.Procedure {
	case rpc.ProcDownload:
		return c.handleDownload(ctx, hdr.XID, args)
	case rpc.ProcSubscribeProgress:
		return c.handleSubscribe(ctx, hdr.XID, args)
	}

	result, callErr := c.callUnary(ctx, hdr.Procedure, args)
	if callErr != nil {
		return c.writeError(hdr.XID, callErr)
	}

	msg, err := rpc.EncodeReply(hdr.XID, result)
	if err != nil {
		return c.writeError(hdr.XID, err)
	}
	return rpc.StatusOK, c.writeRecord(msg)
}

// callUnary executes one single-reply procedure and returns its wire
// result, nil for bodyless replies.
func (c *conn) callUnary(ctx context.Context, proc rpc.Procedure, args []byte) (any, error) {
	svc := c.server.service

	switch proc {
	case rpc.ProcNull:
		return nil, nil

	case rpc.ProcInitiate:
		var req rpc.InitiateRequest
		if err := rpc.UnmarshalBody(args, &req); err != nil {
			return nil, err
		}
		res, err := svc.Initiate(ctx, coordFromWire(req.Coordinate), transfer.InitiateOptions{
			DeclaredSize:   req.DeclaredSize,
			ContentType:    req.ContentType,
			ExpectedDigest: req.ExpectedDigest,
		})
		if err != nil {
			return nil, err
		}
		return &rpc.InitiateReply{
			SessionID:            res.SessionID,
			RecommendedChunkSize: res.RecommendedChunkBytes,
			Multipart:            res.Multipart,
		}, nil

	case rpc.ProcUploadChunk:
		var req rpc.UploadChunkRequest
		if err := rpc.UnmarshalBody(args, &req); err != nil {
			return nil, err
		}
		summary, err := svc.IngestChunk(ctx, transfer.Chunk{
			SessionID: req.SessionID,
			Sequence:  req.Sequence,
			Payload:   req.Payload,
			IsFinal:   req.IsFinal,
			Checksum:  req.Checksum,
		})
		if err != nil {
			return nil, err
		}
		return &rpc.UploadChunkReply{
			SessionID:      summary.SessionID,
			ChunksAccepted: summary.ChunksAccepted,
			BytesReceived:  summary.BytesReceived,
		}, nil

	case rpc.ProcCommit:
		var req rpc.CommitRequest
		if err := rpc.UnmarshalBody(args, &req); err != nil {
			return nil, err
		}
		res, err := svc.Commit(ctx, req.SessionID, req.ExpectedDigest)
		if err != nil {
			return nil, err
		}
		return &rpc.CommitReply{Location: res.Location, ETag: res.ETag}, nil

	case rpc.ProcAbort:
		var req rpc.AbortRequest
		if err := rpc.UnmarshalBody(args, &req); err != nil {
			return nil, err
		}
		if err := svc.Abort(ctx, req.SessionID, req.Reason); err != nil {
			return nil, err
		}
		return nil, nil

	case rpc.ProcGetSignedURL:
		var req rpc.SignedURLRequest
		if err := rpc.UnmarshalBody(args, &req); err != nil {
			return nil, err
		}
		res, err := svc.SignedURL(ctx, coordFromWire(req.Coordinate), time.Duration(req.TTLSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		return &rpc.SignedURLReply{URL: res.URL, ExpiresAtUnix: res.ExpiresAt.Unix()}, nil

	case rpc.ProcHead:
		var req rpc.HeadRequest
		if err := rpc.UnmarshalBody(args, &req); err != nil {
			return nil, err
		}
		info, err := svc.Head(ctx, coordFromWire(req.Coordinate))
		if err != nil {
			return nil, err
		}
		return &rpc.HeadReply{
			Key:           info.Key,
			Size:          info.Size,
			ContentType:   info.ContentType,
			ETag:          info.ETag,
			UpdatedAtUnix: info.UpdatedAt.Unix(),
		}, nil

	case rpc.ProcList:
		var req rpc.ListRequest
		if err := rpc.UnmarshalBody(args, &req); err != nil {
			return nil, err
		}
		page, err := svc.List(ctx, req.Prefix, req.Cursor, req.Limit)
		if err != nil {
			return nil, err
		}
		reply := &rpc.ListReply{
			Entries:    make([]rpc.ListEntry, 0, len(page.Entries)),
			NextCursor: page.NextCursor,
		}
		for _, info := range page.Entries {
			reply.Entries = append(reply.Entries, rpc.ListEntry{
				Key:           info.Key,
				Size:          info.Size,
				ContentType:   info.ContentType,
				ETag:          info.ETag,
				UpdatedAtUnix: info.UpdatedAt.Unix(),
			})
		}
		return reply, nil

	case rpc.ProcDelete:
		var req rpc.DeleteRequest
		if err := rpc.UnmarshalBody(args, &req); err != nil {
			return nil, err
		}
		deleted, err := svc.Delete(ctx, coordFromWire(req.Coordinate))
		if err != nil {
			return nil, err
		}
		return &rpc.DeleteReply{Deleted: deleted}, nil

	default:
		return nil, fault.NewInvalidf("unknown procedure %d", uint32(proc))
	}
}

// handleDownload streams an artifact as a sequence of frame records
// sharing the call's XID. A failure before or during the stream is sent as
// a non-OK reply record terminating it.
func (c *conn) handleDownload(ctx context.Context, xid uint32, args []byte) (rpc.Status, error) {
	var req rpc.DownloadRequest
	if err := rpc.UnmarshalBody(args, &req); err != nil {
		return c.writeError(xid, err)
	}

	var rng *objstore.ByteRange
	if req.HasRange {
		rng = &objstore.ByteRange{Start: req.RangeStart, End: req.RangeEnd}
	}

	// A sink failure caused by our own write means the connection is gone;
	// attempting an error reply on it would be pointless.
	var writeFailed error
	_, callErr := c.server.service.Download(ctx, coordFromWire(req.Coordinate), rng, func(f transfer.Frame) error {
		frame := rpc.DownloadFrame{
			Sequence:  f.Sequence,
			TotalSize: f.TotalSize,
			IsFinal:   f.IsFinal,
			Payload:   f.Payload,
		}
		msg, err := rpc.EncodeReply(xid, &frame)
		if err != nil {
			return err
		}
		if err := c.writeRecord(msg); err != nil {
			writeFailed = err
			return err
		}
		return nil
	})

	if writeFailed != nil {
		return rpc.StatusCancelled, writeFailed
	}
	if callErr != nil {
		return c.writeError(xid, callErr)
	}
	return rpc.StatusOK, nil
}

// handleSubscribe streams progress snapshots for one operation as reply
// records sharing the call's XID, ending after the terminal snapshot. An
// unknown operation is answered with a NotFound error record.
func (c *conn) handleSubscribe(ctx context.Context, xid uint32, args []byte) (rpc.Status, error) {
	var req rpc.SubscribeProgressRequest
	if err := rpc.UnmarshalBody(args, &req); err != nil {
		return c.writeError(xid, err)
	}
	if req.OperationID == "" {
		return c.writeError(xid, fault.NewInvalid("operation id must not be empty"))
	}

	if _, ok := c.server.registry.Get(req.OperationID); !ok {
		return c.writeError(xid, fault.NewNotFound(req.OperationID, "operation"))
	}

	sub := c.server.registry.Subscribe(req.OperationID)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return c.writeError(xid, fault.Wrap(fault.CodeCancelled, "subscription cancelled", ctx.Err()))

		case snap, ok := <-sub.Snapshots():
			if !ok {
				// Channel closes after the terminal snapshot has been
				// delivered; the stream is complete.
				return rpc.StatusOK, nil
			}
			msg, err := rpc.EncodeReply(xid, snapshotToWire(snap))
			if err != nil {
				return c.writeError(xid, err)
			}
			if err := c.writeRecord(msg); err != nil {
				return rpc.StatusCancelled, err
			}
		}
	}
}

func coordFromWire(w rpc.Coordinate) objstore.Coordinate {
	return objstore.Coordinate{
		App:      w.App,
		Version:  w.Version,
		Platform: w.Platform,
		Filename: w.Filename,
	}
}

func snapshotToWire(s progress.Snapshot) *rpc.ProgressSnapshot {
	w := &rpc.ProgressSnapshot{
		OperationID:    s.OperationID,
		Status:         string(s.Status),
		BytesProcessed: s.BytesProcessed,
		BytesTotal:     s.BytesTotal,
		SpeedBPS:       s.SpeedBPS,
		ETASeconds:     s.ETASeconds,
		Message:        s.Message,
		Error:          s.Error,
		StartedAtUnix:  s.StartedAt.Unix(),
		UpdatedAtUnix:  s.UpdatedAt.Unix(),
	}
	if s.FinishedAt != nil {
		w.FinishedAtUnix = s.FinishedAt.Unix()
	}
	return w
}
