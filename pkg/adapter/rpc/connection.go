package rpc

import (
	"context"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"time"

	"github.com/freightcore/freightcore/internal/bufpool"
	"github.com/freightcore/freightcore/internal/bytesize"
	"github.com/freightcore/freightcore/internal/logger"
	"github.com/freightcore/freightcore/internal/protocol/freight/rpc"
	"github.com/freightcore/freightcore/internal/telemetry"
)

// conn handles the call/reply cycle for a single client connection.
//
// Calls are read and dispatched strictly in order by one goroutine. This
// preserves per-session chunk sequencing without coordination, and it means
// the serve goroutine owns all writes: unary replies and stream records
// never interleave, so no write lock is needed. A download or progress
// stream occupies the connection until its final record; clients that want
// concurrent streams open additional connections.
type conn struct {
	server *Adapter
	tcp    net.Conn
}

func newConn(server *Adapter, tcp net.Conn) *conn {
	return &conn{server: server, tcp: tcp}
}

// serve processes calls until the connection closes.
//
// The connection is closed when:
//   - The context is cancelled (server shutdown)
//   - An idle, read, or write timeout occurs
//   - The client closes the connection
//   - A protocol violation makes the stream unusable (unparseable call,
//     oversized fragment)
//
// In-protocol failures (unknown procedure, invalid arguments, service
// errors) are answered with error replies and do not close the connection.
func (c *conn) serve(ctx context.Context) {
	defer c.handleClose()

	clientAddr := c.tcp.RemoteAddr().String()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Connection closed due to context cancellation", "address", clientAddr)
			return
		case <-c.server.shutdown:
			logger.Debug("Connection closed due to server shutdown", "address", clientAddr)
			return
		default:
		}

		hdr, rawMessage, args, err := c.readCall(clientAddr)
		if err != nil {
			if err == io.EOF {
				logger.Debug("Connection closed by client", "address", clientAddr)
			} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				logger.Debug("Connection timed out", "address", clientAddr, "error", err)
			} else {
				logger.Debug("Error reading call", "address", clientAddr, "error", err)
			}
			return
		}

		logger.Debug("RPC call",
			"xid", fmt.Sprintf("0x%x", hdr.XID),
			"procedure", hdr.Procedure.String(),
			"address", clientAddr)

		start := time.Now()
		procCtx, span := telemetry.StartProcSpan(ctx, hdr.Procedure.String(), hdr.XID,
			telemetry.ClientAddr(clientAddr))

		status, transportErr := c.dispatchSafely(procCtx, hdr, args)
		bufpool.Put(rawMessage)

		span.SetAttributes(telemetry.RPCStatus(int(status)))
		span.End()

		c.server.callCount.Add(1)
		if m := c.server.metrics; m != nil {
			m.RecordCall(hdr.Procedure.String(), status.String(), time.Since(start))
		}

		if transportErr != nil {
			logger.Debug("Error writing reply",
				"address", clientAddr,
				"xid", fmt.Sprintf("0x%x", hdr.XID),
				"error", transportErr)
			return
		}
	}
}

// readCall reads and parses the next call from the connection.
//
// The idle timeout governs waiting for the fragment header; once a call is
// arriving, the read timeout bounds receiving its body. The returned
// rawMessage is a pooled buffer that the caller must return via
// bufpool.Put() after processing; args aliases it.
func (c *conn) readCall(clientAddr string) (rpc.CallHeader, []byte, []byte, error) {
	if c.server.config.Timeouts.Idle > 0 {
		if err := c.tcp.SetReadDeadline(time.Now().Add(c.server.config.Timeouts.Idle)); err != nil {
			return rpc.CallHeader{}, nil, nil, fmt.Errorf("set idle deadline: %w", err)
		}
	}

	header, err := rpc.ReadFragmentHeader(c.tcp)
	if err != nil {
		return rpc.CallHeader{}, nil, nil, err
	}

	// Validate the claimed size before any buffer is allocated for it.
	if err := rpc.ValidateFragmentSize(header.Length, c.server.config.MaxFragmentBytes); err != nil {
		logger.Warn("Fragment size exceeds maximum",
			"size", bytesize.ByteSize(header.Length),
			"max", bytesize.ByteSize(c.server.config.MaxFragmentBytes),
			"address", clientAddr)
		return rpc.CallHeader{}, nil, nil, err
	}

	// Every freight message fits one fragment; the chunk ceiling guarantees
	// it. A continuation fragment means the peer speaks something else.
	if !header.IsLast {
		return rpc.CallHeader{}, nil, nil, fmt.Errorf("multi-fragment records are not supported")
	}

	if c.server.config.Timeouts.Read > 0 {
		if err := c.tcp.SetReadDeadline(time.Now().Add(c.server.config.Timeouts.Read)); err != nil {
			return rpc.CallHeader{}, nil, nil, fmt.Errorf("set read deadline: %w", err)
		}
	}

	message, err := rpc.ReadMessage(c.tcp, header.Length)
	if err != nil {
		return rpc.CallHeader{}, nil, nil, err
	}

	hdr, args, err := rpc.DecodeCall(message)
	if err != nil {
		bufpool.Put(message)
		logger.Debug("Error parsing RPC call", "address", clientAddr, "error", err)
		return rpc.CallHeader{}, nil, nil, err
	}

	return hdr, message, args, nil
}

// dispatchSafely dispatches one call with panic recovery. A panicking
// handler is answered with an Internal error reply so the client is not
// left waiting on the XID, and the connection keeps serving.
func (c *conn) dispatchSafely(ctx context.Context, hdr rpc.CallHeader, args []byte) (status rpc.Status, transportErr error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			logger.Error("Panic in RPC handler",
				"address", c.tcp.RemoteAddr().String(),
				"xid", fmt.Sprintf("0x%x", hdr.XID),
				"procedure", hdr.Procedure.String(),
				"error", r,
				"stack", stack)
			status, transportErr = c.writeError(hdr.XID, fmt.Errorf("internal server error"))
		}
	}()

	return c.dispatch(ctx, hdr, args)
}

// writeRecord writes one complete reply record to the connection, applying
// the write timeout if configured.
func (c *conn) writeRecord(msg []byte) error {
	if c.server.config.Timeouts.Write > 0 {
		deadline := time.Now().Add(c.server.config.Timeouts.Write)
		if err := c.tcp.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	return rpc.WriteRecord(c.tcp, msg)
}

// writeError encodes and writes a non-OK reply for callErr. The returned
// status is the mapped wire status; the returned error is a transport
// failure, if any.
func (c *conn) writeError(xid uint32, callErr error) (rpc.Status, error) {
	msg, status, err := rpc.EncodeErrorReply(xid, callErr)
	if err != nil {
		return status, fmt.Errorf("encode error reply: %w", err)
	}
	return status, c.writeRecord(msg)
}

// handleClose recovers connection-level panics and closes the socket.
func (c *conn) handleClose() {
	if r := recover(); r != nil {
		stack := string(debug.Stack())
		logger.Error("Panic in RPC connection handler",
			"address", c.tcp.RemoteAddr().String(),
			"error", r,
			"stack", stack)
	}
	_ = c.tcp.Close()
}
