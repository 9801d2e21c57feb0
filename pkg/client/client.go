// Package client provides a client library for the freight RPC front and
// the WebSocket gateway. It is used by freightctl and by server tests.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/freightcore/freightcore/internal/bufpool"
	"github.com/freightcore/freightcore/internal/protocol/freight/rpc"
)

// Config holds RPC client configuration.
type Config struct {
	// Address is the server address, host:port.
	Address string

	// DialTimeout bounds connection establishment. Defaults to 10s.
	DialTimeout time.Duration

	// CallTimeout bounds each unary call round trip when the context
	// carries no deadline. 0 means no timeout. Streams ignore it: a
	// progress stream may idle indefinitely between snapshots.
	CallTimeout time.Duration

	// MaxFragmentBytes bounds inbound reply records. Defaults to
	// rpc.DefaultMaxFragment.
	MaxFragmentBytes uint32
}

func (c *Config) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MaxFragmentBytes == 0 {
		c.MaxFragmentBytes = rpc.DefaultMaxFragment
	}
}

// Client is a freight RPC client over a single TCP connection.
//
// All methods are safe for concurrent use, but the connection carries one
// call or stream at a time: a download or progress stream occupies the
// client until its final record. Use separate clients for concurrent
// streams.
//
// Transport failures and protocol desyncs close the connection; the client
// is not usable afterwards and a new one must be dialed. Service errors
// (NotFound, InvalidArgument, and the rest of the status taxonomy) leave
// the connection usable.
type Client struct {
	cfg  Config
	conn net.Conn

	mu      sync.Mutex
	nextXID uint32
}

// Dial connects to a freight RPC server.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if cfg.Address == "" {
		return nil, fmt.Errorf("client address must not be empty")
	}

	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Address, err)
	}

	return &Client{cfg: cfg, conn: conn}, nil
}

// Close closes the underlying connection. Safe to call multiple times.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Null performs the no-op procedure, verifying the server is reachable and
// speaks the freight program.
func (c *Client) Null(ctx context.Context) error {
	return c.call(ctx, rpc.ProcNull, nil, nil)
}

// call performs one unary round trip: encode, send, receive, decode.
func (c *Client) call(ctx context.Context, proc rpc.Procedure, args, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	xid, err := c.send(ctx, proc, args)
	if err != nil {
		return err
	}
	return c.receive(ctx, xid, result, false)
}

// send encodes and writes one call record, returning its XID. The caller
// must hold c.mu.
func (c *Client) send(ctx context.Context, proc rpc.Procedure, args any) (uint32, error) {
	c.nextXID++
	xid := c.nextXID

	msg, err := rpc.EncodeCall(xid, proc, args)
	if err != nil {
		return 0, err
	}

	if err := c.conn.SetWriteDeadline(c.deadline(ctx, false)); err != nil {
		c.closeBroken()
		return 0, fmt.Errorf("set write deadline: %w", err)
	}
	if err := rpc.WriteRecord(c.conn, msg); err != nil {
		c.closeBroken()
		return 0, fmt.Errorf("send %s call: %w", proc, err)
	}
	return xid, nil
}

// receive reads the next reply record for xid and decodes its body into
// result when the status is OK. A non-OK reply is returned as the mapped
// service error and leaves the connection usable; transport failures and
// desyncs close it. The caller must hold c.mu.
func (c *Client) receive(ctx context.Context, xid uint32, result any, streaming bool) error {
	if err := c.conn.SetReadDeadline(c.deadline(ctx, streaming)); err != nil {
		c.closeBroken()
		return fmt.Errorf("set read deadline: %w", err)
	}

	header, err := rpc.ReadFragmentHeader(c.conn)
	if err != nil {
		c.closeBroken()
		return fmt.Errorf("read reply header: %w", err)
	}
	if err := rpc.ValidateFragmentSize(header.Length, c.cfg.MaxFragmentBytes); err != nil {
		c.closeBroken()
		return err
	}

	msg, err := rpc.ReadMessage(c.conn, header.Length)
	if err != nil {
		c.closeBroken()
		return err
	}
	defer bufpool.Put(msg)

	hdr, body, err := rpc.DecodeReply(msg)
	if err != nil {
		c.closeBroken()
		return err
	}
	if hdr.XID != xid {
		c.closeBroken()
		return fmt.Errorf("reply xid 0x%x does not match call 0x%x", hdr.XID, xid)
	}

	if hdr.Status != rpc.StatusOK {
		return rpc.DecodeError(hdr.Status, body)
	}
	if result != nil {
		if err := rpc.UnmarshalBody(body, result); err != nil {
			c.closeBroken()
			return err
		}
	}
	return nil
}

// deadline derives the I/O deadline for one record. A context deadline
// always wins; otherwise unary calls use CallTimeout and streams run
// unbounded (cancellation interrupts them via interruptOnCancel).
func (c *Client) deadline(ctx context.Context, streaming bool) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	if !streaming && c.cfg.CallTimeout > 0 {
		return time.Now().Add(c.cfg.CallTimeout)
	}
	return time.Time{}
}

// interruptOnCancel makes a blocked read fail once ctx is cancelled. The
// returned stop function releases the watcher.
func (c *Client) interruptOnCancel(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
}

// closeBroken tears down the connection after a transport failure or
// protocol desync. Subsequent calls fail on the closed connection.
func (c *Client) closeBroken() {
	_ = c.conn.Close()
}
