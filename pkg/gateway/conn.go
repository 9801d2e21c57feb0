package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/freightcore/freightcore/internal/logger"
	"github.com/freightcore/freightcore/pkg/progress"
)

// conn is one upgraded WebSocket connection.
//
// Concurrency model:
//   - readPump (the handler goroutine) is the only reader
//   - writePump is the only writer of data frames; control frames may be
//     written from other goroutines, which the websocket package permits
//   - forward goroutines, one per subscription, relay registry snapshots
//     into the send channel
//
// All of them exit once the done channel closes.
type conn struct {
	gw *Adapter
	ws *websocket.Conn

	// send carries outbound messages to the write pump.
	send chan Message

	// done is closed exactly once when the connection tears down; senders
	// select on it so they never block on a dead connection.
	done      chan struct{}
	closeOnce sync.Once

	// missedPongs counts heartbeat pings sent without an answering pong.
	// Two misses terminate the connection.
	missedPongs atomic.Int32

	// mu guards subs. A nil map means the connection is tearing down and
	// no new subscriptions may attach.
	mu   sync.Mutex
	subs map[string]*progress.Subscription
}

func newConn(gw *Adapter, ws *websocket.Conn) *conn {
	return &conn{
		gw:   gw,
		ws:   ws,
		send: make(chan Message, gw.config.SendBuffer),
		done: make(chan struct{}),
		subs: make(map[string]*progress.Subscription),
	}
}

// serve runs the connection until the peer disconnects, a pump fails, or
// the gateway shuts down. The caller cleans up with close().
func (c *conn) serve() {
	go c.writePump()
	c.readPump()
}

// readPump reads and dispatches client messages. Malformed messages earn an
// error reply and the connection stays open; transport errors end it.
func (c *conn) readPump() {
	cfg := c.gw.config
	c.ws.SetReadLimit(cfg.ReadLimit)

	// The pong counter in the write pump is the primary liveness check.
	// The read deadline is a backstop for paths where the ping writes keep
	// succeeding into a dead TCP buffer.
	pongWait := 3 * cfg.HeartbeatInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.missedPongs.Store(0)
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Gateway read failed",
					"address", c.ws.RemoteAddr().String(), "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(Message{Type: TypeError, Message: "malformed message"})
			continue
		}
		c.dispatch(msg)
	}
}

// writePump is the single data-frame writer. It serializes outbound
// messages and runs the heartbeat ticker.
func (c *conn) writePump() {
	cfg := c.gw.config
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		// Closing the socket unblocks the read pump.
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.Timeouts.Write))
			if err := c.ws.WriteJSON(msg); err != nil {
				logger.Debug("Gateway write failed",
					"address", c.ws.RemoteAddr().String(), "error", err)
				return
			}

		case <-ticker.C:
			if c.missedPongs.Load() >= 2 {
				logger.Debug("Gateway connection missed two pongs, terminating",
					"address", c.ws.RemoteAddr().String())
				return
			}
			c.missedPongs.Add(1)

			deadline := time.Now().Add(cfg.Timeouts.Write)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug("Gateway ping failed",
					"address", c.ws.RemoteAddr().String(), "error", err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// dispatch routes one client message.
func (c *conn) dispatch(msg Message) {
	switch msg.Type {
	case TypeSubscribe:
		if msg.OperationID == "" {
			c.enqueue(Message{Type: TypeError, Message: "subscribe requires operation_id"})
			return
		}
		c.subscribe(msg.OperationID)

	case TypeUnsubscribe:
		if msg.OperationID == "" {
			c.enqueue(Message{Type: TypeError, Message: "unsubscribe requires operation_id"})
			return
		}
		c.unsubscribe(msg.OperationID)

	case TypePing:
		c.enqueue(Message{Type: TypePong})

	default:
		c.enqueue(Message{Type: TypeError, Message: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

// subscribe attaches the connection to an operation's snapshot stream.
//
// Subscribing twice to the same operation re-acks without a second stream.
// Unknown operations are acked as well: the registry answers them with an
// immediate failed snapshot carrying the not_found label, so the client
// sees subscribed, progress, failed in order.
func (c *conn) subscribe(operationID string) {
	c.mu.Lock()
	if c.subs == nil {
		c.mu.Unlock()
		return
	}
	if _, ok := c.subs[operationID]; ok {
		c.mu.Unlock()
		c.enqueue(Message{Type: TypeSubscribed, OperationID: operationID})
		return
	}
	sub := c.gw.registry.Subscribe(operationID)
	c.subs[operationID] = sub
	c.mu.Unlock()

	if c.gw.metrics != nil {
		c.gw.metrics.RecordSubscribe()
	}
	logger.Debug("Gateway subscription added",
		"address", c.ws.RemoteAddr().String(), "operation_id", operationID)

	// The ack enters the send queue before the forward goroutine exists,
	// so it always precedes the first progress message.
	c.enqueue(Message{Type: TypeSubscribed, OperationID: operationID})
	go c.forward(sub)
}

// unsubscribe detaches the connection from an operation's stream. It acks
// whether or not a subscription existed.
func (c *conn) unsubscribe(operationID string) {
	c.mu.Lock()
	sub := c.subs[operationID]
	delete(c.subs, operationID)
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
		if c.gw.metrics != nil {
			c.gw.metrics.RecordUnsubscribe()
		}
		logger.Debug("Gateway subscription removed",
			"address", c.ws.RemoteAddr().String(), "operation_id", operationID)
	}

	c.enqueue(Message{Type: TypeUnsubscribed, OperationID: operationID})
}

// forward relays one subscription's snapshots until its stream ends.
//
// Sends into the connection's buffered channel block when the peer reads
// slowly; the registry-side subscription buffer absorbs that with
// latest-wins coalescing, so the terminal snapshot still gets through. The
// terminal snapshot is followed by a complete or failed marker and the
// stream closes.
func (c *conn) forward(sub *progress.Subscription) {
	operationID := sub.OperationID()

	for snap := range sub.Snapshots() {
		c.enqueue(Message{Type: TypeProgress, OperationID: operationID, Snapshot: &snap})

		if snap.Terminal() {
			if snap.Status == progress.StatusCompleted {
				c.enqueue(Message{Type: TypeComplete, OperationID: operationID})
			} else {
				c.enqueue(Message{Type: TypeFailed, OperationID: operationID, Error: snap.Error})
			}
		}
	}

	// The stream has ended. Drop the connection-side entry unless a newer
	// subscription for the same operation already replaced it.
	c.mu.Lock()
	if c.subs[operationID] == sub {
		delete(c.subs, operationID)
	}
	c.mu.Unlock()

	sub.Close()
}

// enqueue hands a message to the write pump, giving up if the connection is
// tearing down.
func (c *conn) enqueue(msg Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

// close tears the connection down exactly once: the done channel unblocks
// pending senders and the write pump, every subscription detaches from the
// registry, and closing the socket unblocks the read pump.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		subs := c.subs
		c.subs = nil
		c.mu.Unlock()

		for _, sub := range subs {
			sub.Close()
		}

		_ = c.ws.Close()
	})
}

// closeGoingAway notifies the peer that the server is draining, then tears
// the connection down.
func (c *conn) closeGoingAway() {
	data := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.ws.WriteControl(websocket.CloseMessage, data, time.Now().Add(time.Second))
	c.close()
}
