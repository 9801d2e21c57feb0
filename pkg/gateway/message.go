package gateway

import "github.com/freightcore/freightcore/pkg/progress"

// Client-to-server message types.
const (
	// TypeSubscribe attaches the connection to an operation's stream.
	TypeSubscribe = "subscribe"

	// TypeUnsubscribe detaches the connection from an operation's stream.
	TypeUnsubscribe = "unsubscribe"

	// TypePing requests a pong, for clients that cannot observe WebSocket
	// control frames.
	TypePing = "ping"
)

// Server-to-client message types.
const (
	// TypeSubscribed acknowledges a subscribe.
	TypeSubscribed = "subscribed"

	// TypeUnsubscribed acknowledges an unsubscribe.
	TypeUnsubscribed = "unsubscribed"

	// TypeProgress carries one snapshot of a subscribed operation.
	TypeProgress = "progress"

	// TypeComplete marks the end of a successful operation's stream. The
	// terminal snapshot precedes it as a progress message.
	TypeComplete = "complete"

	// TypeFailed marks the end of a failed operation's stream, carrying
	// the failure label.
	TypeFailed = "failed"

	// TypeError reports a protocol-level problem with a client message.
	// The connection stays open.
	TypeError = "error"

	// TypePong answers a ping.
	TypePong = "pong"
)

// Message is the JSON envelope exchanged on a gateway connection. Which
// fields are set depends on Type; absent fields are omitted from the wire.
type Message struct {
	Type        string             `json:"type"`
	OperationID string             `json:"operation_id,omitempty"`
	Snapshot    *progress.Snapshot `json:"snapshot,omitempty"`
	Error       string             `json:"error,omitempty"`
	Message     string             `json:"message,omitempty"`
}
