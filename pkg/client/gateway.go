package client

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// gatewayMessage mirrors the JSON envelope the subscription gateway speaks.
// The client keeps its own copy of the shape so it depends only on the wire
// contract, not on server packages.
type gatewayMessage struct {
	Type        string           `json:"type"`
	OperationID string           `json:"operation_id,omitempty"`
	Snapshot    *gatewaySnapshot `json:"snapshot,omitempty"`
	Error       string           `json:"error,omitempty"`
	Message     string           `json:"message,omitempty"`
}

type gatewaySnapshot struct {
	OperationID    string     `json:"operation_id"`
	Status         string     `json:"status"`
	BytesProcessed int64      `json:"bytes_processed"`
	BytesTotal     int64      `json:"bytes_total"`
	SpeedBPS       float64    `json:"speed_bps"`
	ETASeconds     int64      `json:"eta_seconds"`
	Message        string     `json:"message,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// WatchOperation subscribes to one operation's progress through the
// WebSocket gateway at gatewayAddr (host:port) and invokes fn for every
// snapshot until the operation ends.
//
// It returns nil once the gateway marks the operation complete or failed;
// the terminal snapshot has already been delivered to fn at that point, so
// the caller distinguishes success from failure by its status. A non-nil
// error from fn stops watching and is returned unchanged.
//
// Unlike Client.SubscribeProgress this needs no RPC connection, which makes
// it the right surface for watching operations started elsewhere.
func WatchOperation(ctx context.Context, gatewayAddr, operationID string, fn func(ProgressSnapshot) error) error {
	endpoint := fmt.Sprintf("ws://%s/subscribe", gatewayAddr)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial gateway %s: %w", endpoint, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer ws.Close()

	// Closing the socket is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	if err := ws.WriteJSON(gatewayMessage{Type: "subscribe", OperationID: operationID}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	for {
		var msg gatewayMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read gateway message: %w", err)
		}

		switch msg.Type {
		case "progress":
			if msg.Snapshot == nil {
				continue
			}
			if err := fn(snapshotFromGateway(*msg.Snapshot)); err != nil {
				return err
			}

		case "complete", "failed":
			return nil

		case "error":
			return fmt.Errorf("gateway rejected request: %s", msg.Message)

		default:
			// Acks and pongs carry nothing to act on.
		}
	}
}

func snapshotFromGateway(s gatewaySnapshot) ProgressSnapshot {
	snap := ProgressSnapshot{
		OperationID:    s.OperationID,
		Status:         s.Status,
		BytesProcessed: s.BytesProcessed,
		BytesTotal:     s.BytesTotal,
		SpeedBPS:       s.SpeedBPS,
		ETASeconds:     s.ETASeconds,
		Message:        s.Message,
		Error:          s.Error,
		StartedAt:      s.StartedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.FinishedAt != nil {
		snap.FinishedAt = *s.FinishedAt
	}
	return snap
}
