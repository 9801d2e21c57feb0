package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/freightcore/freightcore/pkg/client"
	"github.com/freightcore/freightcore/pkg/progress"
)

// ============================================================================
// Test harness
// ============================================================================

// newTestRegistry builds a registry with an immediate coalesce interval so
// every advance publishes, and a long retention so late subscriptions are
// deterministic.
func newTestRegistry(t *testing.T) *progress.Registry {
	t.Helper()

	registry := progress.NewRegistry(progress.Config{
		CoalesceInterval: time.Nanosecond,
		Retention:        time.Hour,
		SubscriberBuffer: 16,
	}, nil)
	t.Cleanup(registry.Close)
	return registry
}

// startGateway serves a gateway on an ephemeral port and tears it down with
// the test.
func startGateway(t *testing.T, cfg Config, registry *progress.Registry, metricsHandler http.Handler) *Adapter {
	t.Helper()

	cfg.Enabled = true
	gw := New(cfg, registry, metricsHandler, nil)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- gw.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = gw.Stop(stopCtx)
		<-serveDone
	})

	if addr := gw.GetListenerAddr(); addr == "" {
		t.Fatal("gateway failed to start")
	}
	return gw
}

// newTestGateway is the common case: fresh registry, no metrics endpoint.
func newTestGateway(t *testing.T, cfg Config) (*Adapter, *progress.Registry) {
	t.Helper()

	registry := newTestRegistry(t)
	return startGateway(t, cfg, registry, nil), registry
}

// dialGateway opens a WebSocket client connected to /subscribe.
func dialGateway(t *testing.T, gw *Adapter) *websocket.Conn {
	t.Helper()

	url := "ws://" + gw.GetListenerAddr() + "/subscribe"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// sendMessage writes one gateway message.
func sendMessage(t *testing.T, ws *websocket.Conn, msg Message) {
	t.Helper()

	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write gateway message: %v", err)
	}
}

// readMessage reads one gateway message, failing the test if none arrives
// in time.
func readMessage(t *testing.T, ws *websocket.Conn, timeout time.Duration) Message {
	t.Helper()

	if err := ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}

	var msg Message
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read gateway message: %v", err)
	}
	return msg
}

// expectType reads one message and asserts its type and, when wantOp is
// non-empty, its operation id.
func expectType(t *testing.T, ws *websocket.Conn, wantType, wantOp string) Message {
	t.Helper()

	msg := readMessage(t, ws, 5*time.Second)
	if msg.Type != wantType {
		t.Fatalf("message type = %q, want %q (message: %+v)", msg.Type, wantType, msg)
	}
	if wantOp != "" && msg.OperationID != wantOp {
		t.Fatalf("operation_id = %q, want %q", msg.OperationID, wantOp)
	}
	return msg
}

// waitForConnCount polls until the gateway reports want active connections.
func waitForConnCount(t *testing.T, gw *Adapter, want int32) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if gw.GetActiveConnections() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("active connections = %d, want %d", gw.GetActiveConnections(), want)
}

// ============================================================================
// HTTP surface
// ============================================================================

func TestHealthEndpoint(t *testing.T) {
	gw, _ := newTestGateway(t, Config{})

	resp, err := http.Get("http://" + gw.GetListenerAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `"healthy"`) {
		t.Fatalf("body = %s, want healthy status", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("ServedWhenConfigured", func(t *testing.T) {
		scrape := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# freight metrics\n"))
		})
		gw := startGateway(t, Config{}, newTestRegistry(t), scrape)

		resp, err := http.Get("http://" + gw.GetListenerAddr() + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics: %v", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "freight metrics") {
			t.Fatalf("status = %d body = %q, want scrape output", resp.StatusCode, body)
		}
	})

	t.Run("AbsentWhenUnconfigured", func(t *testing.T) {
		gw, _ := newTestGateway(t, Config{})

		resp, err := http.Get("http://" + gw.GetListenerAddr() + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}
	})
}

// ============================================================================
// Subscription streaming
// ============================================================================

func TestSubscribeStreamsProgress(t *testing.T) {
	gw, registry := newTestGateway(t, Config{})
	h := registry.Open("upload-1", 1000)

	ws := dialGateway(t, gw)
	sendMessage(t, ws, Message{Type: TypeSubscribe, OperationID: "upload-1"})
	expectType(t, ws, TypeSubscribed, "upload-1")

	first := expectType(t, ws, TypeProgress, "upload-1")
	if first.Snapshot == nil {
		t.Fatal("progress message carries no snapshot")
	}
	if first.Snapshot.Status != progress.StatusInProgress {
		t.Fatalf("status = %q, want %q", first.Snapshot.Status, progress.StatusInProgress)
	}
	if first.Snapshot.BytesProcessed != 0 || first.Snapshot.BytesTotal != 1000 {
		t.Fatalf("initial snapshot = %d/%d, want 0/1000",
			first.Snapshot.BytesProcessed, first.Snapshot.BytesTotal)
	}

	h.Advance(400, "")
	mid := expectType(t, ws, TypeProgress, "upload-1")
	if mid.Snapshot.BytesProcessed != 400 {
		t.Fatalf("bytes_processed = %d, want 400", mid.Snapshot.BytesProcessed)
	}

	h.Advance(600, "")
	full := expectType(t, ws, TypeProgress, "upload-1")
	if full.Snapshot.BytesProcessed != 1000 {
		t.Fatalf("bytes_processed = %d, want 1000", full.Snapshot.BytesProcessed)
	}

	h.Complete("stored")
	terminal := expectType(t, ws, TypeProgress, "upload-1")
	if terminal.Snapshot.Status != progress.StatusCompleted {
		t.Fatalf("terminal status = %q, want %q", terminal.Snapshot.Status, progress.StatusCompleted)
	}
	if terminal.Snapshot.FinishedAt == nil {
		t.Fatal("terminal snapshot has no finished_at")
	}

	expectType(t, ws, TypeComplete, "upload-1")
}

func TestSubscribeUnknownOperation(t *testing.T) {
	gw, _ := newTestGateway(t, Config{})
	ws := dialGateway(t, gw)

	sendMessage(t, ws, Message{Type: TypeSubscribe, OperationID: "ghost"})
	expectType(t, ws, TypeSubscribed, "ghost")

	snap := expectType(t, ws, TypeProgress, "ghost")
	if snap.Snapshot.Status != progress.StatusFailed || snap.Snapshot.Error != progress.NotFoundError {
		t.Fatalf("snapshot = %q/%q, want failed/%s",
			snap.Snapshot.Status, snap.Snapshot.Error, progress.NotFoundError)
	}

	failed := expectType(t, ws, TypeFailed, "ghost")
	if failed.Error != progress.NotFoundError {
		t.Fatalf("failed error = %q, want %q", failed.Error, progress.NotFoundError)
	}
}

func TestFailureDeliversFailedMessage(t *testing.T) {
	gw, registry := newTestGateway(t, Config{})
	h := registry.Open("bad-upload", 500)

	ws := dialGateway(t, gw)
	sendMessage(t, ws, Message{Type: TypeSubscribe, OperationID: "bad-upload"})
	expectType(t, ws, TypeSubscribed, "bad-upload")
	expectType(t, ws, TypeProgress, "bad-upload")

	h.Fail("digest_mismatch")

	terminal := expectType(t, ws, TypeProgress, "bad-upload")
	if terminal.Snapshot.Status != progress.StatusFailed {
		t.Fatalf("terminal status = %q, want failed", terminal.Snapshot.Status)
	}

	failed := expectType(t, ws, TypeFailed, "bad-upload")
	if failed.Error != "digest_mismatch" {
		t.Fatalf("failed error = %q, want digest_mismatch", failed.Error)
	}
}

func TestLateSubscriberGetsTerminalSnapshot(t *testing.T) {
	gw, registry := newTestGateway(t, Config{})

	h := registry.Open("finished-upload", 64)
	h.Advance(64, "")
	h.Complete("stored")

	ws := dialGateway(t, gw)
	sendMessage(t, ws, Message{Type: TypeSubscribe, OperationID: "finished-upload"})
	expectType(t, ws, TypeSubscribed, "finished-upload")

	terminal := expectType(t, ws, TypeProgress, "finished-upload")
	if terminal.Snapshot.Status != progress.StatusCompleted {
		t.Fatalf("status = %q, want completed", terminal.Snapshot.Status)
	}
	if terminal.Snapshot.BytesProcessed != 64 {
		t.Fatalf("bytes_processed = %d, want 64", terminal.Snapshot.BytesProcessed)
	}
	expectType(t, ws, TypeComplete, "finished-upload")

	// Nothing follows the terminal marker.
	sendMessage(t, ws, Message{Type: TypePing})
	expectType(t, ws, TypePong, "")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	gw, registry := newTestGateway(t, Config{})
	h := registry.Open("watched", 100)

	ws := dialGateway(t, gw)
	sendMessage(t, ws, Message{Type: TypeSubscribe, OperationID: "watched"})
	expectType(t, ws, TypeSubscribed, "watched")
	expectType(t, ws, TypeProgress, "watched")

	sendMessage(t, ws, Message{Type: TypeUnsubscribe, OperationID: "watched"})
	expectType(t, ws, TypeUnsubscribed, "watched")

	// The subscription is detached before the ack is queued, so an advance
	// after the ack cannot reach this connection. The pong proves silence:
	// it is the next message the server sends us.
	h.Advance(50, "")
	sendMessage(t, ws, Message{Type: TypePing})
	expectType(t, ws, TypePong, "")

	// Resubscribing attaches a fresh stream at the current state.
	sendMessage(t, ws, Message{Type: TypeSubscribe, OperationID: "watched"})
	expectType(t, ws, TypeSubscribed, "watched")
	snap := expectType(t, ws, TypeProgress, "watched")
	if snap.Snapshot.BytesProcessed != 50 {
		t.Fatalf("bytes_processed after resubscribe = %d, want 50", snap.Snapshot.BytesProcessed)
	}
}

func TestDuplicateSubscribeReAcks(t *testing.T) {
	gw, registry := newTestGateway(t, Config{})
	registry.Open("dup", 10)

	ws := dialGateway(t, gw)
	sendMessage(t, ws, Message{Type: TypeSubscribe, OperationID: "dup"})
	expectType(t, ws, TypeSubscribed, "dup")
	expectType(t, ws, TypeProgress, "dup")

	// A second subscribe re-acks without opening a second stream: the ack
	// is followed by the pong, not by a duplicate initial snapshot.
	sendMessage(t, ws, Message{Type: TypeSubscribe, OperationID: "dup"})
	expectType(t, ws, TypeSubscribed, "dup")

	sendMessage(t, ws, Message{Type: TypePing})
	expectType(t, ws, TypePong, "")
}

func TestTwoConnectionsFanOut(t *testing.T) {
	gw, registry := newTestGateway(t, Config{})
	h := registry.Open("shared", 100)

	ws1 := dialGateway(t, gw)
	ws2 := dialGateway(t, gw)

	for _, ws := range []*websocket.Conn{ws1, ws2} {
		sendMessage(t, ws, Message{Type: TypeSubscribe, OperationID: "shared"})
		expectType(t, ws, TypeSubscribed, "shared")
		expectType(t, ws, TypeProgress, "shared")
	}

	h.Advance(42, "")
	for _, ws := range []*websocket.Conn{ws1, ws2} {
		snap := expectType(t, ws, TypeProgress, "shared")
		if snap.Snapshot.BytesProcessed != 42 {
			t.Fatalf("bytes_processed = %d, want 42", snap.Snapshot.BytesProcessed)
		}
	}

	h.Complete("stored")
	for _, ws := range []*websocket.Conn{ws1, ws2} {
		expectType(t, ws, TypeProgress, "shared")
		expectType(t, ws, TypeComplete, "shared")
	}
}

func TestConnectionCloseReleasesSubscriptions(t *testing.T) {
	gw, registry := newTestGateway(t, Config{})
	h := registry.Open("abandoned", 100)

	ws := dialGateway(t, gw)
	sendMessage(t, ws, Message{Type: TypeSubscribe, OperationID: "abandoned"})
	expectType(t, ws, TypeSubscribed, "abandoned")
	expectType(t, ws, TypeProgress, "abandoned")

	ws.Close()
	waitForConnCount(t, gw, 0)

	// The operation is unaffected by its watcher leaving.
	h.Advance(10, "")
	h.Complete("stored")
}

// ============================================================================
// Protocol errors
// ============================================================================

func TestClientMessageErrors(t *testing.T) {
	gw, _ := newTestGateway(t, Config{})

	t.Run("MalformedJSON", func(t *testing.T) {
		ws := dialGateway(t, gw)

		if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
			t.Fatalf("write raw message: %v", err)
		}

		msg := expectType(t, ws, TypeError, "")
		if !strings.Contains(msg.Message, "malformed") {
			t.Fatalf("error message = %q, want malformed", msg.Message)
		}

		// The connection survives a malformed message.
		sendMessage(t, ws, Message{Type: TypePing})
		expectType(t, ws, TypePong, "")
	})

	t.Run("UnknownType", func(t *testing.T) {
		ws := dialGateway(t, gw)

		sendMessage(t, ws, Message{Type: "bogus"})
		msg := expectType(t, ws, TypeError, "")
		if !strings.Contains(msg.Message, "unknown message type") {
			t.Fatalf("error message = %q, want unknown message type", msg.Message)
		}
	})

	t.Run("SubscribeWithoutOperationID", func(t *testing.T) {
		ws := dialGateway(t, gw)

		sendMessage(t, ws, Message{Type: TypeSubscribe})
		msg := expectType(t, ws, TypeError, "")
		if !strings.Contains(msg.Message, "operation_id") {
			t.Fatalf("error message = %q, want operation_id requirement", msg.Message)
		}
	})

	t.Run("UnsubscribeWithoutOperationID", func(t *testing.T) {
		ws := dialGateway(t, gw)

		sendMessage(t, ws, Message{Type: TypeUnsubscribe})
		msg := expectType(t, ws, TypeError, "")
		if !strings.Contains(msg.Message, "operation_id") {
			t.Fatalf("error message = %q, want operation_id requirement", msg.Message)
		}
	})
}

// ============================================================================
// Client watcher
// ============================================================================

func TestWatchOperationClient(t *testing.T) {
	gw, registry := newTestGateway(t, Config{})
	h := registry.Open("client-watched", 300)

	watchCtx, watchCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer watchCancel()

	snaps := make(chan client.ProgressSnapshot, 16)
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- client.WatchOperation(watchCtx, gw.GetListenerAddr(), "client-watched",
			func(snap client.ProgressSnapshot) error {
				snaps <- snap
				return nil
			})
	}()

	// The first snapshot proves the watcher is attached before we advance.
	select {
	case first := <-snaps:
		if first.Status != "in_progress" || first.BytesProcessed != 0 {
			t.Fatalf("first snapshot = %s %d, want in_progress 0", first.Status, first.BytesProcessed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first snapshot")
	}

	h.Advance(300, "")
	h.Complete("stored")

	select {
	case err := <-watchDone:
		if err != nil {
			t.Fatalf("WatchOperation: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch to finish")
	}

	close(snaps)
	var last client.ProgressSnapshot
	for snap := range snaps {
		last = snap
	}
	if last.Status != "completed" || last.BytesProcessed != 300 {
		t.Fatalf("last snapshot = %s %d/%d, want completed 300",
			last.Status, last.BytesProcessed, last.BytesTotal)
	}
	if last.FinishedAt.IsZero() {
		t.Fatal("terminal snapshot has zero FinishedAt")
	}
}

func TestWatchOperationCallbackError(t *testing.T) {
	gw, registry := newTestGateway(t, Config{})
	registry.Open("early-exit", 100)

	wantErr := errors.New("enough")
	err := client.WatchOperation(context.Background(), gw.GetListenerAddr(), "early-exit",
		func(client.ProgressSnapshot) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("WatchOperation error = %v, want %v", err, wantErr)
	}
}

// ============================================================================
// Liveness and shutdown
// ============================================================================

func TestHeartbeatTerminatesUnresponsivePeer(t *testing.T) {
	gw, _ := newTestGateway(t, Config{HeartbeatInterval: 50 * time.Millisecond})

	// A gorilla client only answers pings while the application reads, so
	// a client that never reads misses every pong.
	dialGateway(t, gw)

	waitForConnCount(t, gw, 1)
	waitForConnCount(t, gw, 0)
}

func TestGracefulShutdown(t *testing.T) {
	registry := newTestRegistry(t)

	gw := New(Config{Enabled: true}, registry, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() { serveDone <- gw.Serve(ctx) }()

	addr := gw.GetListenerAddr()
	if addr == "" {
		t.Fatal("gateway failed to start")
	}

	url := "ws://" + addr + "/subscribe"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer ws.Close()

	sendMessage(t, ws, Message{Type: TypePing})
	expectType(t, ws, TypePong, "")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := gw.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The peer is told the server is going away before the socket drops.
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("read after shutdown = %v, want going-away close", err)
	}

	if n := gw.GetActiveConnections(); n != 0 {
		t.Fatalf("active connections after stop = %d, want 0", n)
	}

	if serveErr := <-serveDone; serveErr != nil {
		t.Fatalf("Serve returned %v, want nil", serveErr)
	}

	// New connections are refused once the listener is down.
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial after shutdown succeeded, want error")
	}
}
