// Package gateway implements the WebSocket subscription front: an HTTP
// listener that upgrades /subscribe connections to duplex JSON channels over
// which clients manage progress subscriptions, plus the health probe and the
// Prometheus scrape endpoint on the same port.
//
// The gateway depends on the progress registry alone. Operations started
// over the RPC front are observable here because both fronts share one
// registry.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/freightcore/freightcore/internal/logger"
	"github.com/freightcore/freightcore/pkg/progress"
)

// Metrics records gateway activity. A nil Metrics disables collection.
type Metrics interface {
	RecordConnectionOpened()
	RecordConnectionClosed()
	SetActiveConnections(count int32)
	RecordSubscribe()
	RecordUnsubscribe()
}

// TimeoutsConfig groups all timeout-related configuration.
type TimeoutsConfig struct {
	// Read is the HTTP read timeout, covering the request line, headers and
	// the WebSocket handshake. Upgraded connections are governed by the
	// heartbeat instead. 0 means no timeout.
	Read time.Duration `mapstructure:"read" validate:"min=0" yaml:"read"`

	// Write bounds each outbound WebSocket write and the HTTP responses of
	// the plain endpoints. 0 means no timeout.
	Write time.Duration `mapstructure:"write" validate:"min=0" yaml:"write"`

	// Idle is the keep-alive timeout for plain HTTP connections.
	// 0 means no timeout.
	Idle time.Duration `mapstructure:"idle" validate:"min=0" yaml:"idle"`

	// Shutdown is the maximum duration to wait for connections to drain
	// during graceful shutdown. Must be > 0.
	Shutdown time.Duration `mapstructure:"shutdown" validate:"required,gt=0" yaml:"shutdown"`
}

// Config holds configuration for the subscription gateway.
//
// Default values (applied by New if zero):
//   - HeartbeatInterval: 30s
//   - SendBuffer: 32
//   - ReadLimit: 4 KiB
//   - Timeouts.Read: 30s
//   - Timeouts.Write: 10s
//   - Timeouts.Idle: 2m
//   - Timeouts.Shutdown: 30s
//
// The standard port 7421 is installed by the config layer, not here: a zero
// Port binds an ephemeral port, which tests rely on.
type Config struct {
	// Enabled controls whether the gateway is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the TCP port to listen on. 0 binds an ephemeral port.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// HeartbeatInterval is the gap between liveness pings. A connection
	// that misses two consecutive pongs is terminated.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"min=0" yaml:"heartbeat_interval"`

	// SendBuffer is the per-connection outbound message buffer. Snapshots
	// beyond it are coalesced latest-wins by the registry subscription.
	SendBuffer int `mapstructure:"send_buffer" validate:"min=0" yaml:"send_buffer"`

	// ReadLimit bounds inbound WebSocket messages. Client messages are
	// small subscription commands, so the limit can be tight.
	ReadLimit int64 `mapstructure:"read_limit" validate:"min=0" yaml:"read_limit"`

	// Timeouts groups all timeout-related configuration.
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = 32
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 4 << 10
	}
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = 30 * time.Second
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = 10 * time.Second
	}
	if c.Timeouts.Idle == 0 {
		c.Timeouts.Idle = 2 * time.Minute
	}
	if c.Timeouts.Shutdown == 0 {
		c.Timeouts.Shutdown = 30 * time.Second
	}
}

// validate checks that the configuration is usable.
func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("invalid heartbeat_interval %v: must be > 0", c.HeartbeatInterval)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("invalid send_buffer %d: must be >= 1", c.SendBuffer)
	}
	if c.ReadLimit < 512 {
		return fmt.Errorf("invalid read_limit %d: must cover a subscription command", c.ReadLimit)
	}
	if c.Timeouts.Read < 0 {
		return fmt.Errorf("invalid timeouts.read %v: must be >= 0", c.Timeouts.Read)
	}
	if c.Timeouts.Write <= 0 {
		return fmt.Errorf("invalid timeouts.write %v: must be > 0", c.Timeouts.Write)
	}
	if c.Timeouts.Idle < 0 {
		return fmt.Errorf("invalid timeouts.idle %v: must be >= 0", c.Timeouts.Idle)
	}
	if c.Timeouts.Shutdown <= 0 {
		return fmt.Errorf("invalid timeouts.shutdown %v: must be > 0", c.Timeouts.Shutdown)
	}
	return nil
}

// Adapter is the gateway front. It owns the HTTP listener; each upgraded
// WebSocket connection is handled by a conn instance with a single reader
// and a single writer goroutine.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Every WebSocket peer is sent a going-away close frame and torn down
//  3. The HTTP server stops accepting and drains plain requests
//  4. Wait for connection handlers to finish (up to Timeouts.Shutdown)
//  5. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. The shutdown mechanism uses
// sync.Once so Stop() may be called multiple times.
type Adapter struct {
	config Config

	// registry is the only backend the gateway talks to.
	registry *progress.Registry

	// metricsHandler, when non-nil, is mounted at /metrics.
	metricsHandler http.Handler

	// metrics is optional; nil disables collection.
	metrics Metrics

	httpServer *http.Server
	upgrader   websocket.Upgrader
	startTime  time.Time

	// listener is closed by the HTTP server's Shutdown.
	listener   net.Listener
	listenerMu sync.RWMutex

	// listenerReady is closed when the listener is accepting connections.
	// Used by tests to synchronize with server startup.
	listenerReady chan struct{}

	// activeConns tracks live WebSocket handlers for graceful shutdown.
	// The HTTP server cannot drain them itself: upgraded connections are
	// hijacked out of its bookkeeping.
	activeConns sync.WaitGroup

	// shutdownOnce protects the shutdown sequence.
	shutdownOnce sync.Once

	// shutdown signals that graceful shutdown has been initiated.
	shutdown chan struct{}

	// connCount is the current number of active WebSocket connections.
	connCount atomic.Int32

	// activeConnections maps remote address to *conn for the shutdown
	// broadcast and forced closure.
	activeConnections sync.Map
}

// New creates a gateway front in a stopped state. Call Serve to start
// accepting connections.
//
// metricsHandler, when non-nil, is served at GET /metrics. Zero config
// values are replaced with defaults. Panics if the resulting configuration
// is invalid, which indicates programmer error.
func New(config Config, registry *progress.Registry, metricsHandler http.Handler, m Metrics) *Adapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid gateway config: %v", err))
	}

	a := &Adapter{
		config:         config,
		registry:       registry,
		metricsHandler: metricsHandler,
		metrics:        m,
		startTime:      time.Now(),
		listenerReady:  make(chan struct{}),
		shutdown:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Subscriptions are read-only observability; any origin may
			// attach.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	a.httpServer = &http.Server{
		Handler:      a.buildRouter(),
		ReadTimeout:  config.Timeouts.Read,
		WriteTimeout: config.Timeouts.Write,
		IdleTimeout:  config.Timeouts.Idle,
	}

	return a
}

// Serve starts the gateway and blocks until the context is cancelled or an
// unrecoverable error occurs.
//
// Returns nil on graceful shutdown, or an error if the listener fails to
// start or shutdown is not graceful.
func (a *Adapter) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create gateway listener on port %d: %w", a.config.Port, err)
	}

	a.listenerMu.Lock()
	a.listener = listener
	a.listenerMu.Unlock()
	close(a.listenerReady)

	logger.Info("Gateway listening", "address", listener.Addr().String())
	logger.Debug("Gateway config",
		"heartbeat_interval", a.config.HeartbeatInterval,
		"send_buffer", a.config.SendBuffer,
		"read_limit", a.config.ReadLimit,
		"metrics_endpoint", a.metricsHandler != nil)

	go func() {
		<-ctx.Done()
		logger.Info("Gateway shutdown signal received", "error", ctx.Err())
		a.initiateShutdown()
	}()

	err = a.httpServer.Serve(listener)
	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server failed: %w", err)
	}

	// Serve returns as soon as shutdown begins. WebSocket connections are
	// hijacked out of the HTTP server, so they drain separately.
	return a.gracefulShutdown()
}

// initiateShutdown begins graceful shutdown. Safe to call multiple times
// and from multiple goroutines.
func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		logger.Debug("Gateway shutdown initiated")

		close(a.shutdown)

		// Tell every peer the server is draining. Closing the socket also
		// unblocks the connection's pumps, which releases its
		// subscriptions.
		a.activeConnections.Range(func(_, value any) bool {
			if c, ok := value.(*conn); ok {
				c.closeGoingAway()
			}
			return true
		})

		shCtx, cancel := context.WithTimeout(context.Background(), a.config.Timeouts.Shutdown)
		defer cancel()

		if err := a.httpServer.Shutdown(shCtx); err != nil {
			logger.Debug("Error shutting down gateway HTTP server", "error", err)
		}
	})
}

// gracefulShutdown waits for active connections to complete or for the
// shutdown timeout, force-closing whatever remains after it.
func (a *Adapter) gracefulShutdown() error {
	activeCount := a.connCount.Load()
	logger.Info("Gateway graceful shutdown: waiting for active connections",
		"active", activeCount, "timeout", a.config.Timeouts.Shutdown)

	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		logger.Info("Gateway graceful shutdown complete: all connections closed")

	case <-time.After(a.config.Timeouts.Shutdown):
		remaining := a.connCount.Load()
		logger.Warn("Gateway shutdown timeout exceeded - forcing closure",
			"active", remaining, "timeout", a.config.Timeouts.Shutdown)

		a.forceCloseConnections()

		err = fmt.Errorf("gateway shutdown timeout: %d connections force-closed", remaining)
	}

	return err
}

// forceCloseConnections tears down all remaining WebSocket connections
// after the graceful timeout has expired.
func (a *Adapter) forceCloseConnections() {
	closedCount := 0
	a.activeConnections.Range(func(key, value any) bool {
		if c, ok := value.(*conn); ok {
			c.close()
			closedCount++
			logger.Debug("Force-closed gateway connection", "address", key)
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed gateway connections", "count", closedCount)
	}
}

// Stop initiates graceful shutdown and waits for active connections to
// complete. The context bounds the wait; with a nil context the configured
// shutdown timeout applies.
//
// Safe to call multiple times and concurrently with Serve.
func (a *Adapter) Stop(ctx context.Context) error {
	a.initiateShutdown()

	if ctx == nil {
		return a.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Gateway graceful shutdown complete: all connections closed")
		return nil

	case <-ctx.Done():
		remaining := a.connCount.Load()
		logger.Warn("Gateway shutdown context cancelled", "active", remaining, "error", ctx.Err())
		return ctx.Err()
	}
}

// GetActiveConnections returns the current number of WebSocket connections.
// Primarily used by tests and monitoring.
func (a *Adapter) GetActiveConnections() int32 {
	return a.connCount.Load()
}

// GetListenerAddr returns the address the server is listening on, blocking
// until the listener is ready. Returns "" if the server failed to start.
func (a *Adapter) GetListenerAddr() string {
	<-a.listenerReady

	a.listenerMu.RLock()
	defer a.listenerMu.RUnlock()

	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Port returns the configured TCP port. This implements adapter.Adapter.
func (a *Adapter) Port() int {
	return a.config.Port
}

// Protocol returns "Gateway". This implements adapter.Adapter.
func (a *Adapter) Protocol() string {
	return "Gateway"
}
