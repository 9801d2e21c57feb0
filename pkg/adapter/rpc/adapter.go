// Package rpc implements the binary RPC front: a TCP listener speaking the
// freight wire protocol, dispatching calls to the transfer service and
// streaming download frames and progress snapshots back to clients.
package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freightcore/freightcore/internal/logger"
	"github.com/freightcore/freightcore/internal/protocol/freight/rpc"
	"github.com/freightcore/freightcore/pkg/progress"
	"github.com/freightcore/freightcore/pkg/transfer"
)

// Metrics records RPC front activity. A nil Metrics disables collection.
type Metrics interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)

	// RecordCall observes one completed call with its wire procedure name,
	// reply status name, and handling duration. Streaming calls are recorded
	// once, when the stream ends.
	RecordCall(procedure, status string, duration time.Duration)
}

// TimeoutsConfig groups all timeout-related configuration.
type TimeoutsConfig struct {
	// Read is the maximum duration for reading a complete call once its
	// fragment header has arrived. 0 means no timeout.
	Read time.Duration `mapstructure:"read" validate:"min=0" yaml:"read"`

	// Write is the maximum duration for writing one reply record.
	// 0 means no timeout.
	Write time.Duration `mapstructure:"write" validate:"min=0" yaml:"write"`

	// Idle is the maximum duration a connection can sit between calls
	// before being closed. 0 means connections stay open indefinitely.
	Idle time.Duration `mapstructure:"idle" validate:"min=0" yaml:"idle"`

	// Shutdown is the maximum duration to wait for active connections to
	// complete during graceful shutdown. Must be > 0.
	Shutdown time.Duration `mapstructure:"shutdown" validate:"required,gt=0" yaml:"shutdown"`
}

// Config holds configuration for the RPC front.
//
// Default values (applied by New if zero):
//   - MaxFragmentBytes: rpc.DefaultMaxFragment
//   - Timeouts.Read: 2m
//   - Timeouts.Write: 30s
//   - Timeouts.Idle: 5m
//   - Timeouts.Shutdown: 30s
//   - MetricsLogInterval: 5m (0 after defaults disables)
//
// The standard port 7420 is installed by the config layer, not here: a zero
// Port binds an ephemeral port, which tests rely on.
type Config struct {
	// Enabled controls whether the RPC front is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the TCP port to listen on. 0 binds an ephemeral port.
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`

	// MaxConnections limits concurrent client connections. When reached,
	// new connections wait until existing ones close. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// MaxFragmentBytes bounds inbound record sizes. Must cover the largest
	// accepted chunk plus call-header headroom; the daemon derives it from
	// the transfer chunk ceiling.
	MaxFragmentBytes uint32 `mapstructure:"max_fragment_bytes" validate:"min=0" yaml:"max_fragment_bytes"`

	// Timeouts groups all timeout-related configuration.
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`

	// MetricsLogInterval is the interval at which to log server activity
	// (active connections, calls served). 0 disables periodic logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0" yaml:"metrics_log_interval"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.MaxFragmentBytes == 0 {
		c.MaxFragmentBytes = rpc.DefaultMaxFragment
	}
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = 2 * time.Minute
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = 30 * time.Second
	}
	if c.Timeouts.Idle == 0 {
		c.Timeouts.Idle = 5 * time.Minute
	}
	if c.Timeouts.Shutdown == 0 {
		c.Timeouts.Shutdown = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

// validate checks that the configuration is usable.
func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.MaxFragmentBytes < 4<<10 {
		return fmt.Errorf("invalid MaxFragmentBytes %d: must cover at least a call header", c.MaxFragmentBytes)
	}
	if c.Timeouts.Read < 0 {
		return fmt.Errorf("invalid timeouts.read %v: must be >= 0", c.Timeouts.Read)
	}
	if c.Timeouts.Write < 0 {
		return fmt.Errorf("invalid timeouts.write %v: must be >= 0", c.Timeouts.Write)
	}
	if c.Timeouts.Idle < 0 {
		return fmt.Errorf("invalid timeouts.idle %v: must be >= 0", c.Timeouts.Idle)
	}
	if c.Timeouts.Shutdown <= 0 {
		return fmt.Errorf("invalid timeouts.shutdown %v: must be > 0", c.Timeouts.Shutdown)
	}
	return nil
}

// Adapter is the RPC front. It manages the TCP listener and connection
// lifecycle; each accepted connection is handled by a conn instance that
// reads calls in order and writes replies.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled (signals in-flight calls and streams to abort)
//  4. Wait for active connections to complete (up to Timeouts.Shutdown)
//  5. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. The shutdown mechanism uses
// sync.Once so Stop() may be called multiple times.
type Adapter struct {
	config Config

	// listener is closed during shutdown to stop accepting new connections.
	listener net.Listener

	// service executes every procedure except progress subscription.
	service *transfer.Service

	// registry serves SubscribeProgress streams.
	registry *progress.Registry

	// metrics is optional; nil disables collection.
	metrics Metrics

	// activeConns tracks live connections for graceful shutdown.
	activeConns sync.WaitGroup

	// shutdownOnce protects the shutdown channel close and listener cleanup.
	shutdownOnce sync.Once

	// shutdown signals that graceful shutdown has been initiated.
	shutdown chan struct{}

	// connCount is the current number of active connections.
	connCount atomic.Int32

	// callCount counts calls served since start, for the metrics log.
	callCount atomic.Uint64

	// connSemaphore limits concurrent connections when MaxConnections > 0.
	// nil means unlimited.
	connSemaphore chan struct{}

	// shutdownCtx is cancelled during shutdown to abort in-flight calls and
	// terminate download and progress streams.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps remote address to net.Conn for forced closure.
	activeConnections sync.Map

	// listenerReady is closed when the listener is accepting connections.
	// Used by tests to synchronize with server startup.
	listenerReady chan struct{}
	listenerMu    sync.RWMutex
}

// New creates an RPC front in a stopped state. Call Serve to start
// accepting connections.
//
// Zero config values are replaced with defaults. Panics if the resulting
// configuration is invalid, which indicates programmer error.
func New(config Config, service *transfer.Service, registry *progress.Registry, m Metrics) *Adapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid RPC config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("RPC connection limit", "max_connections", config.MaxConnections)
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Adapter{
		config:         config,
		service:        service,
		registry:       registry,
		metrics:        m,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
		listenerReady:  make(chan struct{}),
	}
}

// Serve starts the RPC server and blocks until the context is cancelled or
// an unrecoverable error occurs.
//
// Each accepted TCP connection is handled by its own goroutine reading
// calls strictly in order; see conn.serve for the per-connection contract.
//
// Returns nil on graceful shutdown, or an error if the listener fails to
// start or shutdown is not graceful.
func (a *Adapter) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Port))
	if err != nil {
		return fmt.Errorf("failed to create RPC listener on port %d: %w", a.config.Port, err)
	}

	a.listenerMu.Lock()
	a.listener = listener
	a.listenerMu.Unlock()
	close(a.listenerReady)

	logger.Info("RPC server listening", "address", listener.Addr().String())
	logger.Debug("RPC config",
		"max_connections", a.config.MaxConnections,
		"max_fragment_bytes", a.config.MaxFragmentBytes,
		"read_timeout", a.config.Timeouts.Read,
		"write_timeout", a.config.Timeouts.Write,
		"idle_timeout", a.config.Timeouts.Idle)

	// Monitor context cancellation in a separate goroutine so the accept
	// loop stays a tight loop.
	go func() {
		<-ctx.Done()
		logger.Info("RPC shutdown signal received", "error", ctx.Err())
		a.initiateShutdown()
	}()

	if a.config.MetricsLogInterval > 0 {
		go a.logMetrics(ctx)
	}

	for {
		// Acquire a semaphore slot if connection limiting is enabled. This
		// blocks at MaxConnections until a connection closes.
		if a.connSemaphore != nil {
			select {
			case a.connSemaphore <- struct{}{}:
			case <-a.shutdown:
				return a.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if a.connSemaphore != nil {
				<-a.connSemaphore
			}

			select {
			case <-a.shutdown:
				// Expected error during shutdown (listener was closed).
				return a.gracefulShutdown()
			default:
				logger.Debug("Error accepting RPC connection", "error", err)
				continue
			}
		}

		a.activeConns.Add(1)
		currentConns := a.connCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		a.activeConnections.Store(connAddr, tcpConn)

		if a.metrics != nil {
			a.metrics.RecordConnectionAccepted()
			a.metrics.SetActiveConnections(currentConns)
		}

		logger.Debug("RPC connection accepted", "address", connAddr, "active", currentConns)

		c := newConn(a, tcpConn)
		go func(addr string, tcp net.Conn) {
			defer func() {
				a.activeConnections.Delete(addr)

				remaining := a.connCount.Add(-1)
				if a.connSemaphore != nil {
					<-a.connSemaphore
				}

				if a.metrics != nil {
					a.metrics.RecordConnectionClosed()
					a.metrics.SetActiveConnections(remaining)
				}

				logger.Debug("RPC connection closed", "address", addr, "active", remaining)

				// Done comes last so a completed shutdown wait observes
				// fully released counters.
				a.activeConns.Done()
			}()

			c.serve(a.shutdownCtx)
		}(connAddr, tcpConn)
	}
}

// initiateShutdown signals the server to begin graceful shutdown. Safe to
// call multiple times and from multiple goroutines.
func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		logger.Debug("RPC shutdown initiated")

		close(a.shutdown)

		a.listenerMu.Lock()
		if a.listener != nil {
			if err := a.listener.Close(); err != nil {
				logger.Debug("Error closing RPC listener", "error", err)
			}
		}
		a.listenerMu.Unlock()

		// Unblock pending reads so connection loops notice shutdown quickly
		// instead of waiting out the idle timeout.
		a.interruptBlockingReads()

		// Cancel in-flight calls. Download sinks and progress streams check
		// this context and terminate their streams.
		a.cancelRequests()
	})
}

// interruptBlockingReads sets a short deadline on all active connections to
// interrupt any blocking reads during shutdown.
func (a *Adapter) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)

	a.activeConnections.Range(func(key, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			if err := conn.SetReadDeadline(deadline); err != nil {
				logger.Debug("Error setting shutdown deadline on connection",
					"address", key, "error", err)
			}
		}
		return true
	})
}

// gracefulShutdown waits for active connections to complete or for the
// shutdown timeout, force-closing whatever remains after it.
func (a *Adapter) gracefulShutdown() error {
	activeCount := a.connCount.Load()
	logger.Info("RPC graceful shutdown: waiting for active connections",
		"active", activeCount, "timeout", a.config.Timeouts.Shutdown)

	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		logger.Info("RPC graceful shutdown complete: all connections closed")

	case <-time.After(a.config.Timeouts.Shutdown):
		remaining := a.connCount.Load()
		logger.Warn("RPC shutdown timeout exceeded - forcing closure",
			"active", remaining, "timeout", a.config.Timeouts.Shutdown)

		a.forceCloseConnections()

		err = fmt.Errorf("RPC shutdown timeout: %d connections force-closed", remaining)
	}

	return err
}

// forceCloseConnections closes all active TCP connections to accelerate
// shutdown after the graceful timeout has expired.
func (a *Adapter) forceCloseConnections() {
	closedCount := 0
	a.activeConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection", "address", addr, "error", err)
		} else {
			closedCount++
			if a.metrics != nil {
				a.metrics.RecordConnectionForceClosed()
			}
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed RPC connections", "count", closedCount)
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
		logger.Info("RPC graceful shutdown complete: all connections closed")
		return nil

	case <-ctx.Done():
		remaining := a.connCount.Load()
		logger.Warn("RPC shutdown context cancelled", "active", remaining, "error", ctx.Err())
		return ctx.Err()
	}
}

// logMetrics periodically logs server activity for monitoring. Exits when
// the context is cancelled.
func (a *Adapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(a.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("RPC metrics",
				"active_connections", a.connCount.Load(),
				"calls_served", a.callCount.Load())
		}
	}
}

// GetActiveConnections returns the current number of active connections.
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

// Protocol returns "RPC". This implements adapter.Adapter.
func (a *Adapter) Protocol() string {
	return "RPC"
}
