// Package adapter defines the lifecycle contract shared by the freight
// front-ends: the binary RPC listener and the WebSocket gateway.
package adapter

import "context"

// Adapter is a protocol front that can be managed by the freight daemon.
//
// Each adapter owns one listener and serves one protocol surface. All
// adapters share the same transfer service and progress registry, so an
// upload started over RPC is observable through the gateway and vice versa.
//
// Lifecycle:
//  1. Creation: the adapter is built with its configuration and the shared
//     services it fronts
//  2. Startup: Serve() starts the listener and blocks until shutdown
//  3. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is
	// cancelled or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new connections
	//   - Wait for active operations to complete (with timeout)
	//   - Clean up resources
	//   - Return context.Canceled or nil
	//
	// If Serve returns before context cancellation, the daemon treats it as
	// a fatal error and stops all other adapters.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown of the protocol server.
	//
	// Implementations must:
	//   - Be safe to call multiple times (idempotent)
	//   - Be safe to call concurrently with Serve()
	//   - Respect the context timeout for shutdown operations
	//   - Clean up all resources (listeners, connections, goroutines)
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and
	// metrics, for example "RPC" or "Gateway".
	//
	// The returned value is constant for the lifecycle of the adapter.
	Protocol() string

	// Port returns the TCP port the adapter is listening on.
	//
	// This is used for logging and health checks. Returns the configured
	// port, which may be 0 before an ephemeral listener has been bound.
	Port() int
}
