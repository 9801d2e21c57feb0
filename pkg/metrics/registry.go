// Package metrics provides Prometheus instrumentation for the freight
// daemon.
//
// Collection is opt-in. Until InitRegistry is called every constructor in
// this package returns nil, and every instrumented component treats a nil
// metrics value as disabled, so leaving metrics off costs a nil check.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	svc := transfer.New(cfg, store, registry, metrics.NewTransferMetrics(), metrics.NewSessionMetrics())
//
//	// Without metrics (zero overhead)
//	svc := transfer.New(cfg, store, registry, nil, nil)
//
// The scrape endpoint is served by the gateway, which mounts Handler() at
// /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the package registry, enabling metrics collection
// for every constructor called afterwards. Calling it again is a no-op.
//
// Call it before building the components that take metrics, or they will
// be handed nil implementations.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()

	if registry == nil {
		registry = prometheus.NewRegistry()
	}
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the package registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Handler returns the scrape handler for the package registry, or nil when
// metrics are disabled.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
