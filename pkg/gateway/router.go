package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/freightcore/freightcore/internal/logger"
)

// buildRouter configures the chi router serving the gateway's three
// endpoints.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /metrics - Prometheus scrape endpoint (when configured)
//   - GET /subscribe - WebSocket upgrade for progress subscriptions
//
// There is no request timeout middleware: /subscribe connections are
// long-lived and their liveness is governed by the heartbeat instead.
func (a *Adapter) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", a.handleHealth)
	if a.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", a.metricsHandler)
	}
	r.Get("/subscribe", a.handleSubscribe)

	return r
}

// handleHealth handles GET /health - liveness probe.
func (a *Adapter) handleHealth(w http.ResponseWriter, _ *http.Request) {
	uptime := time.Since(a.startTime)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"service":     "freightd",
		"uptime":      uptime.Round(time.Second).String(),
		"uptime_sec":  int64(uptime.Seconds()),
		"connections": a.connCount.Load(),
	})
}

// handleSubscribe upgrades GET /subscribe to a WebSocket connection and
// serves it until the peer disconnects or the gateway shuts down.
func (a *Adapter) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	select {
	case <-a.shutdown:
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		logger.Debug("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(a, ws)
	addr := ws.RemoteAddr().String()

	a.activeConns.Add(1)
	current := a.connCount.Add(1)
	a.activeConnections.Store(addr, c)

	if a.metrics != nil {
		a.metrics.RecordConnectionOpened()
		a.metrics.SetActiveConnections(current)
	}

	logger.Debug("Gateway connection opened", "address", addr, "active", current)

	defer func() {
		c.close()
		a.activeConnections.Delete(addr)

		remaining := a.connCount.Add(-1)
		if a.metrics != nil {
			a.metrics.RecordConnectionClosed()
			a.metrics.SetActiveConnections(remaining)
		}

		logger.Debug("Gateway connection closed", "address", addr, "active", remaining)

		// Done comes last so a completed shutdown wait observes fully
		// released counters.
		a.activeConns.Done()
	}()

	c.serve()
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to encode gateway response", "error", err)
	}
}

// isQuietPath returns true for endpoints polled by orchestration, whose
// request logs would otherwise drown everything else.
func isQuietPath(path string) bool {
	return path == "/health" || path == "/metrics"
}

// requestLogger is a custom middleware that logs requests using the
// internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Health and metrics scrapes are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("Gateway request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		if isQuietPath(r.URL.Path) {
			logger.Debug("Gateway request completed", logArgs...)
		} else {
			logger.Info("Gateway request completed", logArgs...)
		}
	})
}
