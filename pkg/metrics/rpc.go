package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/freightcore/freightcore/pkg/adapter/rpc"
)

// rpcMetrics is the Prometheus implementation of rpc.Metrics.
type rpcMetrics struct {
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	activeConnections      prometheus.Gauge
	callsTotal             *prometheus.CounterVec
	callDuration           *prometheus.HistogramVec
}

// NewRPCMetrics creates a Prometheus-backed rpc.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to the RPC front,
// which results in zero overhead.
func NewRPCMetrics() rpc.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &rpcMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "freight_rpc_connections_accepted_total",
				Help: "Total number of RPC connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "freight_rpc_connections_closed_total",
				Help: "Total number of RPC connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "freight_rpc_connections_force_closed_total",
				Help: "Total number of RPC connections force-closed after the shutdown timeout",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "freight_rpc_active_connections",
				Help: "Current number of RPC connections",
			},
		),
		callsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "freight_rpc_calls_total",
				Help: "Total number of RPC calls served, by procedure and reply status",
			},
			[]string{"procedure", "status"},
		),
		callDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "freight_rpc_call_duration_milliseconds",
				Help: "Duration of RPC calls; streaming calls are observed once, at stream end",
				Buckets: []float64{
					1,     // 1ms - catalog lookups
					5,     // 5ms
					10,    // 10ms
					50,    // 50ms - chunk ingest
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s - commits
					5000,  // 5s
					30000, // 30s - download and progress streams
				},
			},
			[]string{"procedure"},
		),
	}
}

func (m *rpcMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
}

func (m *rpcMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
}

func (m *rpcMetrics) RecordConnectionForceClosed() {
	if m == nil {
		return
	}
	m.connectionsForceClosed.Inc()
}

func (m *rpcMetrics) SetActiveConnections(count int32) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(count))
}

func (m *rpcMetrics) RecordCall(procedure, status string, duration time.Duration) {
	if m == nil {
		return
	}

	m.callsTotal.WithLabelValues(procedure, status).Inc()
	m.callDuration.WithLabelValues(procedure).Observe(duration.Seconds() * 1000)
}
