package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/freightcore/freightcore/pkg/gateway"
)

// gatewayMetrics is the Prometheus implementation of gateway.Metrics.
type gatewayMetrics struct {
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter
	activeConnections prometheus.Gauge
	subscribesTotal   prometheus.Counter
	unsubscribesTotal prometheus.Counter
}

// NewGatewayMetrics creates a Prometheus-backed gateway.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to the gateway,
// which results in zero overhead.
func NewGatewayMetrics() gateway.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &gatewayMetrics{
		connectionsOpened: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "freight_gateway_connections_opened_total",
				Help: "Total number of WebSocket connections opened",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "freight_gateway_connections_closed_total",
				Help: "Total number of WebSocket connections closed",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "freight_gateway_active_connections",
				Help: "Current number of WebSocket connections",
			},
		),
		subscribesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "freight_gateway_subscribes_total",
				Help: "Total number of subscribe commands accepted",
			},
		),
		unsubscribesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "freight_gateway_unsubscribes_total",
				Help: "Total number of unsubscribe commands accepted",
			},
		),
	}
}

func (m *gatewayMetrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsOpened.Inc()
}

func (m *gatewayMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
}

func (m *gatewayMetrics) SetActiveConnections(count int32) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(count))
}

func (m *gatewayMetrics) RecordSubscribe() {
	if m == nil {
		return
	}
	m.subscribesTotal.Inc()
}

func (m *gatewayMetrics) RecordUnsubscribe() {
	if m == nil {
		return
	}
	m.unsubscribesTotal.Inc()
}
