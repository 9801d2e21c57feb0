package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/freightcore/freightcore/pkg/session"
)

// sessionMetrics is the Prometheus implementation of session.Metrics.
type sessionMetrics struct {
	activeSessions prometheus.Gauge
	inflightBytes  prometheus.Gauge
	expiredTotal   prometheus.Counter
}

// NewSessionMetrics creates a Prometheus-backed session.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to the session store,
// which results in zero overhead.
func NewSessionMetrics() session.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &sessionMetrics{
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "freight_session_active",
				Help: "Current number of non-terminal upload sessions",
			},
		),
		inflightBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "freight_session_inflight_bytes",
				Help: "Aggregate payload bytes buffered across live upload sessions",
			},
		),
		expiredTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "freight_session_expired_total",
				Help: "Total number of upload sessions aborted by the idle janitor",
			},
		),
	}
}

func (m *sessionMetrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

func (m *sessionMetrics) SetInflightBytes(bytes int64) {
	if m == nil {
		return
	}
	m.inflightBytes.Set(float64(bytes))
}

func (m *sessionMetrics) RecordSessionExpired() {
	if m == nil {
		return
	}
	m.expiredTotal.Inc()
}
