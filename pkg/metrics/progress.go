package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/freightcore/freightcore/pkg/progress"
)

// progressMetrics is the Prometheus implementation of progress.Metrics.
type progressMetrics struct {
	snapshotsPublished *prometheus.CounterVec
	snapshotsDropped   prometheus.Counter
	activeOperations   prometheus.Gauge
	activeSubscribers  prometheus.Gauge
}

// NewProgressMetrics creates a Prometheus-backed progress.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to the progress registry,
// which results in zero overhead.
func NewProgressMetrics() progress.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &progressMetrics{
		snapshotsPublished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "freight_progress_snapshots_total",
				Help: "Total number of snapshots published, by status",
			},
			[]string{"status"},
		),
		snapshotsDropped: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "freight_progress_snapshots_dropped_total",
				Help: "Total number of snapshots displaced from subscriber buffers by newer state",
			},
		),
		activeOperations: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "freight_progress_active_operations",
				Help: "Current number of tracked operations, terminal records in retention included",
			},
		),
		activeSubscribers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "freight_progress_active_subscribers",
				Help: "Current number of attached progress subscriptions",
			},
		),
	}
}

func (m *progressMetrics) RecordSnapshot(status progress.Status) {
	if m == nil {
		return
	}
	m.snapshotsPublished.WithLabelValues(string(status)).Inc()
}

func (m *progressMetrics) RecordDroppedSnapshot() {
	if m == nil {
		return
	}
	m.snapshotsDropped.Inc()
}

func (m *progressMetrics) SetActiveOperations(count int) {
	if m == nil {
		return
	}
	m.activeOperations.Set(float64(count))
}

func (m *progressMetrics) SetActiveSubscribers(count int) {
	if m == nil {
		return
	}
	m.activeSubscribers.Set(float64(count))
}
