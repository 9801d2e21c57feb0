package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/freightcore/freightcore/pkg/transfer"
)

// transferMetrics is the Prometheus implementation of transfer.Metrics.
type transferMetrics struct {
	uploadsStarted    *prometheus.CounterVec
	uploadsFinished   *prometheus.CounterVec
	uploadDuration    *prometheus.HistogramVec
	uploadBytes       *prometheus.HistogramVec
	chunksAccepted    prometheus.Counter
	chunkBytes        prometheus.Counter
	downloadsStarted  prometheus.Counter
	downloadsFinished *prometheus.CounterVec
	downloadDuration  *prometheus.HistogramVec
	downloadBytes     *prometheus.HistogramVec
}

// NewTransferMetrics creates a Prometheus-backed transfer.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to the transfer service,
// which results in zero overhead.
func NewTransferMetrics() transfer.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &transferMetrics{
		uploadsStarted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "freight_transfer_uploads_started_total",
				Help: "Total number of upload sessions initiated, by mode",
			},
			[]string{"mode"},
		),
		uploadsFinished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "freight_transfer_uploads_finished_total",
				Help: "Total number of upload sessions finished, by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		uploadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "freight_transfer_upload_duration_milliseconds",
				Help: "Duration of upload sessions from initiate to terminal state",
				Buckets: []float64{
					100,     // 100ms - small direct uploads
					500,     // 500ms
					1000,    // 1s
					5000,    // 5s
					15000,   // 15s
					60000,   // 1m - large multipart uploads
					300000,  // 5m
					1800000, // 30m - idle timeout ceiling
				},
			},
			[]string{"mode"},
		),
		uploadBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "freight_transfer_upload_bytes",
				Help: "Distribution of bytes received per committed upload",
				Buckets: []float64{
					65536,      // 64KB
					1048576,    // 1MB
					5242880,    // 5MB - multipart threshold
					33554432,   // 32MB
					104857600,  // 100MB
					1073741824, // 1GB
				},
			},
			[]string{"mode"},
		),
		chunksAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "freight_transfer_chunks_accepted_total",
				Help: "Total number of upload chunks accepted",
			},
		),
		chunkBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "freight_transfer_chunk_bytes_total",
				Help: "Total payload bytes accepted across all upload chunks",
			},
		),
		downloadsStarted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "freight_transfer_downloads_started_total",
				Help: "Total number of download streams opened",
			},
		),
		downloadsFinished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "freight_transfer_downloads_finished_total",
				Help: "Total number of download streams finished, by outcome",
			},
			[]string{"outcome"},
		),
		downloadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "freight_transfer_download_duration_milliseconds",
				Help: "Duration of download streams",
				Buckets: []float64{
					10,     // 10ms - single-frame objects
					100,    // 100ms
					500,    // 500ms
					1000,   // 1s
					5000,   // 5s
					30000,  // 30s
					300000, // 5m - slow consumers
				},
			},
			[]string{"outcome"},
		),
		downloadBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "freight_transfer_download_bytes",
				Help: "Distribution of bytes streamed per download",
				Buckets: []float64{
					65536,      // 64KB
					1048576,    // 1MB
					5242880,    // 5MB
					33554432,   // 32MB
					104857600,  // 100MB
					1073741824, // 1GB
				},
			},
			[]string{"outcome"},
		),
	}
}

func (m *transferMetrics) RecordUploadStarted(mode string) {
	if m == nil {
		return
	}
	m.uploadsStarted.WithLabelValues(mode).Inc()
}

func (m *transferMetrics) RecordUploadFinished(mode, outcome string, bytes int64, duration time.Duration) {
	if m == nil {
		return
	}

	m.uploadsFinished.WithLabelValues(mode, outcome).Inc()
	m.uploadDuration.WithLabelValues(mode).Observe(duration.Seconds() * 1000)

	if bytes > 0 {
		m.uploadBytes.WithLabelValues(mode).Observe(float64(bytes))
	}
}

func (m *transferMetrics) RecordChunkAccepted(bytes int) {
	if m == nil {
		return
	}

	m.chunksAccepted.Inc()
	m.chunkBytes.Add(float64(bytes))
}

func (m *transferMetrics) RecordDownloadStarted() {
	if m == nil {
		return
	}
	m.downloadsStarted.Inc()
}

func (m *transferMetrics) RecordDownloadFinished(outcome string, bytes int64, duration time.Duration) {
	if m == nil {
		return
	}

	m.downloadsFinished.WithLabelValues(outcome).Inc()
	m.downloadDuration.WithLabelValues(outcome).Observe(duration.Seconds() * 1000)

	if bytes > 0 {
		m.downloadBytes.WithLabelValues(outcome).Observe(float64(bytes))
	}
}
