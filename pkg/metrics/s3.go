package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/freightcore/freightcore/pkg/objstore/s3"
)

// s3Metrics is the Prometheus implementation of s3.Metrics.
type s3Metrics struct {
	operationsTotal       *prometheus.CounterVec
	operationDuration     *prometheus.HistogramVec
	bytesTransferred      *prometheus.CounterVec
	multipartPartNumber   prometheus.Histogram
	multipartAbortedTotal prometheus.Counter
}

// NewS3Metrics creates a Prometheus-backed s3.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to the S3 store,
// which results in zero overhead.
func NewS3Metrics() s3.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &s3Metrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "freight_s3_operations_total",
				Help: "Total number of S3 operations by operation type and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "freight_s3_operation_duration_milliseconds",
				Help: "Duration of S3 operations in milliseconds",
				Buckets: []float64{
					10,    // 10ms - fast metadata operations
					50,    // 50ms - small object operations
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s - medium objects
					5000,  // 5s - large objects
					10000, // 10s - multipart parts
					30000, // 30s - very large operations
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "freight_s3_bytes_transferred_total",
				Help: "Total payload bytes moved through the S3 store, by direction",
			},
			[]string{"direction"},
		),
		multipartPartNumber: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "freight_s3_multipart_part_number",
				Help: "Distribution of multipart part numbers (indicates artifact size distribution)",
				Buckets: []float64{
					1,   // Single part
					2,   // ~16MB at the default part size
					5,   // ~40MB
					10,  // ~80MB
					20,  // ~160MB
					50,  // ~400MB
					100, // ~800MB
					200, // ~1.6GB
				},
			},
		),
		multipartAbortedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "freight_s3_multipart_aborted_total",
				Help: "Total number of multipart uploads that were aborted",
			},
		),
	}
}

func (m *s3Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds() * 1000)
}

func (m *s3Metrics) RecordBytes(direction string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *s3Metrics) ObserveMultipartPart(partNumber int32) {
	if m == nil {
		return
	}
	m.multipartPartNumber.Observe(float64(partNumber))
}

func (m *s3Metrics) RecordMultipartAborted() {
	if m == nil {
		return
	}
	m.multipartAbortedTotal.Inc()
}
