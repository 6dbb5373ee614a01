package vfs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics about storage operations. A nil *Metrics records nothing.
type Metrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	payloadBytes *prometheus.CounterVec
}

// NewMetrics registers the storage metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfs_operations_total",
				Help: "Total number of storage operations by result",
			},
			[]string{"operation", "result"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docfs_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		payloadBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfs_payload_bytes_total",
				Help: "Total file content bytes written (in) and read (out)",
			},
			[]string{"direction"},
		),
	}
}

// observe is deferred by operations with a pointer to their named error result.
func (m *Metrics) observe(operation string, start time.Time, err *error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, kindLabel(*err)).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) addBytes(direction string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.payloadBytes.WithLabelValues(direction).Add(float64(n))
}
