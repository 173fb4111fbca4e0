package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics tracks object store operations.
type StorageMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewStorageMetrics creates and registers the storage metrics.
func NewStorageMetrics(registry prometheus.Registerer) (*StorageMetrics, error) {
	m := &StorageMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "florai_storage_operations_total",
			Help: "Object store operations by backend, operation and outcome",
		}, []string{"backend", "operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "florai_storage_operation_duration_seconds",
			Help:    "Latency of object store operations",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"backend", "operation"}),
	}
	if err := registry.Register(m.operations); err != nil {
		return nil, fmt.Errorf("failed to register storage metrics: %w", err)
	}
	if err := registry.Register(m.latency); err != nil {
		return nil, fmt.Errorf("failed to register storage metrics: %w", err)
	}
	return m, nil
}

// Observe records one operation.
func (m *StorageMetrics) Observe(backend, operation string, seconds float64, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.operations.WithLabelValues(backend, operation, status).Inc()
	m.latency.WithLabelValues(backend, operation).Observe(seconds)
}
