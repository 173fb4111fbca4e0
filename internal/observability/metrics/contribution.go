package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Contribution pipeline operations
const (
	OpPlantSubmit    = "plant_submit"
	OpFeedbackSubmit = "feedback_submit"
	OpStatusQuery    = "status_query"
	OpStage          = "stage"
	OpUpload         = "upload"
	OpMetadataWrite  = "metadata_write"
)

// ContributionMetrics contains Prometheus metrics of the contribution services.
type ContributionMetrics struct {
	operations     *prometheus.CounterVec
	durations      *prometheus.HistogramVec
	errors         *prometheus.CounterVec
	orphanedAssets prometheus.Counter
	imageBytes     prometheus.Histogram
	cacheLookups   *prometheus.CounterVec
}

var _ Recorder = (*ContributionMetrics)(nil)

// NewContributionMetrics creates and registers the contribution metrics.
func NewContributionMetrics(registry prometheus.Registerer) (*ContributionMetrics, error) {
	m := &ContributionMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "florai_contribution_operations_total",
			Help: "Total number of contribution operations by outcome",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "florai_contribution_operation_duration_seconds",
			Help:    "Duration of contribution pipeline steps",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "florai_contribution_errors_total",
			Help: "Total number of contribution errors by type",
		}, []string{"operation", "error_type"}),
		orphanedAssets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "florai_contribution_orphaned_assets_total",
			Help: "Uploaded images left without a metadata record",
		}),
		imageBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "florai_contribution_image_bytes",
			Help:    "Size of accepted contribution images",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "florai_contribution_status_cache_lookups_total",
			Help: "Status cache lookups by result",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.operations, m.durations, m.errors, m.orphanedAssets, m.imageBytes, m.cacheLookups} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register contribution metrics: %w", err)
		}
	}
	return m, nil
}

// RecordOperation implements Recorder.
func (m *ContributionMetrics) RecordOperation(operation, status string) {
	m.operations.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *ContributionMetrics) RecordDuration(operation string, seconds float64) {
	m.durations.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *ContributionMetrics) RecordError(operation, errorType string) {
	m.errors.WithLabelValues(operation, errorType).Inc()
}

// IncOrphanedAssets counts an uploaded image whose metadata write failed.
func (m *ContributionMetrics) IncOrphanedAssets() {
	m.orphanedAssets.Inc()
}

// ObserveImageSize records the size of an accepted image.
func (m *ContributionMetrics) ObserveImageSize(bytes int64) {
	m.imageBytes.Observe(float64(bytes))
}

// RecordCacheLookup records a status cache hit or miss.
func (m *ContributionMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
