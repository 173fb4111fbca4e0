// Package contribution implements the server side of the consent-gated
// contribution pipeline: accepting plant photographs, recording
// identification feedback and reporting a user's contribution history.
package contribution

import (
	"context"

	"github.com/florai/contrib-pipeline/internal/datastore"
	"github.com/florai/contrib-pipeline/internal/logger"
	"github.com/florai/contrib-pipeline/internal/observability/metrics"
)

// Bucket is the logical object storage bucket of every contributed image.
const Bucket = "plant-contributions"

// MetadataStore persists contribution and feedback records.
type MetadataStore interface {
	CreateContribution(ctx context.Context, c *datastore.Contribution) error
	CreateFeedback(ctx context.Context, f *datastore.Feedback) error
}

// HistoryReader reads back a user's contributions, most recent first.
type HistoryReader interface {
	ListContributionsByUser(ctx context.Context, userID string) ([]datastore.Contribution, error)
}

// Metrics is the subset of the contribution collectors used by this package.
type Metrics interface {
	metrics.Recorder
	IncOrphanedAssets()
	ObserveImageSize(bytes int64)
	RecordCacheLookup(hit bool)
}

type nopMetrics struct {
	metrics.NopRecorder
}

func (nopMetrics) IncOrphanedAssets() {}
func (nopMetrics) ObserveImageSize(int64) {}
func (nopMetrics) RecordCacheLookup(bool) {}

// Publisher delivers a payload to a message broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

// Alerter sends an operator notification.
type Alerter interface {
	Send(ctx context.Context, title, message string) error
}

// CacheInvalidator drops cached state derived from a user's contributions.
type CacheInvalidator interface {
	Invalidate(userID string)
}

// GetLogger returns the contribution module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("contribution")
}
