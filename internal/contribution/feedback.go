package contribution

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/florai/contrib-pipeline/internal/datastore"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
	"github.com/florai/contrib-pipeline/internal/observability/metrics"
	"github.com/florai/contrib-pipeline/internal/privacy"
)

// FeedbackRecorder stores identification feedback as a single write.
type FeedbackRecorder struct {
	store   MetadataStore
	log     logger.Logger
	metrics Metrics
}

// NewFeedbackRecorder creates a FeedbackRecorder. A nil m disables metrics.
func NewFeedbackRecorder(store MetadataStore, m Metrics) *FeedbackRecorder {
	if m == nil {
		m = nopMetrics{}
	}
	return &FeedbackRecorder{store: store, log: GetLogger(), metrics: m}
}

// Submit validates req and writes it, returning the new feedback id.
func (r *FeedbackRecorder) Submit(ctx context.Context, req *FeedbackRequest) (string, error) {
	start := time.Now()
	defer func() {
		r.metrics.RecordDuration(metrics.OpFeedbackSubmit, time.Since(start).Seconds())
	}()

	if err := req.validate(); err != nil {
		r.fail(err)
		return "", err
	}

	f := &datastore.Feedback{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		IdentificationID:  cleanName(req.IdentificationID),
		IsCorrect:         *req.IsCorrect,
		CorrectSpecies:    optionalName(req.CorrectScientificName),
		CorrectCommonName: optionalName(req.CorrectCommonName),
		Notes:             cleanText(req.Notes),
		DataUsageConsent:  *req.DataUsageConsent,
		CreatedAt:         time.Now().UTC(),
	}
	if err := r.store.CreateFeedback(ctx, f); err != nil {
		merr := &MetadataWriteError{Err: enhance(err, errors.CategoryDatabase, "create_feedback")}
		r.log.Error("failed to store feedback",
			logger.String("user", privacy.AnonymizeUserID(req.UserID)),
			logger.Error(err))
		r.fail(merr)
		return "", merr
	}

	r.metrics.RecordOperation(metrics.OpFeedbackSubmit, metrics.StatusSuccess)
	r.log.Debug("feedback recorded",
		logger.String("feedback_id", f.ID),
		logger.Bool("is_correct", f.IsCorrect))
	return f.ID, nil
}

func (r *FeedbackRecorder) fail(err error) {
	r.metrics.RecordOperation(metrics.OpFeedbackSubmit, metrics.StatusError)
	r.metrics.RecordError(metrics.OpFeedbackSubmit, errorType(err))
}
