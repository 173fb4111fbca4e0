package contribution

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/florai/contrib-pipeline/internal/datastore"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
	"github.com/florai/contrib-pipeline/internal/observability/metrics"
	"github.com/florai/contrib-pipeline/internal/privacy"
	"github.com/florai/contrib-pipeline/internal/securefs"
	"github.com/florai/contrib-pipeline/internal/storage"
)

// TopicAccepted is appended to the configured topic prefix for hand-off events.
const TopicAccepted = "contributions/accepted"

const (
	handOffTimeout = 5 * time.Second
	alertTimeout   = 10 * time.Second
)

// AcceptedEvent announces a stored contribution to the training pipeline.
type AcceptedEvent struct {
	ContributionID string    `json:"contributionId"`
	UserID         string    `json:"userId"`
	ScientificName string    `json:"scientificName"`
	ImageURL       string    `json:"imageUrl"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Ingestor accepts plant contributions. Each call either stores both the
// image and its record, or returns an error; the one exception is an
// explicit MetadataWriteError that leaves an orphaned image behind.
type Ingestor struct {
	store   MetadataStore
	objects storage.ObjectStore
	staging *securefs.SecureFS
	log     logger.Logger
	metrics Metrics

	publisher   Publisher
	topicPrefix string
	alerter     Alerter
	cache       CacheInvalidator
	now         func() time.Time
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithMetrics records pipeline metrics.
func WithMetrics(m Metrics) IngestorOption {
	return func(i *Ingestor) {
		if m != nil {
			i.metrics = m
		}
	}
}

// WithHandOff publishes accepted contributions under topicPrefix.
func WithHandOff(p Publisher, topicPrefix string) IngestorOption {
	return func(i *Ingestor) {
		i.publisher = p
		i.topicPrefix = topicPrefix
	}
}

// WithAlerter notifies operators of orphaned images.
func WithAlerter(a Alerter) IngestorOption {
	return func(i *Ingestor) { i.alerter = a }
}

// WithCacheInvalidator drops cached status after each accepted contribution.
func WithCacheInvalidator(c CacheInvalidator) IngestorOption {
	return func(i *Ingestor) { i.cache = c }
}

// WithIngestorLogger overrides the module logger.
func WithIngestorLogger(l logger.Logger) IngestorOption {
	return func(i *Ingestor) {
		if l != nil {
			i.log = l
		}
	}
}

// NewIngestor creates an Ingestor that stages uploads below staging.
func NewIngestor(store MetadataStore, objects storage.ObjectStore, staging *securefs.SecureFS, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		store:   store,
		objects: objects,
		staging: staging,
		log:     GetLogger(),
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Submit validates req and runs the pipeline: stage, upload, write
// metadata, clean up. Remote writes run to completion even when ctx is
// cancelled.
func (i *Ingestor) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	start := i.now()
	result, err := i.submit(ctx, req)

	i.metrics.RecordDuration(metrics.OpPlantSubmit, i.now().Sub(start).Seconds())
	if err != nil {
		i.metrics.RecordOperation(metrics.OpPlantSubmit, metrics.StatusError)
		i.metrics.RecordError(metrics.OpPlantSubmit, errorType(err))
		return nil, err
	}
	i.metrics.RecordOperation(metrics.OpPlantSubmit, metrics.StatusSuccess)
	return result, nil
}

func (i *Ingestor) submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fileID := uuid.NewString()
	key := storage.ObjectKey(req.UserID, fileID, req.Image.extension())
	log := i.log.With(
		logger.String("user", privacy.AnonymizeUserID(req.UserID)),
		logger.String("key", key))

	size, err := i.stage(key, req.Image)
	defer i.removeStaged(key, log)
	if err != nil {
		return nil, err
	}
	i.metrics.ObserveImageSize(size)

	// The request may be abandoned from here on; remote writes complete
	// regardless and an upload without metadata is reported as orphaned.
	wctx := context.WithoutCancel(ctx)

	if err := i.upload(wctx, key, size, req.Image.ContentType); err != nil {
		log.Error("image upload failed", logger.Error(err))
		return nil, err
	}
	url := i.objects.PublicURL(key)

	lat, lon := req.location()
	record := &datastore.Contribution{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		ScientificName:    cleanName(req.ScientificName),
		CommonName:        cleanName(req.CommonName),
		Family:            optionalName(req.Family),
		IsHealthy:         *req.IsHealthy,
		DiseaseInfo:       cleanText(req.DiseaseInfo),
		GrowingConditions: cleanText(req.GrowingConditions),
		Latitude:          lat,
		Longitude:         lon,
		Notes:             cleanText(req.Notes),
		ImagePath:         key,
		ImageURL:          url,
		Status:            datastore.StatusPendingReview,
		CreatedAt:         i.now().UTC(),
	}

	mstart := i.now()
	err = i.store.CreateContribution(wctx, record)
	i.metrics.RecordDuration(metrics.OpMetadataWrite, i.now().Sub(mstart).Seconds())
	if err != nil {
		merr := &MetadataWriteError{
			AssetPath: key,
			AssetURL:  url,
			Err:       enhance(err, errors.CategoryDatabase, "create_contribution", "asset", key),
		}
		i.reportOrphan(wctx, log, merr)
		return nil, merr
	}

	log.Info("contribution accepted",
		logger.String("contribution_id", record.ID),
		logger.Int64("size", size),
		logger.Bool("has_location", record.HasLocation()))

	if i.cache != nil {
		i.cache.Invalidate(req.UserID)
	}
	i.handOff(wctx, log, record)

	return &SubmitResult{ContributionID: record.ID, ImagePath: key, ImageURL: url}, nil
}

// stage copies the image to the staging area, enforcing the size limit
// on the bytes actually received.
func (i *Ingestor) stage(key string, a *Asset) (int64, error) {
	var written int64
	err := i.staging.WriteFileAtomic(key, securefs.FilePermissions, func(w io.Writer) error {
		n, err := io.Copy(w, io.LimitReader(a.Content, MaxImageSize+1))
		written = n
		if err != nil {
			return err
		}
		if n > MaxImageSize {
			return &MissingAssetError{Reason: "file exceeds 10 MiB"}
		}
		return nil
	})
	if err != nil {
		var missing *MissingAssetError
		if errors.As(err, &missing) {
			return 0, missing
		}
		return 0, &StorageWriteError{
			Key: key,
			Err: enhance(err, errors.CategoryFileIO, metrics.OpStage, "key", key),
		}
	}
	if written == 0 {
		return 0, &MissingAssetError{Reason: "empty file"}
	}
	return written, nil
}

func (i *Ingestor) upload(ctx context.Context, key string, size int64, contentType string) error {
	f, err := i.staging.Open(key)
	if err != nil {
		return &StorageWriteError{Key: key, Err: enhance(err, errors.CategoryFileIO, metrics.OpUpload, "key", key)}
	}
	defer func() { _ = f.Close() }()

	start := i.now()
	err = i.objects.Put(ctx, key, f, size, mediaType(contentType))
	i.metrics.RecordDuration(metrics.OpUpload, i.now().Sub(start).Seconds())
	if err != nil {
		return &StorageWriteError{Key: key, Err: err}
	}
	return nil
}

// removeStaged deletes the staged copy. The per-user directory stays for
// concurrent submissions of the same user; the janitor prunes it once idle.
func (i *Ingestor) removeStaged(key string, log logger.Logger) {
	if err := i.staging.Remove(key); err != nil {
		log.Warn("failed to remove staged image", logger.Error(err))
	}
}

// reportOrphan makes an image without metadata visible to operators.
func (i *Ingestor) reportOrphan(ctx context.Context, log logger.Logger, merr *MetadataWriteError) {
	i.metrics.IncOrphanedAssets()
	log.Error("metadata write failed, image orphaned",
		logger.String("asset_url", privacy.AnonymizeURL(merr.AssetURL)),
		logger.Error(merr.Err))

	if i.alerter == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()
	msg := fmt.Sprintf("Image %s in bucket %s has no metadata record and needs reconciliation.", merr.AssetPath, Bucket)
	if err := i.alerter.Send(actx, "Orphaned contribution image", msg); err != nil {
		log.Warn("failed to send orphan alert", logger.Error(err))
	}
}

// handOff announces the contribution. Failures are logged only.
func (i *Ingestor) handOff(ctx context.Context, log logger.Logger, c *datastore.Contribution) {
	if i.publisher == nil {
		return
	}
	payload, err := json.Marshal(AcceptedEvent{
		ContributionID: c.ID,
		UserID:         c.UserID,
		ScientificName: c.ScientificName,
		ImageURL:       c.ImageURL,
		CreatedAt:      c.CreatedAt,
	})
	if err != nil {
		log.Warn("failed to encode hand-off event", logger.Error(err))
		return
	}
	pctx, cancel := context.WithTimeout(ctx, handOffTimeout)
	defer cancel()
	if err := i.publisher.Publish(pctx, path.Join(i.topicPrefix, TopicAccepted), string(payload)); err != nil {
		log.Warn("failed to publish hand-off event", logger.Error(err))
	}
}

// errorType labels err for the error counter.
func errorType(err error) string {
	var (
		verr *ValidationError
		cerr *ConsentRequiredError
		aerr *MissingAssetError
		serr *StorageWriteError
		merr *MetadataWriteError
	)
	switch {
	case errors.As(err, &verr):
		return "validation"
	case errors.As(err, &cerr):
		return "consent"
	case errors.As(err, &aerr):
		return "missing_asset"
	case errors.As(err, &serr):
		return "storage"
	case errors.As(err, &merr):
		return "metadata"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
