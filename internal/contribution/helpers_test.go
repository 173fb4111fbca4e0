package contribution

import (
	"bytes"
	"context"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/florai/contrib-pipeline/internal/datastore"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/securefs"
	"github.com/florai/contrib-pipeline/internal/storage"
)

// tinyJPEG is enough of a JPEG for the pipeline, which never decodes images.
var tinyJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xFF, 0xD9}

func ptr[T any](v T) *T { return &v }

type fakeStore struct {
	mu            sync.Mutex
	contributions []datastore.Contribution
	feedback      []datastore.Feedback
	createErr     error
	feedbackErr   error
	listErr       error
	listCalls     int
}

func (s *fakeStore) CreateContribution(_ context.Context, c *datastore.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.contributions = append(s.contributions, *c)
	return nil
}

func (s *fakeStore) CreateFeedback(_ context.Context, f *datastore.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feedbackErr != nil {
		return s.feedbackErr
	}
	s.feedback = append(s.feedback, *f)
	return nil
}

func (s *fakeStore) ListContributionsByUser(_ context.Context, userID string) ([]datastore.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []datastore.Contribution
	for _, c := range s.contributions {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b datastore.Contribution) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

// failingObjects rejects every upload.
type failingObjects struct {
	storage.ObjectStore
	err error
}

func (f *failingObjects) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) error {
	_, _ = io.Copy(io.Discard, r)
	return f.err
}

type publishedMessage struct {
	topic   string
	payload string
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, topic, payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{topic: topic, payload: payload})
	return p.err
}

type fakeAlerter struct {
	mu     sync.Mutex
	titles []string
	bodies []string
}

func (a *fakeAlerter) Send(_ context.Context, title, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title)
	a.bodies = append(a.bodies, message)
	return nil
}

type recordingMetrics struct {
	mu         sync.Mutex
	operations map[string]int
	errors     map[string]int
	orphans    int
	cacheHits  int
	cacheMiss  int
	imageBytes int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{operations: map[string]int{}, errors: map[string]int{}}
}

func (m *recordingMetrics) RecordOperation(op, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[op+"/"+status]++
}

func (m *recordingMetrics) RecordDuration(string, float64) {}

func (m *recordingMetrics) RecordError(op, errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[op+"/"+errorType]++
}

func (m *recordingMetrics) IncOrphanedAssets() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphans++
}

func (m *recordingMetrics) ObserveImageSize(b int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imageBytes += b
}

func (m *recordingMetrics) RecordCacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMiss++
	}
}

type testPipeline struct {
	store      *fakeStore
	objects    *storage.LocalStore
	stagingDir string
	status     *StatusAggregator
	publisher  *fakePublisher
	alerter    *fakeAlerter
	metrics    *recordingMetrics
	ingestor   *Ingestor
}

type pipelineOption func(*testPipeline) storage.ObjectStore

func withFailingUpload(err error) pipelineOption {
	return func(p *testPipeline) storage.ObjectStore {
		return &failingObjects{ObjectStore: p.objects, err: err}
	}
}

func newTestPipeline(t *testing.T, opts ...pipelineOption) *testPipeline {
	t.Helper()

	objects, err := storage.NewLocalStore(t.TempDir(), Bucket, "https://cdn.example.test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = objects.Close() })

	stagingDir := t.TempDir()
	staging, err := securefs.New(stagingDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = staging.Close() })

	p := &testPipeline{
		store:      &fakeStore{},
		objects:    objects,
		stagingDir: stagingDir,
		publisher:  &fakePublisher{},
		alerter:    &fakeAlerter{},
		metrics:    newRecordingMetrics(),
	}
	p.status = NewStatusAggregator(p.store, 0, p.metrics)

	var target storage.ObjectStore = objects
	for _, opt := range opts {
		target = opt(p)
	}

	p.ingestor = NewIngestor(p.store, target, staging,
		WithMetrics(p.metrics),
		WithHandOff(p.publisher, "florai"),
		WithAlerter(p.alerter),
		WithCacheInvalidator(p.status))
	return p
}

func validRequest() *SubmitRequest {
	return &SubmitRequest{
		UserID:           "auth0|user-1",
		ScientificName:   "Monstera deliciosa",
		CommonName:       "Monstera",
		IsHealthy:        ptr(true),
		DataUsageConsent: ptr(true),
		Image: &Asset{
			Filename:    "leaf.jpg",
			ContentType: "image/jpeg",
			Size:        int64(len(tinyJPEG)),
			Content:     bytes.NewReader(tinyJPEG),
		},
	}
}

func fieldNames(err error) []string {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return nil
	}
	names := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		names = append(names, f.Field)
	}
	slices.Sort(names)
	return names
}
