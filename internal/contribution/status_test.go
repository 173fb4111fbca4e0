package contribution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florai/contrib-pipeline/internal/datastore"
	"github.com/florai/contrib-pipeline/internal/errors"
)

func seededStore() *fakeStore {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := []struct {
		id, status string
	}{
		{"c1", datastore.StatusPendingReview},
		{"c2", datastore.StatusApproved},
		{"c3", datastore.StatusPendingReview},
		{"c4", datastore.StatusRejected},
	}
	s := &fakeStore{}
	for i, r := range rows {
		s.contributions = append(s.contributions, datastore.Contribution{
			ID:             r.id,
			UserID:         "user-1",
			ScientificName: "Ficus lyrata",
			CommonName:     "Fiddle-leaf fig",
			Status:         r.status,
			ImageURL:       "https://cdn.example.test/" + r.id + ".jpg",
			CreatedAt:      base.Add(time.Duration(i) * time.Hour),
		})
	}
	return s
}

func TestGetStatusEmptyHistory(t *testing.T) {
	t.Parallel()
	agg := NewStatusAggregator(&fakeStore{}, 0, nil)

	status, err := agg.GetStatus(t.Context(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, status.Contributions)
	assert.Empty(t, status.Contributions)
	assert.NotNil(t, status.Summary.StatusCounts)
	assert.Empty(t, status.Summary.StatusCounts)
	assert.Zero(t, status.Summary.Total)
}

func TestGetStatusCountsAndOrder(t *testing.T) {
	t.Parallel()
	agg := NewStatusAggregator(seededStore(), 0, nil)

	status, err := agg.GetStatus(t.Context(), "user-1")
	require.NoError(t, err)

	require.Len(t, status.Contributions, 4)
	assert.Equal(t, "c4", status.Contributions[0].ID, "most recent first")
	assert.Equal(t, "c1", status.Contributions[3].ID)
	assert.Equal(t, 4, status.Summary.Total)
	assert.Equal(t, map[string]int{
		datastore.StatusPendingReview: 2,
		datastore.StatusApproved:      1,
		datastore.StatusRejected:      1,
	}, status.Summary.StatusCounts)
}

func TestGetStatusQueryError(t *testing.T) {
	t.Parallel()
	store := &fakeStore{listErr: errors.NewStd("database is locked")}
	agg := NewStatusAggregator(store, DefaultStatusCacheTTL, nil)

	_, err := agg.GetStatus(t.Context(), "user-1")
	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))

	// Failures are not cached.
	store.mu.Lock()
	store.listErr = nil
	store.mu.Unlock()
	_, err = agg.GetStatus(t.Context(), "user-1")
	assert.NoError(t, err)
}

func TestGetStatusCachesPerUser(t *testing.T) {
	t.Parallel()
	store := seededStore()
	m := newRecordingMetrics()
	agg := NewStatusAggregator(store, time.Minute, m)

	first, err := agg.GetStatus(t.Context(), "user-1")
	require.NoError(t, err)
	first.Summary.StatusCounts["tampered"] = 99

	second, err := agg.GetStatus(t.Context(), "user-1")
	require.NoError(t, err)
	assert.NotContains(t, second.Summary.StatusCounts, "tampered")
	assert.Equal(t, 1, store.calls())
	assert.Equal(t, 1, m.cacheHits)

	agg.Invalidate("user-1")
	_, err = agg.GetStatus(t.Context(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls())
}

func TestGetStatusConcurrentCallers(t *testing.T) {
	t.Parallel()
	agg := NewStatusAggregator(seededStore(), time.Minute, nil)

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			status, err := agg.GetStatus(t.Context(), "user-1")
			assert.NoError(t, err)
			assert.Equal(t, 4, status.Summary.Total)
		})
	}
	wg.Wait()
}

// gatedHistory holds the first query until release is closed.
type gatedHistory struct {
	*fakeStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	ctxErr  error
}

func newGatedHistory(store *fakeStore) *gatedHistory {
	return &gatedHistory{fakeStore: store, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedHistory) ListContributionsByUser(ctx context.Context, userID string) ([]datastore.Contribution, error) {
	rows, err := g.fakeStore.ListContributionsByUser(ctx, userID)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
		g.ctxErr = ctx.Err()
	}
	return rows, err
}

func TestGetStatusInvalidateDuringQuery(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	history := newGatedHistory(store)
	agg := NewStatusAggregator(history, time.Minute, nil)

	done := make(chan *Status)
	go func() {
		status, err := agg.GetStatus(t.Context(), "user-1")
		assert.NoError(t, err)
		done <- status
	}()
	<-history.entered

	require.NoError(t, store.CreateContribution(t.Context(), &datastore.Contribution{
		ID: "c1", UserID: "user-1", Status: datastore.StatusPendingReview, CreatedAt: time.Now(),
	}))
	agg.Invalidate("user-1")
	close(history.release)

	stale := <-done
	assert.Zero(t, stale.Summary.Total, "the query read the history before the commit")

	fresh, err := agg.GetStatus(t.Context(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Summary.Total)
}

func TestGetStatusSharedQueryOutlivesCaller(t *testing.T) {
	t.Parallel()
	history := newGatedHistory(seededStore())
	agg := NewStatusAggregator(history, time.Minute, nil)

	ctx, cancel := context.WithCancel(t.Context())
	first := make(chan error, 1)
	go func() {
		_, err := agg.GetStatus(ctx, "user-1")
		first <- err
	}()
	<-history.entered

	second := make(chan *Status, 1)
	go func() {
		status, err := agg.GetStatus(t.Context(), "user-1")
		assert.NoError(t, err)
		second <- status
	}()

	cancel()
	close(history.release)

	assert.NoError(t, <-first)
	assert.Equal(t, 4, (<-second).Summary.Total)
	assert.NoError(t, history.ctxErr)
}

func TestUsage(t *testing.T) {
	t.Parallel()
	agg := NewStatusAggregator(seededStore(), 0, nil)

	usage, err := agg.Usage(t.Context(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, &Usage{
		TotalContributions:    4,
		ApprovedContributions: 1,
		PendingContributions:  2,
		RejectedContributions: 1,
	}, usage)
}
