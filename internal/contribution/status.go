package contribution

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/florai/contrib-pipeline/internal/datastore"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/observability/metrics"
)

// DefaultStatusCacheTTL is how long a user's status is served from memory.
const DefaultStatusCacheTTL = 30 * time.Second

// ContributionView is the client facing summary of one contribution.
type ContributionView struct {
	ID             string    `json:"id"`
	ScientificName string    `json:"scientific_name"`
	CommonName     string    `json:"common_name"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	ImageURL       string    `json:"image_url"`
}

// Summary counts contributions by review status.
type Summary struct {
	Total        int            `json:"total"`
	StatusCounts map[string]int `json:"statusCounts"`
}

// Status is a user's contribution history, most recent first.
type Status struct {
	Contributions []ContributionView `json:"contributions"`
	Summary       Summary            `json:"summary"`
}

// Usage reports how many contributions a user has in each review state.
type Usage struct {
	TotalContributions    int `json:"totalContributions"`
	ApprovedContributions int `json:"approvedContributions"`
	PendingContributions  int `json:"pendingContributions"`
	RejectedContributions int `json:"rejectedContributions"`
}

// StatusAggregator builds Status values from the metadata store. Results
// are cached per user and concurrent misses share one query.
//
// Each Invalidate bumps the user's generation. A query only fills the cache
// when the generation it started under is still current, so a load that
// raced with a commit never caches the pre-commit history.
type StatusAggregator struct {
	history HistoryReader
	cache   *cache.Cache // nil disables caching
	group   singleflight.Group
	metrics Metrics

	mu          sync.Mutex
	generations map[string]uint64
}

// NewStatusAggregator creates a StatusAggregator. A ttl of zero or less
// disables caching.
func NewStatusAggregator(history HistoryReader, ttl time.Duration, m Metrics) *StatusAggregator {
	if m == nil {
		m = nopMetrics{}
	}
	a := &StatusAggregator{history: history, metrics: m, generations: make(map[string]uint64)}
	if ttl > 0 {
		a.cache = cache.New(ttl, 2*ttl)
	}
	return a
}

// GetStatus returns the user's contributions and their status counts. An
// empty history is not an error.
func (a *StatusAggregator) GetStatus(ctx context.Context, userID string) (*Status, error) {
	start := time.Now()
	status, err := a.load(ctx, userID)
	a.metrics.RecordDuration(metrics.OpStatusQuery, time.Since(start).Seconds())
	if err != nil {
		a.metrics.RecordOperation(metrics.OpStatusQuery, metrics.StatusError)
		return nil, err
	}
	a.metrics.RecordOperation(metrics.OpStatusQuery, metrics.StatusSuccess)
	return status.clone(), nil
}

// Usage folds the user's history into per-state totals.
func (a *StatusAggregator) Usage(ctx context.Context, userID string) (*Usage, error) {
	status, err := a.GetStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts := status.Summary.StatusCounts
	return &Usage{
		TotalContributions:    status.Summary.Total,
		ApprovedContributions: counts[datastore.StatusApproved],
		PendingContributions:  counts[datastore.StatusPendingReview],
		RejectedContributions: counts[datastore.StatusRejected],
	}, nil
}

// Invalidate drops the cached status of userID and keeps queries already
// in flight from caching their result.
func (a *StatusAggregator) Invalidate(userID string) {
	a.mu.Lock()
	a.generations[userID]++
	if a.cache != nil {
		a.cache.Delete(userID)
	}
	a.mu.Unlock()
	a.group.Forget(userID)
}

func (a *StatusAggregator) generation(userID string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generations[userID]
}

// store caches status unless userID was invalidated after gen was read.
func (a *StatusAggregator) store(userID string, gen uint64, status *Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generations[userID] == gen {
		a.cache.SetDefault(userID, status)
	}
}

func (a *StatusAggregator) load(ctx context.Context, userID string) (*Status, error) {
	if a.cache != nil {
		if v, ok := a.cache.Get(userID); ok {
			a.metrics.RecordCacheLookup(true)
			return v.(*Status), nil
		}
		a.metrics.RecordCacheLookup(false)
	}

	// The query is shared, so one caller going away must not fail the others.
	qctx := context.WithoutCancel(ctx)
	v, err, _ := a.group.Do(userID, func() (any, error) {
		gen := a.generation(userID)
		rows, err := a.history.ListContributionsByUser(qctx, userID)
		if err != nil {
			return nil, &QueryError{Err: enhance(err, errors.CategoryDatabase, "list_contributions")}
		}
		status := fold(rows)
		if a.cache != nil {
			a.store(userID, gen, status)
		}
		return status, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Status), nil
}

// fold converts rows into a Status, counting each status value.
func fold(rows []datastore.Contribution) *Status {
	s := &Status{
		Contributions: make([]ContributionView, 0, len(rows)),
		Summary:       Summary{StatusCounts: make(map[string]int)},
	}
	for i := range rows {
		c := &rows[i]
		s.Contributions = append(s.Contributions, ContributionView{
			ID:             c.ID,
			ScientificName: c.ScientificName,
			CommonName:     c.CommonName,
			Status:         c.Status,
			CreatedAt:      c.CreatedAt,
			ImageURL:       c.ImageURL,
		})
		s.Summary.StatusCounts[c.Status]++
	}
	s.Summary.Total = len(s.Contributions)
	return s
}

// clone protects cached values from callers.
func (s *Status) clone() *Status {
	return &Status{
		Contributions: slices.Clone(s.Contributions),
		Summary: Summary{
			Total:        s.Summary.Total,
			StatusCounts: maps.Clone(s.Summary.StatusCounts),
		},
	}
}
