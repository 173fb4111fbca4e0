// Package diskmanager keeps the upload staging area small. Staged images
// normally live for the length of one request; files older than that were
// left behind by a crashed or killed process.
package diskmanager

import (
	"context"
	"time"

	"github.com/florai/contrib-pipeline/internal/logger"
	"github.com/florai/contrib-pipeline/internal/securefs"
)

// inUseGrace protects files and directories of running requests from the
// free space policy and the idle directory prune.
const inUseGrace = 15 * time.Minute

// GetLogger returns the diskmanager module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("diskmanager")
}

// Janitor periodically applies the age policy to the staging area and,
// when free space runs low, the usage policy.
type Janitor struct {
	staging  *securefs.SecureFS
	maxAge   time.Duration
	interval time.Duration
	minFree  uint64
	usage    UsageFunc
	now      func() time.Time
	log      logger.Logger
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

// WithMinFreeBytes sets the free space the usage policy restores.
func WithMinFreeBytes(n uint64) JanitorOption {
	return func(j *Janitor) { j.minFree = n }
}

// WithUsageFunc replaces the disk space probe.
func WithUsageFunc(fn UsageFunc) JanitorOption {
	return func(j *Janitor) { j.usage = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) { j.now = now }
}

// NewJanitor creates a Janitor for staging.
func NewJanitor(staging *securefs.SecureFS, maxAge, interval time.Duration, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		staging:  staging,
		maxAge:   maxAge,
		interval: interval,
		minFree:  MinFreeBytes,
		usage:    GetDetailedDiskUsage,
		now:      time.Now,
		log:      GetLogger(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run sweeps once immediately and then every interval until ctx is done.
// A non-positive interval disables the loop.
func (j *Janitor) Run(ctx context.Context) error {
	if j.interval <= 0 {
		j.log.Info("staging sweep disabled")
		return nil
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.Sweep(ctx); err != nil {
			j.log.Warn("staging sweep failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs both policies once.
func (j *Janitor) Sweep(ctx context.Context) (Result, error) {
	var total Result

	files, err := GetStagedFiles(ctx, j.staging.FS())
	if err != nil {
		return total, err
	}
	now := j.now()

	res, err := AgeBasedCleanup(ctx, j.staging, files, j.maxAge, now)
	total.add(res)
	if err != nil {
		return total, err
	}

	info, err := j.usage(ctx, j.staging.BaseDir())
	if err != nil {
		j.log.Debug("staging usage unavailable", logger.Error(err))
	} else if info.FreeBytes < j.minFree {
		res, err = UsageBasedCleanup(ctx, j.staging, files[res.Deleted:], j.minFree-info.FreeBytes, inUseGrace, now)
		res.Scanned = 0
		total.add(res)
		if err != nil {
			return total, err
		}
	}

	pruned, err := PruneIdleDirs(ctx, j.staging, now.Add(-inUseGrace))
	if err != nil {
		return total, err
	}
	if pruned > 0 {
		j.log.Debug("idle staging directories pruned", logger.Int("dirs", pruned))
	}

	if total.Deleted > 0 {
		j.log.Info("staging swept",
			logger.Int("files_deleted", total.Deleted),
			logger.Int64("bytes_freed", total.FreedBytes))
	}
	return total, nil
}
