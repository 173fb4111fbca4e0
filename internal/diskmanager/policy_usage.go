// policy_usage.go - code for free space retention policy
package diskmanager

import (
	"context"
	"runtime"
	"time"

	"github.com/florai/contrib-pipeline/internal/logger"
	"github.com/florai/contrib-pipeline/internal/securefs"
)

// UsageBasedCleanup removes the oldest staged files until need bytes have
// been freed. Files younger than minAge may still belong to a running
// request and are never touched. files must be sorted oldest first.
func UsageBasedCleanup(ctx context.Context, staging *securefs.SecureFS, files []FileInfo, need uint64, minAge time.Duration, now time.Time) (Result, error) {
	log := GetLogger()
	cutoff := now.Add(-minAge)
	res := Result{Scanned: len(files)}

	for _, file := range files {
		if uint64(res.FreedBytes) >= need {
			break
		}
		if err := ctx.Err(); err != nil {
			log.Info("cleanup interrupted", logger.Int("files_deleted", res.Deleted))
			return res, nil
		}
		if !file.ModTime.Before(cutoff) {
			log.Debug("remaining staged files are in use, stopping")
			break
		}

		if err := deleteStagedFile(staging, file); err != nil {
			return res, err
		}
		res.Deleted++
		res.FreedBytes += file.Size

		// Yield to other goroutines
		runtime.Gosched()

		if res.Deleted >= maxDeletions {
			break
		}
	}

	if uint64(res.FreedBytes) < need {
		log.Warn("staging still short of free space after cleanup",
			logger.Int64("bytes_freed", res.FreedBytes),
			logger.Uint64("bytes_needed", need))
	}
	return res, nil
}
