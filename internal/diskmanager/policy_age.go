// policy_age.go - code for age retention policy
package diskmanager

import (
	"context"
	"runtime"
	"time"

	"github.com/florai/contrib-pipeline/internal/logger"
	"github.com/florai/contrib-pipeline/internal/securefs"
)

// maxDeletions bounds the files removed by one policy run.
const maxDeletions = 1000

// Result summarises one cleanup run.
type Result struct {
	Scanned    int
	Deleted    int
	FreedBytes int64
}

func (r *Result) add(o Result) {
	r.Scanned += o.Scanned
	r.Deleted += o.Deleted
	r.FreedBytes += o.FreedBytes
}

// AgeBasedCleanup removes staged files last modified more than maxAge
// before now. files must be sorted oldest first.
func AgeBasedCleanup(ctx context.Context, staging *securefs.SecureFS, files []FileInfo, maxAge time.Duration, now time.Time) (Result, error) {
	log := GetLogger()
	expirationTime := now.Add(-maxAge)
	res := Result{Scanned: len(files)}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			log.Info("cleanup interrupted", logger.Int("files_deleted", res.Deleted))
			return res, nil
		}
		if !file.ModTime.Before(expirationTime) {
			// sorted, everything after this is newer
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
			log.Debug("reached maximum number of deletions", logger.Int("max", maxDeletions))
			break
		}
	}

	log.Debug("age retention policy applied",
		logger.Int("files_deleted", res.Deleted),
		logger.Int64("bytes_freed", res.FreedBytes))
	return res, nil
}

func deleteStagedFile(staging *securefs.SecureFS, file FileInfo) error {
	if err := staging.Remove(file.Path); err != nil {
		GetLogger().Error("failed to remove staged file", logger.String("path", file.Path), logger.Error(err))
		return err
	}
	staging.PruneEmptyDirs(file.Path)
	GetLogger().Debug("staged file deleted", logger.String("path", file.Path))
	return nil
}
