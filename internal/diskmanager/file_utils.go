// file_utils.go - staged file discovery
package diskmanager

import (
	"context"
	"io/fs"
	"runtime"
	"slices"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/securefs"
)

// stagedPattern matches every staged upload, including the hidden
// temporary files of interrupted atomic writes.
const stagedPattern = "**"

// FileInfo holds information about a staged file
type FileInfo struct {
	Path    string // slash separated, relative to the staging base
	Size    int64
	ModTime time.Time
}

// GetStagedFiles lists the regular files below the root of fsys, oldest first.
func GetStagedFiles(ctx context.Context, fsys fs.FS) ([]FileInfo, error) {
	var files []FileInfo

	err := doublestar.GlobWalk(fsys, stagedPattern, func(path string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			// removed by a request finishing while we walk
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		files = append(files, FileInfo{Path: path, Size: info.Size(), ModTime: info.ModTime()})

		// Yield to other goroutines
		runtime.Gosched()
		return nil
	}, doublestar.WithFilesOnly())
	if err != nil {
		return nil, errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryFileIO).
			Context("operation", "list_staged_files").
			Build()
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}

// PruneIdleDirs removes empty directories below the root of staging whose
// modification time is before cutoff, deepest first. A directory that
// gained an entry in the meantime is left alone.
func PruneIdleDirs(ctx context.Context, staging *securefs.SecureFS, cutoff time.Time) (int, error) {
	var dirs []string
	err := fs.WalkDir(staging.FS(), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() && path != "." {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return 0, errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryFileIO).
			Context("operation", "prune_idle_dirs").
			Build()
	}

	pruned := 0
	for _, dir := range slices.Backward(dirs) {
		info, err := staging.Stat(dir)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		// Remove fails on a directory that is not empty.
		if err := staging.Remove(dir); err == nil {
			pruned++
		}
	}
	return pruned, nil
}
