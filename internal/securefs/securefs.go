package securefs

import (
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
)

const (
	// DirPermissions is used for every directory created below the base.
	DirPermissions = 0o750
	// FilePermissions is the default for files written through WriteFile.
	FilePermissions = 0o600
)

// GetLogger returns the securefs package logger scoped to the securefs module.
func GetLogger() logger.Logger {
	return logger.Global().Module("securefs")
}

// SecureFS provides filesystem operations restricted to one base directory
// using os.Root. Every path handed to it is relative to that base; absolute
// paths and paths escaping the base are rejected before the OS is asked,
// and os.Root enforces the boundary again for symlinks.
type SecureFS struct {
	baseDir         string
	root            *os.Root
	maxReadFileSize int64 // 0 means unlimited
}

// New creates the base directory if needed and opens it as a sandbox.
func New(baseDir string) (*SecureFS, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	if err := os.MkdirAll(absPath, DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem sandbox: %w", err)
	}

	return &SecureFS{baseDir: absPath, root: root}, nil
}

// BaseDir returns the absolute base directory.
func (sfs *SecureFS) BaseDir() string {
	return sfs.baseDir
}

// ValidateRelativePath cleans relPath and rejects absolute paths, empty
// paths and anything that would leave the base directory. Both slash and
// OS separators are accepted; the result uses OS separators.
func (sfs *SecureFS) ValidateRelativePath(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.ContainsRune(relPath, 0) {
		return "", fmt.Errorf("%w: path contains NUL byte", ErrInvalidPath)
	}

	cleaned := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(cleaned) || strings.HasPrefix(relPath, "/") {
		return "", fmt.Errorf("%w: path must be relative, got '%s'", ErrInvalidPath, relPath)
	}
	if cleaned == "." {
		return "", fmt.Errorf("%w: path resolves to the base directory", ErrInvalidPath)
	}
	if !filepath.IsLocal(cleaned) {
		return "", fmt.Errorf("%w: '%s' (cleaned from '%s')", ErrPathTraversal, cleaned, relPath)
	}

	return cleaned, nil
}

// MkdirAll creates relPath and any missing parents below the base.
func (sfs *SecureFS) MkdirAll(relPath string, perm os.FileMode) error {
	validated, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	return sfs.root.MkdirAll(validated, perm)
}

// createAttempts bounds how often WriteFileAtomic recreates a parent
// directory that a concurrent prune removed between MkdirAll and OpenFile.
const createAttempts = 3

// WriteFileAtomic writes relPath through a temporary sibling file that is
// synced and renamed into place, so readers observe either the previous
// content or the complete new content. Parent directories are created and
// the parent is synced after the rename.
func (sfs *SecureFS) WriteFileAtomic(relPath string, perm os.FileMode, write func(io.Writer) error) error {
	validated, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(validated)
	tempPath := filepath.Join(dir, "."+filepath.Base(validated)+".tmp-"+uuid.NewString())
	tempFile, err := sfs.createTemp(dir, tempPath, perm)
	if err != nil {
		return err
	}

	success := false
	defer func() {
		if !success {
			_ = tempFile.Close()
			_ = sfs.root.Remove(tempPath)
		}
	}()

	if err := write(tempFile); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := sfs.root.Rename(tempPath, validated); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	success = true

	if err := sfs.syncDir(dir); err != nil {
		return fmt.Errorf("failed to sync parent directory: %w", err)
	}
	return nil
}

// createTemp creates the temporary file, recreating dir when it vanished
// in between. Once the file exists dir is no longer empty and cannot be
// pruned.
func (sfs *SecureFS) createTemp(dir, tempPath string, perm os.FileMode) (*os.File, error) {
	var err error
	for range createAttempts {
		if dir != "." {
			if err := sfs.root.MkdirAll(dir, DirPermissions); err != nil {
				return nil, fmt.Errorf("failed to create parent directory: %w", err)
			}
		}
		var f *os.File
		f, err = sfs.root.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	return nil, fmt.Errorf("failed to create temporary file: %w", err)
}

// syncDir flushes the directory entry of a rename to stable storage.
// Windows cannot sync directories.
func (sfs *SecureFS) syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := sfs.root.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}

// WriteFile atomically replaces relPath with data.
func (sfs *SecureFS) WriteFile(relPath string, data []byte, perm os.FileMode) error {
	return sfs.WriteFileAtomic(relPath, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// Open opens relPath for reading.
func (sfs *SecureFS) Open(relPath string) (*os.File, error) {
	validated, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	return sfs.root.Open(validated)
}

// SetMaxReadFileSize limits ReadFile. A value of 0 means unlimited.
func (sfs *SecureFS) SetMaxReadFileSize(maxSize int64) {
	sfs.maxReadFileSize = maxSize
}

// ReadFile reads relPath, honouring the configured size limit.
func (sfs *SecureFS) ReadFile(relPath string) ([]byte, error) {
	file, err := sfs.Open(relPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			GetLogger().Warn("failed to close file", logger.Error(err))
		}
	}()

	if sfs.maxReadFileSize > 0 {
		stat, err := file.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		if stat.Size() > sfs.maxReadFileSize {
			return nil, fmt.Errorf("%w: file is %d bytes, limit is %d bytes",
				ErrFileTooLarge, stat.Size(), sfs.maxReadFileSize)
		}
	}

	return io.ReadAll(file)
}

// Stat returns file info for relPath.
func (sfs *SecureFS) Stat(relPath string) (fs.FileInfo, error) {
	validated, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}
	return sfs.root.Stat(validated)
}

// Exists reports whether relPath exists. Validation errors are returned
// rather than folded into false.
func (sfs *SecureFS) Exists(relPath string) (bool, error) {
	_, err := sfs.Stat(relPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Remove deletes relPath. A missing file is not an error.
func (sfs *SecureFS) Remove(relPath string) error {
	validated, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	if err := sfs.root.Remove(validated); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// PruneEmptyDirs removes empty parent directories of relPath up to the base.
// A writer racing with the prune recreates the directory, see createTemp.
func (sfs *SecureFS) PruneEmptyDirs(relPath string) {
	validated, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return
	}
	for dir := filepath.Dir(validated); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		// Remove fails on non-empty directories, which ends the walk.
		if err := sfs.root.Remove(dir); err != nil {
			return
		}
	}
}

// FS exposes the sandbox as a read-only fs.FS using slash separated paths.
func (sfs *SecureFS) FS() fs.FS {
	return sfs.root.FS()
}

// Close closes the underlying Root
func (sfs *SecureFS) Close() error {
	if sfs.root != nil {
		return sfs.root.Close()
	}
	return nil
}

// mapOpenErrorToHTTP converts file open errors to appropriate HTTP errors
func mapOpenErrorToHTTP(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	case errors.Is(err, fs.ErrPermission):
		return echo.NewHTTPError(http.StatusForbidden, "Access denied")
	case errors.Is(err, ErrPathTraversal) || errors.Is(err, ErrInvalidPath):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid file path").SetInternal(err)
	default:
		GetLogger().Error("unhandled error serving file", logger.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Error serving file").SetInternal(err)
	}
}

// ServeRelativeFile streams relPath to the client with range support.
func (sfs *SecureFS) ServeRelativeFile(c echo.Context, relPath string) error {
	f, err := sfs.Open(relPath)
	if err != nil {
		return mapOpenErrorToHTTP(err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			GetLogger().Warn("failed to close file", logger.Error(err))
		}
	}()

	stat, err := f.Stat()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get file info").SetInternal(err)
	}
	if !stat.Mode().IsRegular() {
		return echo.NewHTTPError(http.StatusForbidden, "Not a regular file").SetInternal(ErrNotRegularFile)
	}

	if c.Response().Header().Get(echo.HeaderContentType) == "" {
		contentType := mime.TypeByExtension(path.Ext(relPath))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Response().Header().Set(echo.HeaderContentType, contentType)
	}

	http.ServeContent(c.Response(), c.Request(), stat.Name(), stat.ModTime(), f)
	return nil
}
