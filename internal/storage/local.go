package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"

	"github.com/florai/contrib-pipeline/internal/securefs"
)

// MediaRoutePrefix is where the API serves objects of the local backend
// when no public base URL is configured.
const MediaRoutePrefix = "/api/v2/media"

// LocalStore keeps objects below <path>/<bucket> on the local filesystem.
type LocalStore struct {
	fs            *securefs.SecureFS
	bucket        string
	publicBaseURL string
}

// NewLocalStore creates the bucket directory if needed.
func NewLocalStore(basePath, bucket, publicBaseURL string) (*LocalStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("local: bucket is required")
	}
	sfs, err := securefs.New(filepath.Join(basePath, bucket))
	if err != nil {
		return nil, opError(err, "local", "open", "")
	}
	if publicBaseURL == "" {
		publicBaseURL = MediaRoutePrefix
	}
	return &LocalStore{fs: sfs, bucket: bucket, publicBaseURL: publicBaseURL}, nil
}

// Name returns the name of this backend
func (s *LocalStore) Name() string {
	return "local"
}

// Put writes the object atomically.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return opError(err, "local", "put", key)
	}
	err := s.fs.WriteFileAtomic(key, securefs.FilePermissions, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
	return opError(err, "local", "put", key)
}

// Delete removes the object and prunes empty parent directories.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return opError(err, "local", "delete", key)
	}
	if err := s.fs.Remove(key); err != nil {
		return opError(err, "local", "delete", key)
	}
	s.fs.PruneEmptyDirs(key)
	return nil
}

// Exists reports whether the object is present.
func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	ok, err := s.fs.Exists(key)
	return ok, opError(err, "local", "stat", key)
}

// PublicURL returns <base>/<bucket>/<key>.
func (s *LocalStore) PublicURL(key string) string {
	return joinURL(s.publicBaseURL, s.bucket, key)
}

// Bucket returns the logical bucket name.
func (s *LocalStore) Bucket() string {
	return s.bucket
}

// Serve streams an object to an HTTP client.
func (s *LocalStore) Serve(c echo.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid object key").SetInternal(err)
	}
	return s.fs.ServeRelativeFile(c, key)
}

// Close releases the directory handle.
func (s *LocalStore) Close() error {
	return s.fs.Close()
}
