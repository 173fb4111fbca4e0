package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gstorage "google.golang.org/api/storage/v1"

	"github.com/florai/contrib-pipeline/internal/errors"
)

// DefaultGCSPublicBase is the public endpoint of Cloud Storage objects.
const DefaultGCSPublicBase = "https://storage.googleapis.com"

// GCSConfig holds configuration for the Cloud Storage backend.
type GCSConfig struct {
	Bucket        string
	Endpoint      string
	AccessToken   string
	PublicBaseURL string
	Retry         RetryConfig
	// HTTPClient overrides the authenticated client. Mainly for tests.
	HTTPClient *http.Client
}

// GCSStore stores objects in a Cloud Storage bucket through the JSON API.
type GCSStore struct {
	config  GCSConfig
	service *gstorage.Service
}

// NewGCSStore creates the API client. Without an access token or HTTP
// client the application default credentials are used.
func NewGCSStore(ctx context.Context, cfg *GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}
	config := *cfg
	if config.Retry.MaxRetries == 0 {
		config.Retry = DefaultRetryConfig()
	}

	var opts []option.ClientOption
	switch {
	case config.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(config.HTTPClient))
	case config.AccessToken != "":
		opts = append(opts, option.WithTokenSource(
			oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.AccessToken})))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	service, err := gstorage.NewService(ctx, opts...)
	if err != nil {
		return nil, opError(err, "gcs", "open", "")
	}
	return &GCSStore{config: config, service: service}, nil
}

// Name returns the name of this backend
func (s *GCSStore) Name() string {
	return "gcs"
}

// Put uploads the object in a single media request.
func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	err := WithRetry(ctx, s.config.Retry, "gcs_put", func(attempt int) error {
		if err := rewind(r, attempt); err != nil {
			return err
		}
		_, err := s.service.Objects.
			Insert(s.config.Bucket, &gstorage.Object{Name: key, ContentType: contentType}).
			Media(r, googleapi.ContentType(contentType)).
			Context(ctx).
			Do()
		return err
	})
	return opError(err, "gcs", "put", key)
}

// Delete removes the object; a missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	err := WithRetry(ctx, s.config.Retry, "gcs_delete", func(int) error {
		err := s.service.Objects.Delete(s.config.Bucket, key).Context(ctx).Do()
		if isGCSNotFound(err) {
			return nil
		}
		return err
	})
	return opError(err, "gcs", "delete", key)
}

// Exists fetches the object metadata.
func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	var exists bool
	err := WithRetry(ctx, s.config.Retry, "gcs_stat", func(int) error {
		_, err := s.service.Objects.Get(s.config.Bucket, key).Context(ctx).Do()
		switch {
		case err == nil:
			exists = true
		case isGCSNotFound(err):
			exists = false
		default:
			return err
		}
		return nil
	})
	return exists, opError(err, "gcs", "stat", key)
}

// PublicURL returns <base>/<bucket>/<key>.
func (s *GCSStore) PublicURL(key string) string {
	base := s.config.PublicBaseURL
	if base == "" {
		base = DefaultGCSPublicBase
	}
	return joinURL(base, s.config.Bucket, key)
}

// Close is a no-op.
func (s *GCSStore) Close() error {
	return nil
}

func isGCSNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
