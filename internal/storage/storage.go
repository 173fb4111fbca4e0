// Package storage writes contributed images to durable object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
)

// ObjectStore is a bucket of immutable objects addressed by slash
// separated keys.
type ObjectStore interface {
	// Put stores the content of r under key. When r is an io.Seeker a
	// transient failure is retried from the start of the content.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Delete removes key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// PublicURL is the durable reference handed to clients.
	PublicURL(key string) string
	Name() string
	Close() error
}

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.NewStd("object not found")

// GetLogger returns the storage module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("storage")
}

// New builds the backend selected in settings.
func New(ctx context.Context, settings *conf.StorageSettings) (ObjectStore, error) {
	retry := RetryConfig{MaxRetries: settings.Retry.MaxAttempts, Backoff: settings.Retry.Delay}
	if retry.MaxRetries < 1 {
		retry = DefaultRetryConfig()
	}

	switch settings.Backend {
	case "local":
		return NewLocalStore(settings.Local.Path, settings.Bucket, settings.PublicBaseURL)
	case "sftp":
		return NewSFTPStore(&SFTPConfig{
			Host:           settings.SFTP.Host,
			Port:           settings.SFTP.Port,
			Username:       settings.SFTP.Username,
			Password:       settings.SFTP.Password,
			KeyFile:        settings.SFTP.KeyFile,
			KnownHostsFile: settings.SFTP.KnownHostsFile,
			BasePath:       settings.SFTP.Path,
			Bucket:         settings.Bucket,
			PublicBaseURL:  settings.PublicBaseURL,
			Timeout:        settings.SFTP.Timeout,
			Retry:          retry,
		})
	case "ftp":
		return NewFTPStore(&FTPConfig{
			Host:          settings.FTP.Host,
			Port:          settings.FTP.Port,
			Username:      settings.FTP.Username,
			Password:      settings.FTP.Password,
			BasePath:      settings.FTP.Path,
			Bucket:        settings.Bucket,
			PublicBaseURL: settings.PublicBaseURL,
			Timeout:       settings.FTP.Timeout,
			Retry:         retry,
		})
	case "gcs":
		return NewGCSStore(ctx, &GCSConfig{
			Bucket:        settings.Bucket,
			Endpoint:      settings.GCS.Endpoint,
			AccessToken:   settings.GCS.AccessToken,
			PublicBaseURL: settings.PublicBaseURL,
			Retry:         retry,
		})
	default:
		return nil, errors.Newf("unsupported storage backend %q", settings.Backend).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Limits for object keys
const (
	MaxKeyLength       = 1024
	MaxSegmentLength   = 255
	invalidSegmentRune = "<>:\"\\|?*$()[]{}!&;#`"
)

// ValidateKey rejects keys that are empty, absolute, hidden, contain
// traversal segments or characters that are unsafe on common backends.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return keyError(key, "key cannot be empty")
	case len(key) > MaxKeyLength:
		return keyError(key, "key exceeds maximum length")
	case strings.HasPrefix(key, "/"):
		return keyError(key, "absolute keys are not allowed")
	}

	for segment := range strings.SplitSeq(key, "/") {
		switch {
		case segment == "":
			return keyError(key, "empty key segment")
		case segment == "." || segment == "..":
			return keyError(key, "key contains directory traversal")
		case strings.HasPrefix(segment, "."):
			return keyError(key, "hidden key segments are not allowed")
		case len(segment) > MaxSegmentLength:
			return keyError(key, "key segment exceeds maximum length")
		case strings.ContainsAny(segment, invalidSegmentRune):
			return keyError(key, "key contains invalid characters")
		}
	}
	return nil
}

func keyError(key, reason string) error {
	return errors.Newf("invalid object key: %s", reason).
		Component("storage").
		Category(errors.CategoryValidation).
		Context("key_length", len(key)).
		Build()
}

// SanitizeSegment maps an arbitrary identifier onto a single safe key
// segment. Characters outside [A-Za-z0-9._@-] become '_' and a leading dot
// is replaced so the segment is never hidden.
func SanitizeSegment(s string) string {
	if s == "" {
		return "_"
	}
	out := []rune(s)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '@', r == '.':
		default:
			out[i] = '_'
		}
	}
	if out[0] == '.' {
		out[0] = '_'
	}
	segment := string(out)
	if len(segment) > MaxSegmentLength {
		segment = segment[:MaxSegmentLength]
	}
	return segment
}

// ObjectKey builds the key of a contributed image: <user>/<file>.<ext>.
func ObjectKey(userID, fileID, ext string) string {
	return SanitizeSegment(userID) + "/" + SanitizeSegment(fileID) + "." + strings.TrimPrefix(ext, ".")
}

// joinURL appends the escaped key segments to base.
func joinURL(base string, parts ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	for _, part := range parts {
		for segment := range strings.SplitSeq(strings.Trim(part, "/"), "/") {
			if segment == "" {
				continue
			}
			b.WriteByte('/')
			b.WriteString(url.PathEscape(segment))
		}
	}
	return b.String()
}

// opError wraps a backend failure with storage context.
func opError(err error, backend, operation, key string) error {
	if err == nil {
		return nil
	}
	return errors.New(fmt.Errorf("%s: %s failed: %w", backend, operation, err)).
		Component("storage").
		Category(errors.CategoryStorage).
		Context("backend", backend).
		Context("operation", operation).
		FileContext(key, 0).
		Build()
}
