package storage

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
)

// Retry defaults
const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
	DefaultTimeout      = 30 * time.Second
)

// transientErrorPatterns contains substrings that indicate a transient/retriable error
var transientErrorPatterns = []string{
	"connection reset",
	"connection refused",
	"connection closed",
	"timeout",
	"temporary",
	"broken pipe",
	"no route to host",
	"EOF",
	"ssh: handshake failed",
	"resource temporarily unavailable",
}

// IsTransientError determines if an error is likely transient and can be retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if os.IsTimeout(err) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 408 || apiErr.Code == 429 || apiErr.Code >= 500
	}

	errStr := err.Error()
	for _, pattern := range transientErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryConfig returns a RetryConfig with sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultRetryBackoff,
	}
}

// WithRetry executes op, retrying transient errors with linear backoff.
// The attempt number starts at zero.
func WithRetry(ctx context.Context, cfg RetryConfig, operation string, op func(attempt int) error) error {
	attempts := max(cfg.MaxRetries, 1)
	var lastErr error

	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return errors.New(err).
				Component("storage").
				Category(errors.CategoryCancellation).
				Context("operation", operation).
				Build()
		}

		err := op(attempt)
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		GetLogger().Debug("retrying storage operation",
			logger.String("operation", operation),
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", attempts),
			logger.Error(err))

		// Linear backoff: backoff * (attempt + 1) gives 1x, 2x, 3x delays
		timer := time.NewTimer(cfg.Backoff * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	return errors.New(lastErr).
		Component("storage").
		Category(errors.CategoryRetry).
		Context("operation", operation).
		Context("attempts", attempts).
		Build()
}

// rewind prepares r for another attempt. Readers that cannot seek are only
// usable once, so a retry of them is reported as a permanent failure.
func rewind(r io.Reader, attempt int) error {
	if attempt == 0 {
		return nil
	}
	seeker, ok := r.(io.Seeker)
	if !ok {
		return errors.NewStd("content is not seekable, cannot retry upload")
	}
	_, err := seeker.Seek(0, io.SeekStart)
	return err
}
