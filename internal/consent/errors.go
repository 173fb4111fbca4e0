package consent

import (
	"fmt"
	"strings"

	"github.com/florai/contrib-pipeline/internal/errors"
)

// ImmutableCategoryError is returned for any attempt to change the mandatory category.
type ImmutableCategoryError struct {
	Category Category
}

func (e *ImmutableCategoryError) Error() string {
	return fmt.Sprintf("consent category %q is mandatory and cannot be changed", e.Category)
}

// ErrorCategory classifies the error for telemetry.
func (e *ImmutableCategoryError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConsent
}

// InvalidPreferenceError reports an unknown category or an unsupported value.
type InvalidPreferenceError struct {
	Key    string
	Reason string
}

func (e *InvalidPreferenceError) Error() string {
	return fmt.Sprintf("invalid preference %q: %s", e.Key, e.Reason)
}

// ErrorCategory classifies the error for telemetry.
func (e *InvalidPreferenceError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryValidation
}

// KeyError pairs a persisted key with the reason it was not written.
type KeyError struct {
	Key string
	Err error
}

// PartialWriteError lists the keys of a bulk operation that failed. Keys
// not listed were applied; nothing is rolled back.
type PartialWriteError struct {
	Failed  []KeyError
	Applied []string
}

func (e *PartialWriteError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Key, f.Err))
	}
	return fmt.Sprintf("%d of %d preference writes failed: %s",
		len(e.Failed), len(e.Failed)+len(e.Applied), strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *PartialWriteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// FailedKeys returns the keys that were not written.
func (e *PartialWriteError) FailedKeys() []string {
	keys := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		keys = append(keys, f.Key)
	}
	return keys
}

// storeError wraps a backend failure with consent component context.
func storeError(err error, operation, key string) error {
	return errors.New(err).
		Component("consent").
		Category(errors.CategoryFileIO).
		Context("operation", operation).
		Context("key", key).
		Build()
}
