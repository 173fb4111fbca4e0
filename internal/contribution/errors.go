package contribution

import (
	"fmt"
	"slices"
	"strings"

	"github.com/florai/contrib-pipeline/internal/errors"
)

// Field error messages returned to clients.
const (
	MsgUserIDRequired           = "User id is required"
	MsgScientificNameRequired   = "Scientific name is required"
	MsgCommonNameRequired       = "Common name is required"
	MsgHealthStatusRequired     = "Plant health status is required"
	MsgDataUsageConsentRequired = "Data usage consent is required"
	MsgIdentificationIDRequired = "Identification ID is required"
	MsgCorrectnessRequired      = "Feedback on correctness is required"
	MsgLatitudeRange            = "Latitude must be between -90 and 90"
	MsgLongitudeRange           = "Longitude must be between -180 and 180"
)

// FieldError describes one violated request constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError enumerates every violated field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ErrorCategory classifies the error for telemetry.
func (e *ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryValidation
}

// newValidationError starts from decoding failures. A field reported there
// is not reported again as missing.
func newValidationError(parsed []FieldError) *ValidationError {
	return &ValidationError{Fields: slices.Clone(parsed)}
}

func (e *ValidationError) add(field, message string) {
	if slices.ContainsFunc(e.Fields, func(f FieldError) bool { return f.Field == field }) {
		return
	}
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// errOrNil returns e when it holds at least one violation.
func (e *ValidationError) errOrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ConsentRequiredError is returned when the submitter declined data usage.
type ConsentRequiredError struct{}

func (e *ConsentRequiredError) Error() string {
	return "data usage consent is required to contribute"
}

// ErrorCategory classifies the error for telemetry.
func (e *ConsentRequiredError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConsent
}

// MissingAssetError is returned when no acceptable image was attached.
type MissingAssetError struct {
	Reason string
}

func (e *MissingAssetError) Error() string {
	if e.Reason == "" {
		return "no image file provided"
	}
	return "no image file provided: " + e.Reason
}

// ErrorCategory classifies the error for telemetry.
func (e *MissingAssetError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryValidation
}

// StorageWriteError is returned when the image could not be staged or
// uploaded. No record and no remote object exist afterwards, so the whole
// submission may be retried.
type StorageWriteError struct {
	Key string
	Err error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("failed to store image %q: %v", e.Key, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// ErrorCategory classifies the error for telemetry.
func (e *StorageWriteError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryStorage
}

// MetadataWriteError is returned when a record could not be written. For
// contributions AssetPath names the uploaded object that is now orphaned.
type MetadataWriteError struct {
	AssetPath string
	AssetURL  string
	Err       error
}

func (e *MetadataWriteError) Error() string {
	if e.AssetPath == "" {
		return fmt.Sprintf("failed to store metadata: %v", e.Err)
	}
	return fmt.Sprintf("failed to store metadata, asset %q orphaned: %v", e.AssetPath, e.Err)
}

func (e *MetadataWriteError) Unwrap() error { return e.Err }

// ErrorCategory classifies the error for telemetry.
func (e *MetadataWriteError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryDatabase
}

// Orphaned reports whether a stored asset is left without metadata.
func (e *MetadataWriteError) Orphaned() bool {
	return e.AssetPath != ""
}

// QueryError is returned when contribution history cannot be read.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("failed to query contributions: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ErrorCategory classifies the error for telemetry.
func (e *QueryError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryDatabase
}

// enhance attaches component context to an infrastructure failure so it
// is categorised and reported like the rest of the pipeline's errors.
func enhance(err error, category errors.ErrorCategory, operation string, kv ...string) error {
	b := errors.New(err).
		Component("contribution").
		Category(category).
		Context("operation", operation)
	for i := 0; i+1 < len(kv); i += 2 {
		b = b.Context(kv[i], kv[i+1])
	}
	return b.Build()
}
