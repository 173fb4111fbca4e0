package telemetry

import (
	"github.com/florai/contrib-pipeline/internal/errors"
)

// clientCategories are caused by the request, not by the service, and are
// never sent to Sentry.
var clientCategories = map[errors.ErrorCategory]bool{
	errors.CategoryValidation:   true,
	errors.CategoryConsent:      true,
	errors.CategoryNotFound:     true,
	errors.CategoryAuth:         true,
	errors.CategoryCancellation: true,
}

// Reporter forwards service-side errors to another reporter.
type Reporter struct {
	next errors.TelemetryReporter
}

// NewReporter wraps next.
func NewReporter(next errors.TelemetryReporter) *Reporter {
	return &Reporter{next: next}
}

// IsEnabled reports whether the wrapped reporter is enabled.
func (r *Reporter) IsEnabled() bool {
	return r.next != nil && r.next.IsEnabled()
}

// ReportError drops client-caused and low priority errors.
func (r *Reporter) ReportError(ee *errors.EnhancedError) {
	if !r.IsEnabled() || !shouldReport(ee) {
		return
	}
	r.next.ReportError(ee)
}

func shouldReport(ee *errors.EnhancedError) bool {
	if ee == nil || clientCategories[ee.Category] {
		return false
	}
	return ee.Priority != errors.PriorityLow
}
