// Package metrics provides custom Prometheus metrics for the contribution pipeline.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on it rather than on concrete collectors.
type Recorder interface {
	// RecordOperation records an operation with its status, e.g.
	// ("submit", "success").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	RecordError(operation, errorType string)
}

// Operation outcomes
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// NopRecorder discards every observation.
type NopRecorder struct{}

// RecordOperation implements Recorder.
func (NopRecorder) RecordOperation(string, string) {}

// RecordDuration implements Recorder.
func (NopRecorder) RecordDuration(string, float64) {}

// RecordError implements Recorder.
func (NopRecorder) RecordError(string, string) {}
