package telemetry

import (
	"fmt"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/errors"
)

func enabledSettings() *conf.SentrySettings {
	return &conf.SentrySettings{
		Enabled:    true,
		DSN:        "https://public@sentry.example.test/1",
		SampleRate: 1.0,
	}
}

func setupSentry(t *testing.T) *mockTransport {
	t.Helper()
	transport := &mockTransport{}
	shutdown, err := initWithTransport(enabledSettings(), "test", "v0.0.0-test", transport)
	require.NoError(t, err)
	t.Cleanup(shutdown)
	return transport
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(&conf.SentrySettings{Enabled: false}, "test", "dev")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()

	assert.Nil(t, errors.GetTelemetryReporter())
}

func TestInitNilSettings(t *testing.T) {
	shutdown, err := Init(nil, "test", "dev")
	require.NoError(t, err)
	shutdown()
}

func TestServiceErrorsAreReportedScrubbed(t *testing.T) {
	transport := setupSentry(t)

	_ = errors.New(fmt.Errorf("upload to https://cdn.example.test/plant-contributions/u1/a.jpg failed from 203.0.113.77")).
		Component("storage").
		Category(errors.CategoryStorage).
		Context("operation", "put").
		Build()

	events := transport.Events()
	require.Len(t, events, 1)
	event := events[0]

	assert.NotContains(t, event.Message, "cdn.example.test")
	assert.NotContains(t, event.Message, "203.0.113.77")
	assert.Contains(t, event.Message, "203.0.113.0")
	require.NotEmpty(t, event.Exception)
	assert.NotContains(t, event.Exception[0].Value, "cdn.example.test")
	assert.Equal(t, "storage", event.Tags["component"])
	assert.Empty(t, event.ServerName)
	assert.True(t, event.User.IsEmpty())
}

func TestClientErrorsAreNotReported(t *testing.T) {
	transport := setupSentry(t)

	for _, category := range []errors.ErrorCategory{
		errors.CategoryValidation,
		errors.CategoryConsent,
		errors.CategoryNotFound,
		errors.CategoryAuth,
		errors.CategoryCancellation,
	} {
		_ = errors.Newf("client problem").Component("api").Category(category).Build()
	}
	_ = errors.Newf("minor").Component("api").Category(errors.CategoryNetwork).Priority(errors.PriorityLow).Build()

	assert.Empty(t, transport.Events())
}

func TestShutdownDetachesReporter(t *testing.T) {
	transport := &mockTransport{}
	shutdown, err := initWithTransport(enabledSettings(), "test", "dev", transport)
	require.NoError(t, err)
	require.NotNil(t, errors.GetTelemetryReporter())

	shutdown()
	assert.Nil(t, errors.GetTelemetryReporter())

	_ = errors.Newf("after shutdown").Component("api").Category(errors.CategoryDatabase).Build()
	assert.Empty(t, transport.Events())
}

func TestApplyPrivacyFilters(t *testing.T) {
	event := &sentry.Event{
		Message:    "user mail alice@example.org at 52.52001, 13.40495",
		ServerName: "florai-prod-1",
		User:       sentry.User{ID: "auth0|user-1", IPAddress: "198.51.100.4"},
		Request:    &sentry.Request{URL: "https://api.example.test/status"},
		Contexts:   map[string]sentry.Context{"os": {"name": "linux"}, "app": {"v": 1}},
		Extra:      map[string]any{"component": "api", "token": "secret"},
		Tags:       map[string]string{"hostname": "h", "category": "database"},
		Exception:  []sentry.Exception{{Value: "dial tcp 10.0.0.8:5432"}},
	}

	got := applyPrivacyFilters(event)

	assert.Equal(t, "user mail [EMAIL] at [COORDINATES]", got.Message)
	assert.Empty(t, got.ServerName)
	assert.True(t, got.User.IsEmpty())
	assert.Nil(t, got.Request)
	assert.NotContains(t, got.Contexts, "os")
	assert.Contains(t, got.Contexts, "app")
	assert.Equal(t, map[string]any{"component": "api"}, got.Extra)
	assert.Equal(t, map[string]string{"category": "database"}, got.Tags)
	assert.Equal(t, "dial tcp 10.0.0.0:5432", got.Exception[0].Value)
}

func TestReporterFilter(t *testing.T) {
	tests := []struct {
		name     string
		category errors.ErrorCategory
		priority string
		want     bool
	}{
		{"database", errors.CategoryDatabase, "", true},
		{"storage high", errors.CategoryStorage, errors.PriorityHigh, true},
		{"validation", errors.CategoryValidation, "", false},
		{"consent", errors.CategoryConsent, "", false},
		{"low priority", errors.CategoryNetwork, errors.PriorityLow, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ee := &errors.EnhancedError{Category: tt.category, Priority: tt.priority}
			assert.Equal(t, tt.want, shouldReport(ee))
		})
	}
	assert.False(t, shouldReport(nil))
	assert.False(t, NewReporter(nil).IsEnabled())
}
