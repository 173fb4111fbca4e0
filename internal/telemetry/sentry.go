// Package telemetry provides opt-in Sentry error reporting. Every event
// passes through the privacy filters before it leaves the process.
package telemetry

import (
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
	"github.com/florai/contrib-pipeline/internal/privacy"
)

// FlushTimeout bounds how long Shutdown waits for queued events.
const FlushTimeout = 2 * time.Second

var (
	initMu      sync.Mutex
	initialized bool
)

// GetLogger returns the telemetry module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// Init configures Sentry when settings enable it and installs the error
// reporter. The returned shutdown function flushes pending events and is
// safe to call when telemetry is disabled.
func Init(settings *conf.SentrySettings, environment, release string) (shutdown func(), err error) {
	return initWithTransport(settings, environment, release, nil)
}

func initWithTransport(settings *conf.SentrySettings, environment, release string, transport sentry.Transport) (func(), error) {
	errors.SetPrivacyScrubber(privacy.ScrubMessage)

	if settings == nil || !settings.Enabled {
		GetLogger().Info("error telemetry disabled")
		return func() {}, nil
	}

	initMu.Lock()
	defer initMu.Unlock()
	if initialized {
		return Shutdown, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Environment:      environment,
		Release:          release,
		SampleRate:       settings.SampleRate,
		SendDefaultPII:   false,
		AttachStacktrace: false,
		Transport:        transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return nil, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	errors.SetTelemetryReporter(NewReporter(errors.NewSentryReporter(true)))
	initialized = true

	GetLogger().Info("error telemetry enabled",
		logger.String("environment", environment),
		logger.Float64("sample_rate", settings.SampleRate))
	return Shutdown, nil
}

// Shutdown detaches the error reporter and flushes queued events.
func Shutdown() {
	initMu.Lock()
	defer initMu.Unlock()
	if !initialized {
		return
	}
	errors.SetTelemetryReporter(nil)
	if !sentry.Flush(FlushTimeout) {
		GetLogger().Warn("sentry flush timed out", logger.Duration("timeout", FlushTimeout))
	}
	initialized = false
}

// applyPrivacyFilters removes identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
		delete(event.Tags, "user")
	}

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}
	for i := range event.Breadcrumbs {
		event.Breadcrumbs[i].Message = privacy.ScrubMessage(event.Breadcrumbs[i].Message)
		event.Breadcrumbs[i].Data = nil
	}
	return event
}
