// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/florai/contrib-pipeline/internal/errors"
)

const minSecretLength = 16

var (
	supportedDrivers  = []string{"sqlite", "mysql", "postgres"}
	supportedBackends = []string{"local", "sftp", "ftp", "gcs"}
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ErrorCategory classifies configuration problems for telemetry.
func (ve ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConfiguration
}

// ValidateSettings validates the entire Settings struct and reports every problem at once.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateMainSettings(&settings.Main)...)
	ve.Errors = append(ve.Errors, validateWebServerSettings(&settings.WebServer)...)
	ve.Errors = append(ve.Errors, validateDatabaseSettings(&settings.Database)...)
	ve.Errors = append(ve.Errors, validateStorageSettings(&settings.Storage)...)
	ve.Errors = append(ve.Errors, validateMQTTSettings(&settings.MQTT)...)

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry.dsn is required when sentry is enabled")
	}
	if settings.Sentry.SampleRate < 0 || settings.Sentry.SampleRate > 1 {
		ve.Errors = append(ve.Errors, "sentry.sample_rate must be between 0 and 1")
	}
	if settings.Notification.Enabled && len(settings.Notification.URLs) == 0 {
		ve.Errors = append(ve.Errors, "notification.urls must not be empty when notifications are enabled")
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

func validateMainSettings(m *MainSettings) []string {
	if m.Environment != EnvProduction && m.Environment != EnvDevelopment {
		return []string{fmt.Sprintf("main.environment must be %q or %q", EnvProduction, EnvDevelopment)}
	}
	return nil
}

func validateWebServerSettings(ws *WebServerSettings) []string {
	var errs []string
	if ws.Listen == "" {
		errs = append(errs, "webserver.listen must not be empty")
	}
	if ws.RateLimit.Enabled {
		if ws.RateLimit.Requests <= 0 {
			errs = append(errs, "webserver.rate_limit.requests must be positive")
		}
		if ws.RateLimit.Window <= 0 {
			errs = append(errs, "webserver.rate_limit.window must be positive")
		}
	}
	if ws.MaxConnections < 0 {
		errs = append(errs, "webserver.max_connections must not be negative")
	}
	return errs
}

func validateDatabaseSettings(db *DatabaseSettings) []string {
	var errs []string
	switch db.Driver {
	case "sqlite":
		if db.SQLite.Path == "" {
			errs = append(errs, "database.sqlite.path must not be empty")
		}
	case "mysql":
		if db.MySQL.Host == "" || db.MySQL.Database == "" {
			errs = append(errs, "database.mysql.host and database.mysql.database are required")
		}
	case "postgres":
		if db.Postgres.Host == "" || db.Postgres.Database == "" {
			errs = append(errs, "database.postgres.host and database.postgres.database are required")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be one of %v", supportedDrivers))
	}
	return errs
}

func validateStorageSettings(s *StorageSettings) []string {
	var errs []string

	if !slices.Contains(supportedBackends, s.Backend) {
		errs = append(errs, fmt.Sprintf("storage.backend must be one of %v", supportedBackends))
	}
	if s.Bucket == "" {
		errs = append(errs, "storage.bucket must not be empty")
	}
	if s.StagingDir == "" {
		errs = append(errs, "storage.staging_dir must not be empty")
	}
	if s.PublicBaseURL != "" {
		if u, err := url.Parse(s.PublicBaseURL); err != nil || u.Scheme == "" {
			errs = append(errs, "storage.public_base_url must be an absolute URL")
		}
	}
	if s.Retry.MaxAttempts < 1 {
		errs = append(errs, "storage.retry.max_attempts must be at least 1")
	}

	switch s.Backend {
	case "local":
		if s.Local.Path == "" {
			errs = append(errs, "storage.local.path must not be empty")
		}
	case "sftp":
		if s.SFTP.Host == "" || s.SFTP.Username == "" {
			errs = append(errs, "storage.sftp.host and storage.sftp.username are required")
		}
		if s.SFTP.Password == "" && s.SFTP.KeyFile == "" {
			errs = append(errs, "storage.sftp requires a password or key_file")
		}
	case "ftp":
		if s.FTP.Host == "" {
			errs = append(errs, "storage.ftp.host is required")
		}
	}

	return errs
}

func validateMQTTSettings(m *MQTTSettings) []string {
	if !m.Enabled {
		return nil
	}
	var errs []string
	if m.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}
	if m.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}
	return errs
}
