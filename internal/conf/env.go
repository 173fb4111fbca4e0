// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/florai/contrib-pipeline/internal/secrets"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"main.environment", "FLORAI_ENV", validateEnvEnvironment},
		{"webserver.listen", "FLORAI_LISTEN", nil},
		{"webserver.allowed_origins", "FLORAI_ALLOWED_ORIGINS", nil},

		// Secrets are usually injected rather than written to config.yaml
		{"auth.jwt_secret", "FLORAI_JWT_SECRET", validateEnvSecret},
		{"auth.issuer", "FLORAI_JWT_ISSUER", nil},
		{"auth.audience", "FLORAI_JWT_AUDIENCE", nil},

		{"database.driver", "FLORAI_DB_DRIVER", validateEnvDriver},
		{"database.sqlite.path", "FLORAI_SQLITE_PATH", nil},
		{"database.mysql.host", "FLORAI_MYSQL_HOST", nil},
		{"database.mysql.port", "FLORAI_MYSQL_PORT", validateEnvPort},
		{"database.mysql.username", "FLORAI_MYSQL_USER", nil},
		{"database.mysql.password", "FLORAI_MYSQL_PASSWORD", nil},
		{"database.mysql.database", "FLORAI_MYSQL_DATABASE", nil},
		{"database.postgres.host", "FLORAI_POSTGRES_HOST", nil},
		{"database.postgres.port", "FLORAI_POSTGRES_PORT", validateEnvPort},
		{"database.postgres.username", "FLORAI_POSTGRES_USER", nil},
		{"database.postgres.password", "FLORAI_POSTGRES_PASSWORD", nil},
		{"database.postgres.database", "FLORAI_POSTGRES_DATABASE", nil},

		{"storage.backend", "FLORAI_STORAGE_BACKEND", validateEnvBackend},
		{"storage.public_base_url", "FLORAI_PUBLIC_BASE_URL", validateEnvURL},
		{"storage.sftp.password", "FLORAI_SFTP_PASSWORD", nil},
		{"storage.ftp.password", "FLORAI_FTP_PASSWORD", nil},
		{"storage.gcs.access_token", "FLORAI_GCS_ACCESS_TOKEN", nil},

		{"mqtt.password", "FLORAI_MQTT_PASSWORD", nil},
		{"sentry.dsn", "FLORAI_SENTRY_DSN", validateEnvURL},
		{"client.token", "FLORAI_TOKEN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s: %v", binding.EnvVar, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// secretRefs lists the credential settings that may reference ${VAR}
// or be read from the file named by a *_FILE variable.
func secretRefs(s *Settings) []secrets.Ref {
	return []secrets.Ref{
		{Key: "auth.jwt_secret", FileEnv: "FLORAI_JWT_SECRET_FILE", Value: &s.Auth.JWTSecret},
		{Key: "database.mysql.password", FileEnv: "FLORAI_MYSQL_PASSWORD_FILE", Value: &s.Database.MySQL.Password},
		{Key: "database.postgres.password", FileEnv: "FLORAI_POSTGRES_PASSWORD_FILE", Value: &s.Database.Postgres.Password},
		{Key: "storage.sftp.password", FileEnv: "FLORAI_SFTP_PASSWORD_FILE", Value: &s.Storage.SFTP.Password},
		{Key: "storage.ftp.password", FileEnv: "FLORAI_FTP_PASSWORD_FILE", Value: &s.Storage.FTP.Password},
		{Key: "storage.gcs.access_token", FileEnv: "FLORAI_GCS_ACCESS_TOKEN_FILE", Value: &s.Storage.GCS.AccessToken},
		{Key: "mqtt.password", FileEnv: "FLORAI_MQTT_PASSWORD_FILE", Value: &s.MQTT.Password},
		{Key: "sentry.dsn", FileEnv: "FLORAI_SENTRY_DSN_FILE", Value: &s.Sentry.DSN},
		{Key: "client.token", FileEnv: "FLORAI_TOKEN_FILE", Value: &s.Client.Token},
	}
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix("FLORAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars(v)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("error loading env files: %w", err)
	}
	return nil
}

func validateEnvEnvironment(value string) error {
	if value != EnvProduction && value != EnvDevelopment {
		return fmt.Errorf("must be %q or %q", EnvProduction, EnvDevelopment)
	}
	return nil
}

func validateEnvSecret(value string) error {
	if len(value) < minSecretLength {
		return fmt.Errorf("must be at least %d characters", minSecretLength)
	}
	return nil
}

func validateEnvDriver(value string) error {
	if !slices.Contains(supportedDrivers, value) {
		return fmt.Errorf("must be one of %v", supportedDrivers)
	}
	return nil
}

func validateEnvBackend(value string) error {
	if !slices.Contains(supportedBackends, value) {
		return fmt.Errorf("must be one of %v", supportedBackends)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("must be a port number between 1 and 65535")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}
