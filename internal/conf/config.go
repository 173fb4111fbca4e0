// Package conf loads, validates and persists the FlorAI configuration.
package conf

import (
	"crypto/rand"
	"embed"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
	"github.com/florai/contrib-pipeline/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// Environment names recognised by Main.Environment
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// MainSettings holds process-wide identity settings.
type MainSettings struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// IsDevelopment reports whether diagnostic details may be exposed to clients.
func (m MainSettings) IsDevelopment() bool {
	return m.Environment == EnvDevelopment
}

// RateLimitSettings configures the per-client request budget.
type RateLimitSettings struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Requests int           `yaml:"requests" mapstructure:"requests"` // requests allowed per window
	Window   time.Duration `yaml:"window" mapstructure:"window"`
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Listen          string            `yaml:"listen" mapstructure:"listen"`
	AllowedOrigins  []string          `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	BodyLimit       string            `yaml:"body_limit" mapstructure:"body_limit"`
	MaxConnections  int               `yaml:"max_connections" mapstructure:"max_connections"` // 0 disables the listener limit
	ReadTimeout     time.Duration     `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration     `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitSettings `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// AuthSettings configures bearer token validation and issuing.
type AuthSettings struct {
	JWTSecret string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer    string        `yaml:"issuer" mapstructure:"issuer"`
	Audience  string        `yaml:"audience" mapstructure:"audience"`
	TokenTTL  time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
}

// SQLiteSettings configures the embedded database.
type SQLiteSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// MySQLSettings configures a MySQL server connection.
type MySQLSettings struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// PostgresSettings configures a PostgreSQL server connection.
type PostgresSettings struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"sslmode" mapstructure:"sslmode"`
}

// DatabaseSettings selects and configures the metadata store.
type DatabaseSettings struct {
	Driver             string           `yaml:"driver" mapstructure:"driver"` // sqlite, mysql or postgres
	SlowQueryThreshold time.Duration    `yaml:"slow_query_threshold" mapstructure:"slow_query_threshold"`
	SQLite             SQLiteSettings   `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL              MySQLSettings    `yaml:"mysql" mapstructure:"mysql"`
	Postgres           PostgresSettings `yaml:"postgres" mapstructure:"postgres"`
}

// RetrySettings configures retries of transient object storage failures.
type RetrySettings struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Delay       time.Duration `yaml:"delay" mapstructure:"delay"`
}

// LocalStorageSettings configures the filesystem object store.
type LocalStorageSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SFTPSettings configures the SFTP object store.
type SFTPSettings struct {
	Host           string        `yaml:"host" mapstructure:"host"`
	Port           int           `yaml:"port" mapstructure:"port"`
	Username       string        `yaml:"username" mapstructure:"username"`
	Password       string        `yaml:"password" mapstructure:"password"`
	KeyFile        string        `yaml:"key_file" mapstructure:"key_file"`
	KnownHostsFile string        `yaml:"known_hosts_file" mapstructure:"known_hosts_file"`
	Path           string        `yaml:"path" mapstructure:"path"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// FTPSettings configures the FTP object store.
type FTPSettings struct {
	Host     string        `yaml:"host" mapstructure:"host"`
	Port     int           `yaml:"port" mapstructure:"port"`
	Username string        `yaml:"username" mapstructure:"username"`
	Password string        `yaml:"password" mapstructure:"password"`
	Path     string        `yaml:"path" mapstructure:"path"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// GCSSettings configures the Google Cloud Storage object store.
// An empty access token uses application default credentials.
type GCSSettings struct {
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessToken string `yaml:"access_token" mapstructure:"access_token"`
}

// StorageSettings selects and configures the object store for contributed images.
type StorageSettings struct {
	Backend       string               `yaml:"backend" mapstructure:"backend"`
	Bucket        string               `yaml:"bucket" mapstructure:"bucket"`
	PublicBaseURL string               `yaml:"public_base_url" mapstructure:"public_base_url"`
	StagingDir    string               `yaml:"staging_dir" mapstructure:"staging_dir"`
	Retry         RetrySettings        `yaml:"retry" mapstructure:"retry"`
	Local         LocalStorageSettings `yaml:"local" mapstructure:"local"`
	SFTP          SFTPSettings         `yaml:"sftp" mapstructure:"sftp"`
	FTP           FTPSettings          `yaml:"ftp" mapstructure:"ftp"`
	GCS           GCSSettings          `yaml:"gcs" mapstructure:"gcs"`
}

// ContributionSettings tunes the contribution services.
type ContributionSettings struct {
	StatusCacheTTL       time.Duration `yaml:"status_cache_ttl" mapstructure:"status_cache_ttl"`
	StagingMaxAge        time.Duration `yaml:"staging_max_age" mapstructure:"staging_max_age"`               // staged files older than this are swept
	StagingSweepInterval time.Duration `yaml:"staging_sweep_interval" mapstructure:"staging_sweep_interval"` // 0 disables the background sweep
}

// MQTTSettings configures the training hand-off publisher.
type MQTTSettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker      string `yaml:"broker" mapstructure:"broker"`
	ClientID    string `yaml:"client_id" mapstructure:"client_id"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	TopicPrefix string `yaml:"topic_prefix" mapstructure:"topic_prefix"`
	Retain      bool   `yaml:"retain" mapstructure:"retain"`
}

// NotificationSettings configures operator alerts.
type NotificationSettings struct {
	Enabled bool     `yaml:"enabled" mapstructure:"enabled"`
	URLs    []string `yaml:"urls" mapstructure:"urls"` // shoutrrr service URLs
}

// SentrySettings configures opt-in error telemetry.
type SentrySettings struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	DSN        string  `yaml:"dsn" mapstructure:"dsn"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// ClientSettings configures the command line client.
type ClientSettings struct {
	ConsentStorePath string `yaml:"consent_store_path" mapstructure:"consent_store_path"`
	APIBaseURL       string `yaml:"api_base_url" mapstructure:"api_base_url"`
	Token            string `yaml:"token" mapstructure:"token"`
}

// Settings is the root configuration.
type Settings struct {
	Main         MainSettings         `yaml:"main" mapstructure:"main"`
	WebServer    WebServerSettings    `yaml:"webserver" mapstructure:"webserver"`
	Auth         AuthSettings         `yaml:"auth" mapstructure:"auth"`
	Database     DatabaseSettings     `yaml:"database" mapstructure:"database"`
	Storage      StorageSettings      `yaml:"storage" mapstructure:"storage"`
	Contribution ContributionSettings `yaml:"contribution" mapstructure:"contribution"`
	MQTT         MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
	Notification NotificationSettings `yaml:"notification" mapstructure:"notification"`
	Sentry       SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
	Metrics      MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Logging      logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Client       ClientSettings       `yaml:"client" mapstructure:"client"`

	// ConfigFile is the file the settings were read from, empty for defaults only.
	ConfigFile string `yaml:"-" mapstructure:"-"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	activeViper      *viper.Viper
)

// Load reads configuration from configFile, or from the default search
// paths when configFile is empty. A missing config in the default location
// is created from the embedded template.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	if err := initViper(v, configFile); err != nil {
		return nil, errors.New(fmt.Errorf("error initializing config: %w", err)).
			Category(errors.CategoryConfiguration).
			Context("operation", "init_viper").
			Build()
	}

	settings, err := unmarshalSettings(v)
	if err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	activeViper = v
	settingsMutex.Unlock()

	return settings, nil
}

func unmarshalSettings(v *viper.Viper) (*Settings, error) {
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Category(errors.CategoryConfiguration).
			Build()
	}
	settings.ConfigFile = v.ConfigFileUsed()

	if err := secrets.Resolve(secretRefs(settings)); err != nil {
		return nil, errors.New(fmt.Errorf("error resolving secrets: %w", err)).
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// initViper wires defaults, environment bindings and the config file into v.
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		return err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(v, configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded template to dir and reads it back.
func createDefaultConfig(v *viper.Viper, dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	// A fresh install gets its own signing secret.
	if v.GetString("auth.jwt_secret") == "" {
		v.Set("auth.jwt_secret", GenerateRandomSecret())
		if err := v.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("error persisting generated secret: %w", err)
		}
	}

	logger.Global().Module("conf").Info("created default config file", logger.String("path", configPath))
	return nil
}

// GetSettings returns the most recently loaded settings, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Watch re-reads the active config file on change and passes the new
// settings to onChange. Invalid edits are logged and ignored.
func Watch(onChange func(*Settings)) {
	settingsMutex.RLock()
	v := activeViper
	settingsMutex.RUnlock()

	if v == nil || v.ConfigFileUsed() == "" {
		return
	}

	log := logger.Global().Module("conf")
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		settings, err := unmarshalSettings(v)
		if err != nil {
			log.Warn("ignoring invalid config change", logger.String("path", e.Name), logger.Error(err))
			return
		}

		settingsMutex.Lock()
		settingsInstance = settings
		settingsMutex.Unlock()

		log.Info("config reloaded", logger.String("path", e.Name))
		onChange(settings)
	})
	v.WatchConfig()
}

// SaveYAMLConfig writes settings to configPath atomically through a temp file.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}

// GenerateRandomSecret returns 256 bits of URL-safe base64 randomness.
func GenerateRandomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
