// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("main.name", "florai")
	v.SetDefault("main.environment", EnvProduction)

	v.SetDefault("webserver.listen", ":3000")
	v.SetDefault("webserver.allowed_origins", []string{"http://localhost:8081"})
	v.SetDefault("webserver.body_limit", "11M")
	v.SetDefault("webserver.max_connections", 512)
	v.SetDefault("webserver.read_timeout", 30*time.Second)
	v.SetDefault("webserver.write_timeout", 60*time.Second)
	v.SetDefault("webserver.shutdown_timeout", 15*time.Second)
	v.SetDefault("webserver.rate_limit.enabled", true)
	v.SetDefault("webserver.rate_limit.requests", 100)
	v.SetDefault("webserver.rate_limit.window", 15*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "florai")
	v.SetDefault("auth.audience", "florai-app")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.slow_query_threshold", 200*time.Millisecond)
	v.SetDefault("database.sqlite.path", "data/florai.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.username", "florai")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "florai")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.username", "florai")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "florai")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.bucket", "plant-contributions")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.staging_dir", "data/staging")
	v.SetDefault("storage.retry.max_attempts", 3)
	v.SetDefault("storage.retry.delay", time.Second)
	v.SetDefault("storage.local.path", "data/objects")
	v.SetDefault("storage.sftp.port", 22)
	v.SetDefault("storage.sftp.path", "/srv/florai")
	v.SetDefault("storage.sftp.timeout", 30*time.Second)
	v.SetDefault("storage.ftp.port", 21)
	v.SetDefault("storage.ftp.path", "/florai")
	v.SetDefault("storage.ftp.timeout", 30*time.Second)
	v.SetDefault("storage.gcs.endpoint", "")
	v.SetDefault("storage.gcs.access_token", "")

	v.SetDefault("contribution.status_cache_ttl", 30*time.Second)
	v.SetDefault("contribution.staging_max_age", 24*time.Hour)
	v.SetDefault("contribution.staging_sweep_interval", time.Hour)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "florai-api")
	v.SetDefault("mqtt.topic_prefix", "florai")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.urls", []string{})

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/florai.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("client.api_base_url", "http://localhost:3000/api/v2")
}
