// Package api provides the HTTP server infrastructure of the contribution
// pipeline. The JSON endpoints live in the v2 subpackage.
package api

import (
	"fmt"
	"time"

	"github.com/florai/contrib-pipeline/internal/api/middleware"
	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("server")
}

// Default constants for the HTTP server.
const (
	DefaultListen          = ":3000"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultBodyLimit       = "11M"
	DefaultMetricsPath     = "/metrics"
)

// Config holds the HTTP server configuration derived from the settings.
type Config struct {
	Listen         string
	AllowedOrigins []string
	BodyLimit      string // e.g. "1M", "11M"
	MaxConnections int    // 0 disables the listener limit

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RateLimitEnabled bool
	RateLimit        middleware.RateLimitConfig

	MetricsEnabled bool
	MetricsPath    string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:           DefaultListen,
		BodyLimit:        DefaultBodyLimit,
		ReadTimeout:      DefaultReadTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		IdleTimeout:      DefaultIdleTimeout,
		ShutdownTimeout:  DefaultShutdownTimeout,
		RateLimitEnabled: true,
		RateLimit: middleware.RateLimitConfig{
			Requests: middleware.DefaultRateLimitRequests,
			Window:   middleware.DefaultRateLimitWindow,
		},
		MetricsPath: DefaultMetricsPath,
	}
}

// ConfigFromSettings creates a Config from the application settings.
// Zero values keep the defaults.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	ws := &settings.WebServer

	if ws.Listen != "" {
		cfg.Listen = ws.Listen
	}
	cfg.AllowedOrigins = ws.AllowedOrigins
	if ws.BodyLimit != "" {
		cfg.BodyLimit = ws.BodyLimit
	}
	cfg.MaxConnections = ws.MaxConnections
	if ws.ReadTimeout > 0 {
		cfg.ReadTimeout = ws.ReadTimeout
	}
	if ws.WriteTimeout > 0 {
		cfg.WriteTimeout = ws.WriteTimeout
	}
	if ws.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = ws.ShutdownTimeout
	}

	cfg.RateLimitEnabled = ws.RateLimit.Enabled
	if ws.RateLimit.Requests > 0 {
		cfg.RateLimit.Requests = ws.RateLimit.Requests
	}
	if ws.RateLimit.Window > 0 {
		cfg.RateLimit.Window = ws.RateLimit.Window
	}

	cfg.MetricsEnabled = settings.Metrics.Enabled
	if settings.Metrics.Path != "" {
		cfg.MetricsPath = settings.Metrics.Path
	}
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var problems []string
	if c.Listen == "" {
		problems = append(problems, "listen address is required")
	}
	if c.ReadTimeout <= 0 {
		problems = append(problems, "read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		problems = append(problems, "write timeout must be positive")
	}
	if c.MaxConnections < 0 {
		problems = append(problems, "max connections must not be negative")
	}
	if c.RateLimitEnabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		problems = append(problems, "rate limit needs a positive request count and window")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.Newf("invalid server configuration: %v", problems).
		Component("api").
		Category(errors.CategoryConfiguration).
		Build()
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	rateLimit := "disabled"
	if c.RateLimitEnabled {
		rateLimit = fmt.Sprintf("%d/%s", c.RateLimit.Requests, c.RateLimit.Window)
	}
	return fmt.Sprintf("Server Config: listen=%s, max_connections=%d, rate_limit=%s, metrics=%v",
		c.Listen, c.MaxConnections, rateLimit, c.MetricsEnabled)
}
