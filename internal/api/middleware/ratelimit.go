package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// Defaults for the per-client budget: 100 requests per 15 minutes.
const (
	DefaultRateLimitRequests = 100
	DefaultRateLimitWindow   = 15 * time.Minute
)

// MsgTooManyRequests is returned with 429 responses.
const MsgTooManyRequests = "Too many requests from this IP, please try again later."

// RateLimitConfig configures NewRateLimiter.
type RateLimitConfig struct {
	Requests int           // requests allowed per Window
	Window   time.Duration // refill period of the full budget
	Skipper  middleware.Skipper
	OnLimit  func(c echo.Context) // called for every rejected request
}

// NewRateLimiter limits each client IP with a token bucket holding
// Requests tokens that refills over Window.
func NewRateLimiter(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Requests <= 0 {
		cfg.Requests = DefaultRateLimitRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimitWindow
	}
	if cfg.Skipper == nil {
		cfg.Skipper = middleware.DefaultSkipper
	}

	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Every(cfg.Window / time.Duration(cfg.Requests)),
		Burst:     cfg.Requests,
		ExpiresIn: cfg.Window,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: cfg.Skipper,
		Store:   store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, map[string]string{
				"error":          "Unable to identify client",
				"correlation_id": CorrelationID(c),
			})
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			if cfg.OnLimit != nil {
				cfg.OnLimit(c)
			}
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error":          MsgTooManyRequests,
				"correlation_id": CorrelationID(c),
			})
		},
	})
}
