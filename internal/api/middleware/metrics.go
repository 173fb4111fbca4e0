package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
)

// RequestObserver records completed requests.
type RequestObserver interface {
	ObserveRequest(method, route string, code int, seconds float64)
}

// NewMetrics reports every request to obs, labelled with the matched
// route template rather than the raw path.
func NewMetrics(obs RequestObserver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			obs.ObserveRequest(c.Request().Method, route, status, time.Since(start).Seconds())
			return err
		}
	}
}
