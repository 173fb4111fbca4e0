// Package middleware provides HTTP middleware components for the FlorAI API server.
package middleware

import (
	"context"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/florai/contrib-pipeline/internal/logger"
)

// HeaderCorrelationID carries the request correlation id in both directions.
const HeaderCorrelationID = "X-Correlation-ID"

// CtxKeyCorrelationID is the echo.Context key holding the correlation id.
const CtxKeyCorrelationID = "api:correlationID"

const correlationIDLength = 12

// NewCorrelationID assigns every request a correlation id. The id is
// echoed in the response header, stored in the echo context and attached
// to the request context for context-aware loggers.
func NewCorrelationID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := gonanoid.New(correlationIDLength)
			if err != nil {
				id = "unavailable"
			}
			c.Set(CtxKeyCorrelationID, id)
			c.Response().Header().Set(HeaderCorrelationID, id)

			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), id)))
			return next(c)
		}
	}
}

// CorrelationID returns the id assigned to the current request.
func CorrelationID(c echo.Context) string {
	if id, ok := c.Get(CtxKeyCorrelationID).(string); ok {
		return id
	}
	return CorrelationIDFromContext(c.Request().Context())
}

// CorrelationIDFromContext reads the id from a request context, for
// handlers running outside echo.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(logger.TraceIDKey).(string); ok {
		return id
	}
	return ""
}
