// Package auth validates the bearer tokens of API requests and issues
// tokens for development use.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/labstack/echo/v4"

	"github.com/florai/contrib-pipeline/internal/api/middleware"
	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
)

// MsgUnauthorized is the body of every 401 response.
const MsgUnauthorized = "Unauthorized"

// allowedClockSkew tolerates small clock differences between issuer and API.
const allowedClockSkew = 30 * time.Second

// GetLogger returns the auth package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("auth")
}

// Failure reasons reported to the failure hook.
const (
	ReasonMissing = "missing"
	ReasonInvalid = "invalid"
)

// Authenticator checks HS256 bearer tokens against the configured secret,
// issuer and audience.
type Authenticator struct {
	mw        *jwtmiddleware.JWTMiddleware
	onFailure func(reason string)
	log       logger.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithFailureHook is called with a reason for every rejected request.
func WithFailureHook(fn func(reason string)) Option {
	return func(a *Authenticator) { a.onFailure = fn }
}

// New creates an Authenticator from settings.
func New(settings *conf.AuthSettings, opts ...Option) (*Authenticator, error) {
	if settings.JWTSecret == "" || settings.Issuer == "" || settings.Audience == "" {
		return nil, errors.Newf("auth.jwt_secret, auth.issuer and auth.audience must be set").
			Component("auth").
			Category(errors.CategoryConfiguration).
			Build()
	}
	secret := []byte(settings.JWTSecret)

	v, err := validator.New(
		func(context.Context) (any, error) { return secret, nil },
		validator.HS256,
		settings.Issuer,
		[]string{settings.Audience},
		validator.WithAllowedClockSkew(allowedClockSkew),
	)
	if err != nil {
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategoryConfiguration).
			Context("operation", "create_validator").
			Build()
	}

	a := &Authenticator{log: GetLogger()}
	for _, opt := range opts {
		opt(a)
	}
	a.mw = jwtmiddleware.New(v.ValidateToken, jwtmiddleware.WithErrorHandler(a.handleError))
	return a, nil
}

// Middleware rejects requests without a valid token.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return echo.WrapMiddleware(a.mw.CheckJWT)
}

func (a *Authenticator) handleError(w http.ResponseWriter, r *http.Request, err error) {
	reason := ReasonInvalid
	if errors.Is(err, jwtmiddleware.ErrJWTMissing) {
		reason = ReasonMissing
	}
	if a.onFailure != nil {
		a.onFailure(reason)
	}
	id := middleware.CorrelationIDFromContext(r.Context())
	a.log.WithContext(r.Context()).Debug("request rejected",
		logger.String("reason", reason),
		logger.String("path", r.URL.Path))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":          MsgUnauthorized,
		"correlation_id": id,
	})
}

// UserID returns the token subject of an authenticated request.
func UserID(c echo.Context) (string, bool) {
	return UserIDFromContext(c.Request().Context())
}

// UserIDFromContext returns the token subject stored by the middleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	claims, ok := ctx.Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	if !ok || claims.RegisteredClaims.Subject == "" {
		return "", false
	}
	return claims.RegisteredClaims.Subject, true
}
