// Package api implements the version 2 HTTP API: plant contributions,
// identification feedback, contribution status and server-side consent.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/florai/contrib-pipeline/internal/api/auth"
	"github.com/florai/contrib-pipeline/internal/api/middleware"
	"github.com/florai/contrib-pipeline/internal/buildinfo"
	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/contribution"
	"github.com/florai/contrib-pipeline/internal/datastore"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
	"github.com/florai/contrib-pipeline/internal/privacy"
	"github.com/florai/contrib-pipeline/internal/securefs"
	"github.com/florai/contrib-pipeline/internal/storage"
)

// Prefix is the mount point of every route in this package.
const Prefix = "/api/v2"

// ContributeBodyLimit caps request bodies on the contribute routes; it
// leaves room for the multipart envelope around a maximum size image.
const ContributeBodyLimit = "11M"

// GetLogger returns the API module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Services bundles the contribution pipeline used by the handlers.
type Services struct {
	Ingestor *contribution.Ingestor
	Feedback *contribution.FeedbackRecorder
	Status   *contribution.StatusAggregator
}

// Controller holds the dependencies of the v2 handlers.
type Controller struct {
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings
	Objects  storage.ObjectStore

	services Services
	staging  *securefs.SecureFS

	authMiddleware echo.MiddlewareFunc
	build          *buildinfo.Context
	startTime      time.Time
	log            logger.Logger
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithAuthMiddleware sets the middleware that authenticates protected routes.
func WithAuthMiddleware(mw echo.MiddlewareFunc) Option {
	return func(c *Controller) { c.authMiddleware = mw }
}

// WithBuildInfo sets the version reported by the health endpoint.
func WithBuildInfo(b *buildinfo.Context) Option {
	return func(c *Controller) { c.build = b }
}

// WithStaging sets the staging area whose disk usage the health endpoint
// reports.
func WithStaging(sfs *securefs.SecureFS) Option {
	return func(c *Controller) { c.staging = sfs }
}

// New creates the controller and registers its routes below Prefix.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings, objects storage.ObjectStore,
	services Services, opts ...Option) (*Controller, error) {
	c := &Controller{
		Group:     e.Group(Prefix),
		DS:        ds,
		Settings:  settings,
		Objects:   objects,
		services:  services,
		startTime: time.Now(),
		log:       GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.authMiddleware == nil {
		return nil, errors.Newf("api controller requires an auth middleware").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if services.Ingestor == nil || services.Feedback == nil || services.Status == nil {
		return nil, errors.Newf("api controller requires the contribution services").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	c.initRoutes()
	return c, nil
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	c.initContributeRoutes()
	c.initConsentRoutes()
	c.initMediaRoutes()
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string                    `json:"error,omitempty"`
	Errors        []contribution.FieldError `json:"errors,omitempty"`
	Details       string                    `json:"details,omitempty"`
	CorrelationID string                    `json:"correlation_id"`
}

// HandleError logs err and writes message with code. Server errors carry
// the scrubbed cause as details in development only.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := &ErrorResponse{
		Error:         message,
		CorrelationID: middleware.CorrelationID(ctx),
	}
	if code >= http.StatusInternalServerError && err != nil && c.Settings.Main.IsDevelopment() {
		resp.Details = privacy.ScrubMessage(err.Error())
	}
	c.logError(ctx, err, message, code)
	return ctx.JSON(code, resp)
}

// validationFailed writes the per-field errors of a rejected request.
func (c *Controller) validationFailed(ctx echo.Context, fields []contribution.FieldError) error {
	return ctx.JSON(http.StatusBadRequest, &ErrorResponse{
		Errors:        fields,
		CorrelationID: middleware.CorrelationID(ctx),
	})
}

func (c *Controller) logError(ctx echo.Context, err error, message string, code int) {
	log := c.log.WithContext(ctx.Request().Context())
	fields := []logger.Field{
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Path()),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", privacy.AnonymizeIP(ctx.RealIP())),
	}
	if err != nil {
		fields = append(fields, logger.String("error", privacy.ScrubMessage(err.Error())))
	}
	if code >= http.StatusInternalServerError {
		log.Error("API error", fields...)
		return
	}
	log.Debug("request rejected", fields...)
}

// requireUser returns the authenticated subject of the request.
func requireUser(ctx echo.Context) (string, bool) {
	return auth.UserID(ctx)
}

func (c *Controller) unauthorized(ctx echo.Context) error {
	return c.HandleError(ctx, nil, auth.MsgUnauthorized, http.StatusUnauthorized)
}
