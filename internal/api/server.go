package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/net/netutil"

	"github.com/florai/contrib-pipeline/internal/api/auth"
	mw "github.com/florai/contrib-pipeline/internal/api/middleware"
	v2 "github.com/florai/contrib-pipeline/internal/api/v2"
	"github.com/florai/contrib-pipeline/internal/buildinfo"
	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/datastore"
	"github.com/florai/contrib-pipeline/internal/errors"
	"github.com/florai/contrib-pipeline/internal/logger"
	"github.com/florai/contrib-pipeline/internal/observability"
	"github.com/florai/contrib-pipeline/internal/securefs"
	"github.com/florai/contrib-pipeline/internal/storage"
)

// Server is the HTTP server of the contribution API. It owns the echo
// instance, the middleware stack and the v2 routes.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	dataStore datastore.Interface
	objects   storage.ObjectStore
	staging   *securefs.SecureFS
	services  v2.Services
	metrics   *observability.Metrics
	build     *buildinfo.Context

	apiController *v2.Controller
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithDataStore sets the metadata store.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) { s.dataStore = ds }
}

// WithObjectStore sets the object store of contributed images.
func WithObjectStore(o storage.ObjectStore) ServerOption {
	return func(s *Server) { s.objects = o }
}

// WithStaging sets the staging area reported by the health endpoint.
func WithStaging(sfs *securefs.SecureFS) ServerOption {
	return func(s *Server) { s.staging = sfs }
}

// WithServices sets the contribution services.
func WithServices(svc v2.Services) ServerOption {
	return func(s *Server) { s.services = svc }
}

// WithMetrics enables request metrics and the metrics endpoint.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithBuildInfo sets the version reported by the API.
func WithBuildInfo(b *buildinfo.Context) ServerOption {
	return func(s *Server) { s.build = b }
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:   config,
		settings: settings,
		log:      GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dataStore == nil || s.objects == nil {
		return nil, errors.Newf("server requires a datastore and an object store").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Logger = logger.NewEchoLoggerAdapter(s.log)
	s.echo.IPExtractor = echo.ExtractIPFromXFFHeader()

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}

	s.log.Info("HTTP server initialized",
		logger.String("listen", config.Listen),
		logger.Int("max_connections", config.MaxConnections),
		logger.Bool("rate_limit", config.RateLimitEnabled))
	return s, nil
}

// isOperationalPath reports routes that stay outside request logging and
// rate limiting.
func (s *Server) isOperationalPath(c echo.Context) bool {
	p := c.Request().URL.Path
	return p == v2.Prefix+"/health" || (s.config.MetricsEnabled && p == s.config.MetricsPath)
}

// setupMiddleware configures the echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewCorrelationID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log.Module("http"), s.isOperationalPath))
	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}

	security := mw.DefaultSecurityConfig()
	if len(s.config.AllowedOrigins) > 0 {
		security.AllowedOrigins = s.config.AllowedOrigins
	}
	s.echo.Use(mw.NewCORS(security))
	s.echo.Use(mw.NewSecureHeaders(security))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))

	if s.config.RateLimitEnabled {
		rl := s.config.RateLimit
		rl.Skipper = s.isOperationalPath
		rl.OnLimit = func(echo.Context) {
			if s.metrics != nil {
				s.metrics.HTTP.IncRateLimited()
			}
		}
		s.echo.Use(mw.NewRateLimiter(rl))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() error {
	var authOpts []auth.Option
	if s.metrics != nil {
		authOpts = append(authOpts, auth.WithFailureHook(s.metrics.HTTP.IncAuthFailure))
	}
	authn, err := auth.New(&s.settings.Auth, authOpts...)
	if err != nil {
		return err
	}

	s.apiController, err = v2.New(s.echo, s.dataStore, s.settings, s.objects, s.services,
		v2.WithAuthMiddleware(authn.Middleware()),
		v2.WithBuildInfo(s.build),
		v2.WithStaging(s.staging))
	if err != nil {
		return err
	}

	if s.metrics != nil && s.config.MetricsEnabled {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics.Handler()))
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.echo.Listener = ln
	s.log.Info("HTTP server listening", logger.String("address", ln.Addr().String()))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.echo.Start(s.config.Listen)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.New(err).
				Component("api").
				Category(errors.CategoryNetwork).
				Context("operation", "serve").
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	if err := s.Shutdown(); err != nil {
		return err
	}
	<-serveErr
	return nil
}

// listen opens the TCP listener, capped at MaxConnections concurrent
// connections when configured.
func (s *Server) listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return nil, errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("operation", "listen").
			Context("address", s.config.Listen).
			Build()
	}
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}
	return ln, nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	start := time.Now()
	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return errors.New(err).
			Component("api").
			Category(errors.CategorySystem).
			Context("operation", "shutdown").
			Build()
	}
	s.log.Info("server shutdown complete", logger.Duration("took", time.Since(start)))
	return nil
}

// Addr returns the bound address once the server is listening.
func (s *Server) Addr() string {
	if addr := s.echo.ListenerAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// APIController returns the v2 API controller.
func (s *Server) APIController() *v2.Controller {
	return s.apiController
}

// BaseURL returns the http URL of the v2 API of a listening server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return ""
	}
	if strings.HasPrefix(addr, "[::]") || strings.HasPrefix(addr, "0.0.0.0") {
		_, port, _ := net.SplitHostPort(addr)
		addr = net.JoinHostPort("localhost", port)
	}
	return "http://" + addr + v2.Prefix
}
