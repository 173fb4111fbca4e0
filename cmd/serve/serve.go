// Package serve provides the command that runs the contribution API.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/florai/contrib-pipeline/internal/api"
	v2 "github.com/florai/contrib-pipeline/internal/api/v2"
	"github.com/florai/contrib-pipeline/internal/buildinfo"
	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/contribution"
	"github.com/florai/contrib-pipeline/internal/datastore"
	"github.com/florai/contrib-pipeline/internal/diskmanager"
	"github.com/florai/contrib-pipeline/internal/logger"
	"github.com/florai/contrib-pipeline/internal/mqtt"
	"github.com/florai/contrib-pipeline/internal/notification"
	"github.com/florai/contrib-pipeline/internal/observability"
	"github.com/florai/contrib-pipeline/internal/securefs"
	"github.com/florai/contrib-pipeline/internal/storage"
	"github.com/florai/contrib-pipeline/internal/telemetry"
)

// mqttRetryInterval spaces connection attempts to an unreachable broker.
const mqttRetryInterval = 30 * time.Second

// Command creates the serve command.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the contribution API server",
		Long:  "Serve the v2 contribution API until interrupted. SIGINT and SIGTERM trigger a graceful shutdown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				settings.WebServer.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, settings, build)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides webserver.listen")

	return cmd
}

// Run wires every component from settings and serves until ctx is done.
func Run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	log := logger.Global().Module("serve")
	log.Info("starting", logger.String("build", build.String()),
		logger.String("environment", settings.Main.Environment))

	shutdownTelemetry, err := telemetry.Init(&settings.Sentry, settings.Main.Environment, build.GetVersion())
	if err != nil {
		return fmt.Errorf("error initializing telemetry: %w", err)
	}
	defer shutdownTelemetry()

	// Log levels follow config edits without a restart
	conf.Watch(func(s *conf.Settings) {
		logger.Global().SetModuleLevels(s.Logging.ModuleLevels)
	})

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	ds, err := datastore.Open(&settings.Database)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer func() { _ = ds.Close() }()

	objects, err := storage.New(ctx, &settings.Storage)
	if err != nil {
		return fmt.Errorf("error opening object storage: %w", err)
	}
	objects = storage.Instrument(objects, m.Storage)
	defer func() { _ = objects.Close() }()

	staging, err := securefs.New(settings.Storage.StagingDir)
	if err != nil {
		return fmt.Errorf("error opening staging directory: %w", err)
	}
	defer func() { _ = staging.Close() }()

	notifier, err := notification.New(&settings.Notification)
	if err != nil {
		return err
	}

	status := contribution.NewStatusAggregator(ds, settings.Contribution.StatusCacheTTL, m.Contribution)
	ingestOpts := []contribution.IngestorOption{
		contribution.WithMetrics(m.Contribution),
		contribution.WithCacheInvalidator(status),
	}
	if notifier != nil {
		ingestOpts = append(ingestOpts, contribution.WithAlerter(notifier))
	}

	var broker mqtt.Client = mqtt.NoopClient{}
	if settings.MQTT.Enabled {
		broker, err = mqtt.NewClient(mqtt.ConfigFromSettings(&settings.MQTT), m.MQTT)
		if err != nil {
			return err
		}
		ingestOpts = append(ingestOpts, contribution.WithHandOff(broker, settings.MQTT.TopicPrefix))
	}
	defer broker.Disconnect()

	services := v2.Services{
		Ingestor: contribution.NewIngestor(ds, objects, staging, ingestOpts...),
		Feedback: contribution.NewFeedbackRecorder(ds, m.Contribution),
		Status:   status,
	}

	server, err := api.New(settings,
		api.WithDataStore(ds),
		api.WithObjectStore(objects),
		api.WithStaging(staging),
		api.WithServices(services),
		api.WithMetrics(m),
		api.WithBuildInfo(build))
	if err != nil {
		return err
	}

	janitor := diskmanager.NewJanitor(staging,
		settings.Contribution.StagingMaxAge,
		settings.Contribution.StagingSweepInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })
	if settings.MQTT.Enabled {
		g.Go(func() error { return connectBroker(gctx, broker, log) })
	}

	err = g.Wait()
	log.Info("stopped")
	return err
}

// connectBroker keeps trying to reach the broker until the first
// connection succeeds; the client reconnects on its own after that.
func connectBroker(ctx context.Context, broker mqtt.Client, log logger.Logger) error {
	ticker := time.NewTicker(mqttRetryInterval)
	defer ticker.Stop()

	for {
		err := broker.Connect(ctx)
		if err == nil {
			log.Info("connected to training hand-off broker")
			return nil
		}
		log.Warn("hand-off broker unreachable, retrying",
			logger.Error(err), logger.Duration("retry_in", mqttRetryInterval))

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
