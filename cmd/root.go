package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/florai/contrib-pipeline/cmd/cleanup"
	"github.com/florai/contrib-pipeline/cmd/consent"
	"github.com/florai/contrib-pipeline/cmd/contribute"
	"github.com/florai/contrib-pipeline/cmd/serve"
	"github.com/florai/contrib-pipeline/cmd/token"
	"github.com/florai/contrib-pipeline/cmd/version"
	"github.com/florai/contrib-pipeline/internal/buildinfo"
	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/logger"
)

// RootCommand creates and returns the root command. settings is filled
// from the config file before any subcommand other than version runs.
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:          "florai",
		Short:        "FlorAI contribution pipeline",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search the standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	versionCmd := version.Command(build)
	rootCmd.AddCommand(
		serve.Command(settings, build),
		consent.Command(settings),
		token.Command(settings),
		contribute.Command(settings, build),
		cleanup.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Skip setup for the version command
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(settings, configFile, debug)
	}

	return rootCmd
}

// initialize loads the configuration and installs the global logger.
func initialize(settings *conf.Settings, configFile string, debug bool) error {
	loaded, err := conf.Load(configFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	*settings = *loaded

	if debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}
	logger.SetGlobal(cl)
	return nil
}
