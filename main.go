package main

import (
	"fmt"
	"os"

	"github.com/florai/contrib-pipeline/cmd"
	"github.com/florai/contrib-pipeline/internal/buildinfo"
	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/logger"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=... -X main.commit=..."
var (
	version   = "dev"
	buildDate = buildinfo.UnknownValue
	commit    = buildinfo.UnknownValue
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	if err := conf.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	settings := &conf.Settings{}
	build := buildinfo.NewContext(version, buildDate, commit)

	defer func() { _ = logger.Global().Close() }()

	if err := cmd.RootCommand(settings, build).Execute(); err != nil {
		return 1
	}
	return 0
}
