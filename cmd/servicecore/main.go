package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/servicecore/cmd/servicecore/commands"
	"github.com/openfroyo/servicecore/pkg/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		stop()
		os.Exit(1)
	}
}

// setupLogging configures the global logger from SERVICECORE_LOG_LEVEL and
// SERVICECORE_LOG_FORMAT.
func setupLogging() {
	cfg, err := telemetry.ConfigFromEnv(os.LookupEnv)
	if err != nil {
		log.Logger = telemetry.NewLogger(telemetry.DefaultConfig().Logging, os.Stderr)
		log.Warn().Err(err).Msg("Ignoring telemetry environment")
		return
	}
	log.Logger = telemetry.NewLogger(cfg.Logging, os.Stderr)
}
