package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/servicecore/pkg/bootstrap"
	"github.com/openfroyo/servicecore/pkg/imports"
	"github.com/openfroyo/servicecore/pkg/introspect"
	"github.com/openfroyo/servicecore/pkg/lifecycle"
	"github.com/openfroyo/servicecore/pkg/telemetry"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var (
		listen          string
		envFiles        []string
		plugins         []string
		parallel        int
		shutdownTimeout time.Duration
		watch           bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the services in the manifest and serve introspection endpoints",
		Long: `Bootstrap the services manifest with placeholder implementations, start
every service in dependency order and serve /healthz, /services, /graph,
/dependencies and /metrics until interrupted. Services are then shut down in
reverse order.`,
		Example: `  servicecore serve -c services.yaml -r requirements.yaml --listen :8080
  servicecore serve --parallel 4 --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if len(envFiles) > 0 {
				if err := godotenv.Load(envFiles...); err != nil {
					return fmt.Errorf("failed to load env files: %w", err)
				}
			}

			manifest, err := loadServices(flags)
			if err != nil {
				return err
			}

			telCfg, err := telemetry.ConfigFromEnv(os.LookupEnv)
			if err != nil {
				return err
			}
			telCfg.ServiceVersion = cmd.Root().Version
			tel, err := telemetry.NewTelemetry(ctx, telCfg)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()

			logger := tel.Logger
			importer := imports.NewManager(
				imports.WithLogger(logger),
				imports.WithTracer(tel.Tracer),
				imports.WithMetrics(tel.Metrics),
				imports.WithEvents(tel.Events),
			)
			if err := registerPlugins(importer, plugins); err != nil {
				return err
			}

			app, err := bootstrap.Bootstrap(ctx, bootstrap.Options{
				Services:         manifest,
				ServicesPath:     flags.configPath,
				RequirementsPath: flags.requirementsPath,
				Catalog:          placeholderCatalog(manifest),
				Importer:         importer,
				Telemetry:        tel,
				Logger:           &logger,
				DriverOptions:    driverOptions(parallel, shutdownTimeout),
			})
			if err != nil {
				return err
			}

			report, err := app.Start(ctx)
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout*time.Duration(max(app.Registry.Len(), 1)))
				defer cancel()
				for _, stopErr := range app.Stop(stopCtx) {
					log.Warn().Err(stopErr).Msg("Shutdown problem")
				}
			}()
			if err != nil {
				return err
			}
			log.Info().
				Strs("order", report.Order).
				Dur("duration", report.Duration).
				Msg("All services started")

			if watch {
				if err := app.Watch(ctx, 0, nil); err != nil {
					log.Warn().Err(err).Msg("Manifest watch disabled")
				}
			}

			srv := &http.Server{
				Addr: listen,
				Handler: introspect.NewHandler(app.Registry,
					introspect.WithMetrics(tel.Metrics),
					introspect.WithLogger(logger),
					introspect.WithDependencyReport(app.Validation),
				),
				ReadHeaderTimeout: 5 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				log.Info().Str("listen", listen).Msg("Serving introspection endpoints")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-ctx.Done():
				log.Info().Msg("Received interrupt signal, shutting down...")
			case err := <-serveErr:
				if err != nil {
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":8080", "introspection listen address")
	cmd.Flags().StringSliceVar(&envFiles, "env-file", nil, ".env files to load into the environment")
	cmd.Flags().StringSliceVar(&plugins, "plugin", nil, "WASM plugin as name=path.wasm")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "initialize independent services concurrently, at most N at a time (0 = sequential, -1 = unbounded)")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", lifecycle.DefaultShutdownTimeout, "per-service shutdown deadline")
	cmd.Flags().BoolVar(&watch, "watch", false, "revalidate dependencies when the requirements manifest changes")

	return cmd
}

func driverOptions(parallel int, shutdownTimeout time.Duration) []lifecycle.Option {
	opts := []lifecycle.Option{lifecycle.WithShutdownTimeout(shutdownTimeout)}
	switch {
	case parallel < 0:
		opts = append(opts, lifecycle.WithParallel(0))
	case parallel > 0:
		opts = append(opts, lifecycle.WithParallel(parallel))
	}
	return opts
}
