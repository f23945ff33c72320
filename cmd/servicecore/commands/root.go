package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/servicecore/pkg/bootstrap"
	"github.com/openfroyo/servicecore/pkg/config"
	"github.com/openfroyo/servicecore/pkg/registry"
	"github.com/openfroyo/servicecore/pkg/service"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath       string
	requirementsPath string
	jsonOutput       bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return newRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "servicecore",
		Short: "Service registry and lifecycle tooling",
		Long: `servicecore inspects and runs service graphs declared in manifests.

A services manifest lists services, their implementations and dependencies.
A requirements manifest lists the packages and environment variables each
service needs. Manifests may be YAML, JSON or CUE.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "services.yaml", "services manifest path")
	rootCmd.PersistentFlags().StringVarP(&flags.requirementsPath, "requirements", "r", "", "requirements manifest path")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand(flags))
	rootCmd.AddCommand(newGraphCommand(flags))
	rootCmd.AddCommand(newDepsCommand(flags))
	rootCmd.AddCommand(newServeCommand(flags))

	return rootCmd
}

// placeholderCatalog binds every implementation named in manifest to a generic
// service, so graphs can be inspected and run without the real constructors.
func placeholderCatalog(manifest *config.ServicesManifest) *bootstrap.Catalog {
	catalog := bootstrap.NewCatalog()
	for _, entry := range manifest.Services {
		if _, ok := catalog.Lookup(entry.Implementation); ok {
			continue
		}
		_ = catalog.Add(entry.Implementation, func(_ context.Context, deps bootstrap.Deps, cfg registry.ServiceConfig) (any, error) {
			return service.NewBase(cfg.Name, cfg.Dependencies, cfg.Config, service.WithLogger(deps.Logger)), nil
		})
	}
	return catalog
}

func loadServices(flags *globalFlags) (*config.ServicesManifest, error) {
	manifest, err := config.LoadServicesManifest(flags.configPath)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("path", flags.configPath).
		Int("services", len(manifest.Services)).
		Msg("Services manifest loaded")
	return manifest, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
