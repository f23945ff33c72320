package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/servicecore/pkg/config"
	"github.com/openfroyo/servicecore/pkg/depcheck"
	"github.com/openfroyo/servicecore/pkg/imports"
)

type depsOutput struct {
	*depcheck.ValidationResult
	Instructions string `json:"instructions,omitempty"`
}

func newDepsCommand(flags *globalFlags) *cobra.Command {
	var (
		envFiles []string
		plugins  []string
	)

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Check the packages and environment variables each service needs",
		Long: `Check a requirements manifest against the current environment.

Packages are capabilities known to the import manager. WASM plugins can be
made available with --plugin name=path.wasm. Environment variables are read
from the process and from any --env-file.

Missing required items produce installation instructions and a non-zero exit.`,
		Example: `  servicecore deps -r requirements.yaml
  servicecore deps -r requirements.yaml --env-file .env --plugin vector_store=plugins/qdrant.wasm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.requirementsPath == "" {
				return fmt.Errorf("--requirements is required")
			}
			manifest, err := config.LoadRequirementsManifest(flags.requirementsPath)
			if err != nil {
				return err
			}

			importer := imports.NewManager(imports.WithLogger(log.Logger))
			if err := registerPlugins(importer, plugins); err != nil {
				return err
			}

			opts := []depcheck.Option{depcheck.WithLogger(log.Logger)}
			if len(envFiles) > 0 {
				opts = append(opts, depcheck.WithDotEnv(envFiles...))
			}
			validator, err := depcheck.New(manifest, importer, opts...)
			if err != nil {
				return err
			}

			res := validator.ValidateAll(cmd.Context())
			out := depsOutput{ValidationResult: res}
			if !res.IsValid {
				out.Instructions = depcheck.GetInstallationInstructions(res.MissingRequired)
			}

			w := cmd.OutOrStdout()
			if flags.jsonOutput {
				if err := printJSON(w, out); err != nil {
					return err
				}
			} else {
				for _, svc := range res.Services {
					state := "ok"
					if !svc.Valid {
						state = "missing requirements"
					}
					fmt.Fprintf(w, "%-24s %s\n", svc.Service, state)
				}
				for _, warning := range res.Warnings {
					fmt.Fprintf(w, "Warning: %s\n", warning)
				}
				if out.Instructions != "" {
					fmt.Fprintf(w, "\n%s", out.Instructions)
				}
			}

			if !res.IsValid {
				return fmt.Errorf("%d required dependency item(s) missing", len(res.MissingRequired))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&envFiles, "env-file", nil, ".env files to consult")
	cmd.Flags().StringSliceVar(&plugins, "plugin", nil, "WASM plugin as name=path.wasm")

	return cmd
}

func registerPlugins(importer *imports.Manager, plugins []string) error {
	for _, arg := range plugins {
		name, path, ok := strings.Cut(arg, "=")
		if !ok || name == "" || path == "" {
			return fmt.Errorf("invalid plugin %q, want name=path.wasm", arg)
		}
		if err := importer.RegisterWASMPlugin(name, path); err != nil {
			return err
		}
	}
	return nil
}
