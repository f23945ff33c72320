package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/servicecore/pkg/bootstrap"
	"github.com/openfroyo/servicecore/pkg/policy"
)

type validateOutput struct {
	Valid    bool           `json:"valid"`
	Services []string       `json:"services"`
	Skipped  []string       `json:"skipped,omitempty"`
	Order    []string       `json:"order,omitempty"`
	Problems []string       `json:"problems,omitempty"`
	Policy   *policy.Result `json:"policy,omitempty"`
}

func newValidateCommand(flags *globalFlags) *cobra.Command {
	var policyPaths []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the services manifest and its dependency graph",
		Long: `Validate the services manifest without starting anything.

This command checks:
  - manifest syntax and schema conformance
  - "when" conditions
  - missing dependencies and cycles across the whole graph
  - architecture policies (OPA/rego)

Every problem is reported in one pass. The exit code is non-zero when any
problem is found.`,
		Example: `  # Validate services.yaml in the current directory
  servicecore validate

  # Validate with extra policies
  servicecore validate -c deploy/services.cue --policy ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := validateOutput{}

			manifest, err := loadServices(flags)
			if err != nil {
				out.Problems = problemLines(err)
				return finishValidate(cmd, flags, out)
			}

			logger := log.Logger
			opts := bootstrap.Options{
				Services: manifest,
				Catalog:  placeholderCatalog(manifest),
				Logger:   &logger,
			}
			if len(policyPaths) > 0 {
				engine, err := policy.NewEngine(logger)
				if err != nil {
					return err
				}
				if err := engine.LoadPolicies(ctx, policyPaths); err != nil {
					return err
				}
				opts.Policy = engine
			}

			app, err := bootstrap.Bootstrap(ctx, opts)
			out.Services = app.Registry.ListServices()
			out.Skipped = app.Skipped
			out.Policy = app.PolicyResult
			if err != nil {
				out.Problems = problemLines(err)
			} else if order, orderErr := app.Registry.StartupOrder(); orderErr == nil {
				out.Order = order
			}
			return finishValidate(cmd, flags, out)
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "additional policy files or directories")

	return cmd
}

func finishValidate(cmd *cobra.Command, flags *globalFlags, out validateOutput) error {
	out.Valid = len(out.Problems) == 0
	if out.Services == nil {
		out.Services = []string{}
	}

	w := cmd.OutOrStdout()
	if flags.jsonOutput {
		if err := printJSON(w, out); err != nil {
			return err
		}
	} else {
		if out.Valid {
			fmt.Fprintf(w, "OK: %d service(s) valid\n", len(out.Services))
			fmt.Fprintf(w, "Startup order: %s\n", strings.Join(out.Order, " -> "))
		} else {
			fmt.Fprintf(w, "FAILED: %d problem(s)\n", len(out.Problems))
			for _, p := range out.Problems {
				fmt.Fprintf(w, "  - %s\n", strings.ReplaceAll(p, "\n", "\n    "))
			}
		}
		for _, name := range out.Skipped {
			fmt.Fprintf(w, "Skipped: %s\n", name)
		}
		if out.Policy != nil {
			for _, warn := range out.Policy.Warnings {
				fmt.Fprintf(w, "Warning [%s]: %s\n", warn.Policy, warn.Message)
			}
		}
	}

	if !out.Valid {
		return fmt.Errorf("validation failed with %d problem(s)", len(out.Problems))
	}
	return nil
}

// problemLines flattens a bootstrap error into one entry per problem.
func problemLines(err error) []string {
	var bErr *bootstrap.Error
	if !errors.As(err, &bErr) {
		return []string{err.Error()}
	}
	lines := make([]string, 0, len(bErr.Problems))
	for _, p := range bErr.Problems {
		lines = append(lines, p.Error())
	}
	return lines
}
