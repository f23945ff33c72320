package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/servicecore/pkg/registry"
)

type graphOutput struct {
	Order    []string   `json:"order"`
	Levels   [][]string `json:"levels"`
	Shutdown []string   `json:"shutdown"`
}

func newGraphCommand(flags *globalFlags) *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the startup plan of the services manifest",
		Example: `  # Startup order and parallel levels
  servicecore graph

  # Render with graphviz
  servicecore graph --dot | dot -Tsvg > services.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manifest, err := loadServices(flags)
			if err != nil {
				return err
			}

			g := registry.NewGraph()
			for _, entry := range manifest.Services {
				g.AddNode(entry.Name, entry.Dependencies...)
			}

			w := cmd.OutOrStdout()
			if dot {
				_, err := fmt.Fprint(w, g.ToDOT(nil))
				return err
			}

			order, err := g.TopologicalOrder()
			if err != nil {
				return err
			}
			levels, err := g.Levels()
			if err != nil {
				return err
			}
			out := graphOutput{Order: order, Levels: levels, Shutdown: registry.Reverse(order)}

			if flags.jsonOutput {
				return printJSON(w, out)
			}
			fmt.Fprintf(w, "Startup:  %s\n", strings.Join(out.Order, " -> "))
			fmt.Fprintf(w, "Shutdown: %s\n", strings.Join(out.Shutdown, " -> "))
			for i, level := range out.Levels {
				fmt.Fprintf(w, "Level %d: %s\n", i, strings.Join(level, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the graph in Graphviz DOT format")

	return cmd
}
