package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without running anything",
		Long: `Validate parses the config file, resolves every environment to its
effective command list, and validates the dependency structure. It exits 0
when the configuration is consistent and 3 otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := o.resolveRoot()
			if err != nil {
				return err
			}
			setup, err := prepare(o, root, o.resolveConfigPath(root), nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(o.out(), "configuration OK: %d environment(s), %d dependency edge(s)\n",
				len(setup.resolved.Envs), len(setup.graph.Edges()))
			return nil
		},
	}
}
