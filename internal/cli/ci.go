package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"envmatrix/internal/config"
)

func newCICmd(o *options) *cobra.Command {
	var provider, label string

	cmd := &cobra.Command{
		Use:   "ci",
		Short: "Resolve a CI matrix label to environment names",
		Long: `CI prints the environments mapped to a CI matrix label, one per line,
for shell consumption in pipeline definitions:

  envmatrix run $(envmatrix ci --provider github --label 3.10)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := o.resolveRoot()
			if err != nil {
				return err
			}
			f, err := config.Load(o.resolveConfigPath(root))
			if err != nil {
				return err
			}
			envs, err := config.CIEnvs(f, provider, label)
			if err != nil {
				return err
			}
			for _, name := range envs {
				fmt.Fprintln(o.out(), name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "github", "CI provider section to consult")
	cmd.Flags().StringVar(&label, "label", "", "matrix label to resolve")
	_ = cmd.MarkFlagRequired("label")
	return cmd
}
