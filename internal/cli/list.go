package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List environments and their resolved command lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := o.resolveRoot()
			if err != nil {
				return err
			}
			setup, err := prepare(o, root, o.resolveConfigPath(root), nil)
			if err != nil {
				return err
			}

			defaults := make(map[string]bool, len(setup.resolved.Default))
			for _, name := range setup.resolved.Default {
				defaults[name] = true
			}

			w := o.out()
			for _, e := range setup.resolved.Envs {
				marker := " "
				if defaults[e.Name] {
					marker = "*"
				}
				if e.BasePython != "" {
					fmt.Fprintf(w, "%s %s (%s)\n", marker, e.Name, e.BasePython)
				} else {
					fmt.Fprintf(w, "%s %s\n", marker, e.Name)
				}
				for _, c := range e.Commands {
					if c.IgnoreExit {
						fmt.Fprintf(w, "    - %s (exit ignored)\n", c.Raw)
					} else {
						fmt.Fprintf(w, "    - %s\n", c.Raw)
					}
				}
			}
			fmt.Fprintln(w, "\n* = in default envlist")
			return nil
		},
	}
}
