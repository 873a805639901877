package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"envmatrix/internal/config"
)

// starterConfig is the scaffold written by "envmatrix init": a three-target
// interpreter matrix running format, import-order, and complexity checks
// plus a coverage-instrumented test suite.
const starterConfig = `envlist: [py38, py39, py310]

defaults:
  passenv: [HOME, PATH]
  setenv:
    PIP_DISABLE_PIP_VERSION_CHECK: "1"
  inputs: ["src/**.py", "tests/**.py", "setup.cfg"]
  commands:
    - black --check .
    - isort --check-only .
    - flake8 --max-complexity 10
    - coverage run -m pytest {posargs}
    - coverage report

environments:
  py38:
    basepython: python3.8
  py39:
    basepython: python3.9
  py310:
    basepython: python3.10

ci:
  github:
    "3.8": [py38]
    "3.9": [py39]
    "3.10": [py310]
`

func newInitCmd(o *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter " + config.DefaultFileName,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := o.resolveRoot()
			if err != nil {
				return err
			}
			path := o.resolveConfigPath(root)

			if _, err := os.Stat(path); err == nil && !force {
				return exitErrf(ExitConfigError, fmt.Errorf("%s already exists (use --force to overwrite)", path))
			}

			if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
				return exitErrf(ExitInternalError, fmt.Errorf("writing %s: %w", path, err))
			}
			fmt.Fprintf(o.out(), "wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
