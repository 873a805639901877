package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"envmatrix/internal/config"
	"envmatrix/internal/logging"
)

// options holds the flag state shared across subcommands.
type options struct {
	configPath  string
	root        string
	verbose     bool
	noColor     bool
	parallel    int
	incremental bool
	rerunFailed bool
	ciProvider  string
	ciLabel     string
	reportPath  string

	// watchMode marks runs dispatched by a watch cycle so their history
	// records carry the watch mode.
	watchMode bool

	log *zap.Logger

	// stdout is swappable for tests.
	stdout *os.File
}

// resolveRoot returns the absolute project root: --root if given, the
// process working directory otherwise.
func (o *options) resolveRoot() (string, error) {
	root := o.root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", exitErrf(ExitInternalError, fmt.Errorf("determining working directory: %w", err))
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", exitErrf(ExitInvalidInvocation, fmt.Errorf("invalid --root %q: %w", root, err))
	}
	return abs, nil
}

// resolveConfigPath returns the config file path: --config if given,
// <root>/envmatrix.yaml otherwise.
func (o *options) resolveConfigPath(root string) string {
	if o.configPath != "" {
		if filepath.IsAbs(o.configPath) {
			return filepath.Clean(o.configPath)
		}
		return filepath.Join(root, o.configPath)
	}
	return filepath.Join(root, config.DefaultFileName)
}

func (o *options) out() *os.File {
	if o.stdout != nil {
		return o.stdout
	}
	return os.Stdout
}

// NewRootCmd builds the envmatrix command tree.
func NewRootCmd() *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:   "envmatrix [envs...] [-- posargs]",
		Short: "envmatrix - environment-matrix command harness",
		Long: `envmatrix runs a declared command list against a matrix of environments.

Given an envmatrix.yaml at the project root it validates the configuration,
runs each selected environment's commands sequentially through the shell,
propagates their exit statuses, and reports a per-environment verdict.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := logging.New(o.verbose)
			if err != nil {
				return exitErrf(ExitInternalError, fmt.Errorf("initializing logger: %w", err))
			}
			o.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if o.log != nil {
				_ = o.log.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Bare invocation behaves like "run".
			return runMatrix(cmd, o, args)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "", "config file (default <root>/"+config.DefaultFileName+")")
	pf.StringVar(&o.root, "root", "", "project root (default current directory)")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&o.noColor, "no-color", false, "disable styled output")

	// The bare invocation behaves like "run", so it takes the run flags too.
	addRunFlags(root, o)

	root.AddCommand(
		newRunCmd(o),
		newListCmd(o),
		newValidateCmd(o),
		newCICmd(o),
		newInitCmd(o),
		newWatchCmd(o),
	)

	return root
}

// Main is the process entrypoint: execute the command tree and translate
// the outcome to a semantic exit code.
func Main(args []string) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	if msg := err.Error(); msg != "" {
		fmt.Fprintln(os.Stderr, "envmatrix:", msg)
	}

	// cobra reports its own flag/argument errors as plain errors before any
	// RunE executes; those are invocation problems, not internal ones.
	code := Classify(err)
	if code == ExitInternalError && isCobraParseError(err) {
		return ExitInvalidInvocation
	}
	return code
}

func isCobraParseError(err error) bool {
	// cobra wraps pflag errors without a dedicated type; a command error
	// raised before PersistentPreRunE has no ExitError attached and no
	// config classification. Treat unknown-flag/arg phrasing as invocation.
	msg := err.Error()
	for _, marker := range []string{
		"unknown flag",
		"unknown shorthand flag",
		"unknown command",
		"invalid argument",
		"requires at least",
		"accepts at most",
		"flag needs an argument",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
