package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"envmatrix/internal/env"
	"envmatrix/internal/watch"
)

func newWatchCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [envs...] [-- posargs]",
		Short: "Re-run the matrix whenever config or input files change",
		Long: `Watch runs the selected environments once, then keeps watching the
config file and every resolved input file, re-running the matrix after
changes settle. Interrupt (Ctrl-C) to stop; the exit code reflects the last
completed run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, o, args)
		},
	}
	addRunFlags(cmd, o)
	return cmd
}

func runWatch(cmd *cobra.Command, o *options, args []string) error {
	baseCtx := cmd.Context()
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)
	o.watchMode = true

	root, err := o.resolveRoot()
	if err != nil {
		return err
	}
	cfgPath := o.resolveConfigPath(root)

	_, posargs := splitPosArgs(cmd, args)
	inputPaths, err := watchPaths(o, root, cfgPath, posargs)
	if err != nil {
		return err
	}

	w, err := watch.New(cfgPath, inputPaths, nil, o.log)
	if err != nil {
		return exitErrf(ExitInternalError, fmt.Errorf("starting watcher: %w", err))
	}

	var lastErr error
	cycle := func(runCtx context.Context) {
		err := runMatrix(cmd, o, args)
		lastErr = err
		if err != nil && !errors.Is(err, context.Canceled) {
			o.log.Info("watch cycle finished", zap.Error(err))
		}

		// Globs can match files created since the last cycle, and a config
		// edit can change the input declarations; refresh the watch set so
		// the next change is seen.
		paths, err := watchPaths(o, root, cfgPath, posargs)
		if err != nil {
			o.log.Warn("failed to refresh watch set", zap.Error(err))
			return
		}
		if err := w.Update(cfgPath, paths); err != nil {
			o.log.Warn("failed to refresh watch set", zap.Error(err))
		}
	}
	w.SetTrigger(cycle)

	// First run happens immediately; the watcher only handles re-runs.
	cycle(ctx)

	fmt.Fprintln(o.out(), "watching for changes (interrupt to stop)")
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return exitErrf(ExitInternalError, err)
	}
	return lastErr
}

// watchPaths resolves the current config's input patterns for every declared
// environment into the set of files the watcher should care about.
func watchPaths(o *options, root, cfgPath string, posargs []string) ([]string, error) {
	setup, err := prepare(o, root, cfgPath, posargs)
	if err != nil {
		return nil, err
	}

	resolver := env.NewInputResolver(root)
	pathSet := make(map[string]struct{})
	for _, e := range setup.resolved.Envs {
		set, err := resolver.Resolve(e.Inputs)
		if err != nil {
			return nil, err
		}
		for _, p := range set.Paths() {
			pathSet[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(pathSet))
	for p := range pathSet {
		out = append(out, p)
	}
	return out, nil
}
