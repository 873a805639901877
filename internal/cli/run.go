package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"envmatrix/internal/config"
	"envmatrix/internal/env"
	"envmatrix/internal/history"
	"envmatrix/internal/matrix"
	"envmatrix/internal/report"
)

func newRunCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [envs...] [-- posargs]",
		Short: "Run the selected environments",
		Long: `Run executes each selected environment's command list sequentially,
stopping an environment at its first failing command. Environments without
explicit selection come from envlist. Arguments after "--" substitute
{posargs} in commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatrix(cmd, o, args)
		},
	}
	addRunFlags(cmd, o)
	return cmd
}

func addRunFlags(cmd *cobra.Command, o *options) {
	fl := cmd.Flags()
	fl.IntVarP(&o.parallel, "parallel", "p", 0, "run up to N independent environments concurrently (0 = serial)")
	fl.BoolVar(&o.incremental, "incremental", false, "skip environments whose fingerprint matches a previous successful run")
	fl.BoolVar(&o.rerunFailed, "rerun-failed", false, "select the environments that failed in the previous run")
	fl.StringVar(&o.ciProvider, "ci-provider", "github", "CI provider for --ci-label lookup")
	fl.StringVar(&o.ciLabel, "ci-label", "", "select environments mapped to this CI matrix label")
	fl.StringVar(&o.reportPath, "report", "", "write a canonical JSON report to this file")
}

// splitPosArgs separates environment names from {posargs} using the "--"
// marker position cobra records.
func splitPosArgs(cmd *cobra.Command, args []string) (envs, posargs []string) {
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		return args[:dash], args[dash:]
	}
	return args, nil
}

// runMatrix is the full pipeline: load, validate, resolve, select, execute,
// record, report.
func runMatrix(cmd *cobra.Command, o *options, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	envArgs, posargs := splitPosArgs(cmd, args)

	root, err := o.resolveRoot()
	if err != nil {
		return err
	}
	cfgPath := o.resolveConfigPath(root)

	setup, err := prepare(o, root, cfgPath, posargs)
	if err != nil {
		return err
	}

	selection, previousRunID, err := selectEnvs(o, setup, envArgs)
	if err != nil {
		return err
	}

	sub, err := subgraph(setup.graph, setup.resolved, selection)
	if err != nil {
		return err
	}

	runner := env.NewRunner(root, setup.hostEnv, env.NewFileCache(filepath.Join(root, ".envmatrix", "cache")), o.log)
	runner.Incremental = o.incremental
	if o.incremental {
		// History fingerprints back the up-to-date decision when the result
		// cache is cold (wiped cache, fresh checkout with committed history).
		known, err := history.Fingerprints(setup.store, setup.graph.Hash().String())
		if err != nil {
			o.log.Warn("failed to read fingerprints from run history", zap.Error(err))
		} else {
			runner.Known = make(map[string]env.Fingerprint, len(known))
			for name, fp := range known {
				runner.Known[name] = env.Fingerprint(fp)
			}
		}
	}

	exec, err := matrix.NewExecutor(sub, runner)
	if err != nil {
		return exitErrf(ExitInternalError, err)
	}

	start := time.Now().UTC()
	var res *matrix.Result
	if o.parallel > 0 {
		res, err = exec.RunParallel(ctx, o.parallel)
	} else {
		res, err = exec.RunSerial(ctx)
	}
	if err != nil {
		return exitErrf(ExitInternalError, err)
	}

	recordRun(o, setup, start, previousRunID, res)

	if o.reportPath != "" {
		path := o.reportPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		if err := report.Build(res).WriteFile(path); err != nil {
			return exitErrf(ExitInternalError, fmt.Errorf("writing report: %w", err))
		}
	}

	opts := report.SummaryOptions{Plain: o.noColor}
	if detail := report.FailureDetail(res, opts); detail != "" {
		fmt.Fprint(o.out(), detail)
	}
	fmt.Fprint(o.out(), report.Summary(res, sub.TopologicalOrder(), opts))

	if res.Failed() {
		failed := res.FailedEnvs()
		return exitErrf(ExitEnvFailure, fmt.Errorf("%d environment(s) failed: %s", len(failed), strings.Join(failed, ", ")))
	}
	return nil
}

// runSetup bundles everything derived from the config file.
type runSetup struct {
	root     string
	file     *config.File
	resolved *config.Resolved
	graph    *matrix.Graph
	hostEnv  map[string]string
	store    *history.Store
}

func prepare(o *options, root, cfgPath string, posargs []string) (*runSetup, error) {
	f, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	hostEnv, err := config.HostEnv(root)
	if err != nil {
		return nil, err
	}

	resolver := &config.Resolver{Root: root, PosArgs: posargs}
	resolved, err := resolver.Resolve(f)
	if err != nil {
		return nil, err
	}

	g, err := matrix.NewGraph(resolved.Envs, resolved.Edges)
	if err != nil {
		return nil, err
	}

	store, err := history.NewStore(root)
	if err != nil {
		return nil, exitErrf(ExitInternalError, err)
	}

	return &runSetup{
		root:     root,
		file:     f,
		resolved: resolved,
		graph:    g,
		hostEnv:  hostEnv,
		store:    store,
	}, nil
}

// selectEnvs determines which environments to run: explicit arguments, a CI
// label mapping, the previous run's failures, or envlist.
func selectEnvs(o *options, setup *runSetup, envArgs []string) (selection []string, previousRunID string, err error) {
	switch {
	case o.rerunFailed:
		if len(envArgs) > 0 || o.ciLabel != "" {
			return nil, "", exitErrf(ExitInvalidInvocation, fmt.Errorf("--rerun-failed cannot be combined with an explicit selection"))
		}
		selection, previousRunID, err = history.RerunSelection(setup.store, setup.graph.Hash().String())
		if err != nil {
			return nil, "", exitErrf(ExitConfigError, err)
		}
		return selection, previousRunID, nil

	case o.ciLabel != "":
		if len(envArgs) > 0 {
			return nil, "", exitErrf(ExitInvalidInvocation, fmt.Errorf("--ci-label cannot be combined with environment arguments"))
		}
		selection, err = config.CIEnvs(setup.file, o.ciProvider, o.ciLabel)
		if err != nil {
			return nil, "", err
		}
		return selection, "", nil

	case len(envArgs) > 0:
		return envArgs, "", nil

	default:
		return setup.resolved.Default, "", nil
	}
}

// subgraph builds the induced matrix over the selection closure.
func subgraph(g *matrix.Graph, resolved *config.Resolved, selection []string) (*matrix.Graph, error) {
	closure, err := g.SelectionClosure(selection)
	if err != nil {
		return nil, err
	}

	inClosure := make(map[string]bool, len(closure))
	for _, name := range closure {
		inClosure[name] = true
	}

	var envs []env.Environment
	for _, e := range resolved.Envs {
		if inClosure[e.Name] {
			envs = append(envs, e)
		}
	}
	var edges []matrix.Edge
	for _, e := range g.Edges() {
		if inClosure[e.From] && inClosure[e.To] {
			edges = append(edges, e)
		}
	}
	return matrix.NewGraph(envs, edges)
}

// recordRun persists the run record. History failures are logged, never
// fatal: the run's verdict must not depend on bookkeeping.
func recordRun(o *options, setup *runSetup, start time.Time, previousRunID string, res *matrix.Result) {
	outcomes := make(map[string]history.Outcome, len(res.FinalState))
	for name, st := range res.FinalState {
		outcome := history.Outcome{Status: string(st)}
		if r := res.Results[name]; r != nil {
			outcome.ExitCode = r.ExitCode
			outcome.Fingerprint = r.Fingerprint.String()
		}
		outcomes[name] = outcome
	}

	mode := history.ModeDefault
	switch {
	case o.watchMode:
		mode = history.ModeWatch
	case o.rerunFailed:
		mode = history.ModeRerunFailed
	case o.incremental:
		mode = history.ModeIncremental
	}

	run := history.Run{
		RunID:      setup.store.NewRunID(),
		MatrixHash: setup.graph.Hash().String(),
		StartTime:  start,
		Mode:       mode,
		Envs:       outcomes,
	}
	if previousRunID != "" {
		run.PreviousRunID = &previousRunID
	}

	if err := setup.store.SaveRun(run); err != nil {
		o.log.Warn("failed to record run history", zap.Error(err))
	}
}
