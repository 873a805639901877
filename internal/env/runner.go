package env

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// StepResult captures the outcome of a single command step.
type StepResult struct {
	// Index is the step's position in the environment's command list.
	Index int

	// Command is the command string that was executed.
	Command string

	// Stdout and Stderr are the captured streams.
	Stdout []byte
	Stderr []byte

	// ExitCode is the process exit code; 0 is success.
	ExitCode int

	// Ignored reports that a non-zero exit was tolerated because the step
	// was declared with a leading "-".
	Ignored bool

	// Duration is wall-clock execution time. Zero for replayed results.
	Duration time.Duration
}

// Result is the outcome of running one environment.
type Result struct {
	// Name is the environment name.
	Name string

	// Fingerprint is the environment's computed identity for this run.
	Fingerprint Fingerprint

	// Steps holds the results of the steps that actually ran, in order.
	// On failure the list ends with the failing step; later steps never ran.
	Steps []StepResult

	// ExitCode is the environment's overall status: 0 on success, otherwise
	// the exit code of the first failing non-ignored step.
	ExitCode int

	// UpToDate reports that the result was replayed from a prior successful
	// run with an identical fingerprint instead of executing.
	UpToDate bool

	// Duration is total wall-clock time. Zero when UpToDate.
	Duration time.Duration
}

// Failed reports whether the environment run failed.
func (r *Result) Failed() bool { return r != nil && r.ExitCode != 0 }

// StepRunner invokes one command via the shell with an allowlist-built
// process environment.
//
// Only variables named in the environment's setenv and passenv sections are
// visible to the command; the host environment is never inherited wholesale.
// ENVMATRIX_ENV and ENVMATRIX_BASEPYTHON are always exported.
type StepRunner struct {
	// Root is the working directory commands run in.
	Root string

	// BaseEnv is the snapshot of host variables (plus any .env file) that
	// passenv names are resolved against.
	BaseEnv map[string]string
}

// NewStepRunner creates a StepRunner executing in root against the given
// host variable snapshot.
func NewStepRunner(root string, baseEnv map[string]string) *StepRunner {
	return &StepRunner{Root: root, BaseEnv: baseEnv}
}

// Run executes a single step.
//
// The command string is interpreted by "sh -c". The child is placed in its
// own process group so that context cancellation kills the entire tree, not
// just the shell.
func (s *StepRunner) Run(ctx context.Context, e Environment, index int, cmd Command) (*StepResult, error) {
	if cmd.Raw == "" {
		return nil, fmt.Errorf("empty command at step %d of %q", index, e.Name)
	}

	proc := exec.CommandContext(ctx, "sh", "-c", cmd.Raw)
	proc.Dir = s.Root
	proc.Env = s.buildEnv(e)
	proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	start := time.Now()
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("starting %q: %w", cmd.Raw, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- proc.Wait()
	}()

	var waitErr error
	select {
	case <-ctx.Done():
		if proc.Process != nil {
			// Negative pid addresses the whole process group.
			_ = syscall.Kill(-proc.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("step cancelled: %w", ctx.Err())
	case waitErr = <-done:
	}

	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("executing %q: %w", cmd.Raw, waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	return &StepResult{
		Index:    index,
		Command:  cmd.Raw,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Ignored:  cmd.IgnoreExit && exitCode != 0,
		Duration: time.Since(start),
	}, nil
}

// buildEnv constructs the step's process environment.
//
// Allowlist semantics: start empty, add passenv values found in the base
// snapshot, overlay setenv, then the fixed envmatrix exports. Keys are
// emitted sorted so the child sees a stable environment block.
func (s *StepRunner) buildEnv(e Environment) []string {
	merged := make(map[string]string, len(e.SetEnv)+len(e.PassEnv)+2)
	for _, name := range e.PassEnv {
		if v, ok := s.BaseEnv[name]; ok {
			merged[name] = v
		}
	}
	for k, v := range e.SetEnv {
		merged[k] = v
	}
	merged["ENVMATRIX_ENV"] = e.Name
	if e.BasePython != "" {
		merged[basePythonVar] = e.BasePython
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// Runner orchestrates a full environment run with optional up-to-date
// replay.
//
// Flow:
//  1. Resolve inputs and compute the fingerprint.
//  2. In incremental mode, probe the result cache; a hit replays the prior
//     successful run without executing anything.
//  3. Otherwise run steps in order, stopping at the first failing
//     non-ignored step.
//  4. Successful results are cached; failures never are, so failed
//     environments always re-delegate to the tools on the next run.
type Runner struct {
	Root        string
	Steps       *StepRunner
	Resolver    *InputResolver
	Hasher      *Hasher
	Cache       ResultCache
	Incremental bool
	Log         *zap.Logger

	// Known maps environment names to fingerprints observed on previous
	// successful runs. When the result cache has no entry, a match against
	// Known still counts as up to date; the replayed result then carries no
	// step output, only the verdict.
	Known map[string]Fingerprint
}

// NewRunner creates a Runner rooted at root.
func NewRunner(root string, baseEnv map[string]string, cache ResultCache, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		Root:     root,
		Steps:    NewStepRunner(root, baseEnv),
		Resolver: NewInputResolver(root),
		Hasher:   NewHasher(),
		Cache:    cache,
		Log:      log,
	}
}

// Probe reports whether the environment is up to date: incremental mode is
// on and the cache holds a successful result for the current fingerprint.
// On a hit the replayed Result is returned.
func (r *Runner) Probe(ctx context.Context, e Environment) (*Result, bool, error) {
	if !r.Incremental || r.Cache == nil {
		return nil, false, nil
	}
	fp, err := r.fingerprint(e)
	if err != nil {
		return nil, false, err
	}
	entry, err := r.Cache.Get(fp)
	if err != nil {
		return nil, false, fmt.Errorf("probing cache for %q: %w", e.Name, err)
	}
	if entry == nil {
		if known, ok := r.Known[e.Name]; ok && known == fp {
			r.Log.Debug("environment up to date from run history",
				zap.String("env", e.Name),
				zap.String("fingerprint", fp.String()))
			return &Result{Name: e.Name, Fingerprint: fp, UpToDate: true}, true, nil
		}
		return nil, false, nil
	}
	r.Log.Debug("environment up to date",
		zap.String("env", e.Name),
		zap.String("fingerprint", fp.String()))
	return entry.toResult(e.Name, fp), true, nil
}

// Run executes the environment's steps in order.
func (r *Runner) Run(ctx context.Context, e Environment) (*Result, error) {
	fp, err := r.fingerprint(e)
	if err != nil {
		return nil, err
	}

	res := &Result{Name: e.Name, Fingerprint: fp}
	start := time.Now()

	for i, cmd := range e.Commands {
		r.Log.Debug("running step",
			zap.String("env", e.Name),
			zap.Int("step", i),
			zap.String("command", cmd.Raw))

		step, err := r.Steps.Run(ctx, e, i, cmd)
		if err != nil {
			return nil, fmt.Errorf("environment %q: %w", e.Name, err)
		}
		res.Steps = append(res.Steps, *step)

		if step.ExitCode != 0 && !cmd.IgnoreExit {
			res.ExitCode = step.ExitCode
			break
		}
	}
	res.Duration = time.Since(start)

	if res.ExitCode == 0 && r.Cache != nil {
		if err := r.Cache.Put(newCacheEntry(res)); err != nil {
			return nil, fmt.Errorf("caching result for %q: %w", e.Name, err)
		}
	}
	return res, nil
}

func (r *Runner) fingerprint(e Environment) (Fingerprint, error) {
	inputs, err := r.Resolver.Resolve(e.Inputs)
	if err != nil {
		return "", fmt.Errorf("resolving inputs for %q: %w", e.Name, err)
	}
	return r.Hasher.Fingerprint(FingerprintInput{
		Root:        r.Root,
		Environment: e,
		Inputs:      inputs,
	}), nil
}
