package matrix

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"envmatrix/internal/env"
)

// EnvRunner executes a single environment.
//
// A non-zero exit code inside the returned Result is an environment failure;
// a non-nil error is an infrastructure failure (inability to start a shell,
// unreadable input, cancelled context).
type EnvRunner interface {
	// Probe checks whether the environment is already up to date. If
	// upToDate is true, result must be non-nil with UpToDate set.
	Probe(ctx context.Context, e env.Environment) (result *env.Result, upToDate bool, err error)

	Run(ctx context.Context, e env.Environment) (*env.Result, error)
}

// Executor executes a Graph deterministically.
type Executor struct {
	Graph  *Graph
	Runner EnvRunner

	mu    sync.Mutex
	state ExecutionState
}

// NewExecutor creates an executor with all environments initialized to
// PENDING.
func NewExecutor(g *Graph, runner EnvRunner) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}

	state := make(ExecutionState, len(g.nodes))
	for _, n := range g.nodes {
		state[n.Name] = EnvPending
	}
	return &Executor{Graph: g, Runner: runner, state: state}, nil
}

// StateSnapshot returns a copy of the current execution state.
func (e *Executor) StateSnapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make(ExecutionState, len(e.state))
	for k, v := range e.state {
		cp[k] = v
	}
	return cp
}

// RunSerial executes the matrix one environment at a time.
//
// Determinism:
//   - All state mutations are guarded by a single mutex.
//   - The scheduler is polled deterministically.
//   - The next environment chosen is always the first element of the
//     scheduler's ordered list.
func (e *Executor) RunSerial(ctx context.Context) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	order := make([]string, 0, len(e.Graph.nodes))
	results := make(map[string]*env.Result, len(e.Graph.nodes))

	for {
		e.mu.Lock()
		ready := ReadyEnvs(e.Graph, e.state)

		if len(ready) == 0 {
			allTerminal := true
			for _, st := range e.state {
				if !IsTerminal(st) {
					allTerminal = false
					break
				}
			}
			e.mu.Unlock()

			if allTerminal {
				return &Result{
					MatrixHash:     e.Graph.Hash(),
					FinalState:     e.StateSnapshot(),
					ExecutionOrder: order,
					Results:        results,
				}, nil
			}
			return nil, fmt.Errorf("no ready environments but matrix not finished")
		}

		next := ready[0]
		environment := e.Graph.nodesByName[next].Env

		probeRes, upToDate, err := e.Runner.Probe(ctx, environment)
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("probing %q: %w", next, err)
		}
		if upToDate {
			if probeRes == nil {
				e.mu.Unlock()
				return nil, fmt.Errorf("probing %q: nil result", next)
			}
			if err := Transition(e.state, next, EnvPending, EnvUpToDate); err != nil {
				e.mu.Unlock()
				return nil, err
			}
			results[next] = probeRes
			e.mu.Unlock()
			continue
		}

		if err := Transition(e.state, next, EnvPending, EnvRunning); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.mu.Unlock()

		// Execute outside the lock.
		runRes, err := e.Runner.Run(ctx, environment)
		if err != nil {
			return nil, fmt.Errorf("running %q: %w", next, err)
		}
		if runRes == nil {
			return nil, fmt.Errorf("running %q: nil result", next)
		}

		e.mu.Lock()
		order = append(order, next)
		results[next] = runRes

		if runRes.ExitCode == 0 {
			if err := Transition(e.state, next, EnvRunning, EnvPassed); err != nil {
				e.mu.Unlock()
				return nil, err
			}
			e.mu.Unlock()
			continue
		}

		if err := FailAndPropagate(e.Graph, e.state, next); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.mu.Unlock()
	}
}

// RunParallel executes the matrix using up to concurrency workers.
//
// Determinism strategy:
//   - Depth-staged dispatch: environments start in increasing topological
//     depth, lexical order within a depth.
//   - Environment results and state transitions are serialized on e.mu;
//     execution itself happens outside the lock in an errgroup bounded by
//     concurrency.
//
// Each environment's command list still runs strictly sequentially;
// parallelism applies only across independent environments.
func (e *Executor) RunParallel(ctx context.Context, concurrency int) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}

	maxDepth := 0
	for _, d := range e.Graph.depth {
		if d > maxDepth {
			maxDepth = d
		}
	}

	byDepth := make([][]string, maxDepth+1)
	for _, n := range e.Graph.nodes {
		d := e.Graph.depth[n.canonicalIndex]
		byDepth[d] = append(byDepth[d], n.Name)
	}
	for d := range byDepth {
		sort.Strings(byDepth[d])
	}

	order := make([]string, 0, len(e.Graph.nodes))
	results := make(map[string]*env.Result, len(e.Graph.nodes))

	for depth := 0; depth <= maxDepth; depth++ {
		var batch []string

		e.mu.Lock()
		for _, name := range byDepth[depth] {
			st := e.state[name]
			if IsTerminal(st) {
				// Skipped by an earlier failure; never executes.
				continue
			}
			if st != EnvPending {
				e.mu.Unlock()
				return nil, fmt.Errorf("unexpected non-pending state for %q: %s", name, st)
			}

			node := e.Graph.nodesByName[name]
			for _, p := range e.Graph.incoming[node.canonicalIndex] {
				if !IsSuccessful(e.state[e.Graph.nodes[p].Name]) {
					e.mu.Unlock()
					return nil, fmt.Errorf("environment %q at depth %d is pending but dependencies are not successful", name, depth)
				}
			}

			probeRes, upToDate, err := e.Runner.Probe(ctx, node.Env)
			if err != nil {
				e.mu.Unlock()
				return nil, fmt.Errorf("probing %q: %w", name, err)
			}
			if upToDate {
				if probeRes == nil {
					e.mu.Unlock()
					return nil, fmt.Errorf("probing %q: nil result", name)
				}
				if err := Transition(e.state, name, EnvPending, EnvUpToDate); err != nil {
					e.mu.Unlock()
					return nil, err
				}
				results[name] = probeRes
				continue
			}

			if err := Transition(e.state, name, EnvPending, EnvRunning); err != nil {
				e.mu.Unlock()
				return nil, err
			}
			order = append(order, name)
			batch = append(batch, name)
		}
		e.mu.Unlock()

		if len(batch) == 0 {
			continue
		}

		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(concurrency)
		for _, name := range batch {
			eg.Go(func() error {
				node := e.Graph.nodesByName[name]
				res, err := e.Runner.Run(egCtx, node.Env)
				if err != nil {
					return fmt.Errorf("running %q: %w", name, err)
				}
				if res == nil {
					return fmt.Errorf("running %q: nil result", name)
				}

				e.mu.Lock()
				defer e.mu.Unlock()
				results[name] = res
				if res.ExitCode == 0 {
					return Transition(e.state, name, EnvRunning, EnvPassed)
				}
				// Dependents live at strictly greater depths and cannot be
				// RUNNING yet, so propagation here is race-free.
				return FailAndPropagate(e.Graph, e.state, name)
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	}

	return &Result{
		MatrixHash:     e.Graph.Hash(),
		FinalState:     e.StateSnapshot(),
		ExecutionOrder: order,
		Results:        results,
	}, nil
}
