package matrix

import (
	"container/heap"
	"fmt"
)

// EnvState is the runtime execution state of a matrix node.
//
// This is intentionally separated from Graph, which is immutable.
type EnvState string

const (
	EnvPending  EnvState = "PENDING"
	EnvRunning  EnvState = "RUNNING"
	EnvPassed   EnvState = "PASSED"
	EnvFailed   EnvState = "FAILED"
	EnvSkipped  EnvState = "SKIPPED"
	EnvUpToDate EnvState = "UPTODATE"
)

// ExecutionState maps environment name to its current EnvState.
//
// It is intentionally a plain map so the scheduler can remain a pure
// function without coupling to an executor implementation.
type ExecutionState map[string]EnvState

// IsTerminal reports whether the state is terminal (finished).
func IsTerminal(s EnvState) bool {
	switch s {
	case EnvPassed, EnvFailed, EnvSkipped, EnvUpToDate:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies dependents.
func IsSuccessful(s EnvState) bool {
	switch s {
	case EnvPassed, EnvUpToDate:
		return true
	default:
		return false
	}
}

// Transition performs an atomic validated transition for a single
// environment.
//
// The caller supplies the expected prior state (from) to make races
// observable. The state map is mutated if and only if the transition is
// valid.
func Transition(state ExecutionState, name string, from, to EnvState) error {
	cur, ok := state[name]
	if !ok {
		return fmt.Errorf("unknown environment in state: %q", name)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", name, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", name, from, to)
	}
	state[name] = to
	return nil
}

func isAllowedTransition(from, to EnvState) bool {
	switch from {
	case EnvPending:
		return to == EnvRunning || to == EnvUpToDate || to == EnvSkipped
	case EnvRunning:
		return to == EnvPassed || to == EnvFailed
	default:
		return false
	}
}

// FailAndPropagate transitions name from RUNNING to FAILED and immediately
// and transitively marks all downstream dependents as SKIPPED.
//
// Determinism:
//   - The set of nodes marked SKIPPED is defined purely by reachability.
//   - Traversal is in deterministic canonical index order.
//
// Safety: a downstream node observed RUNNING during propagation indicates a
// missing synchronization bug and is treated as an invariant violation.
func FailAndPropagate(g *Graph, state ExecutionState, name string) error {
	if g == nil {
		return fmt.Errorf("nil graph")
	}
	node, ok := g.nodesByName[name]
	if !ok {
		return fmt.Errorf("unknown environment: %q", name)
	}

	cur, ok := state[name]
	if !ok {
		return fmt.Errorf("unknown environment in state: %q", name)
	}
	if cur != EnvRunning && cur != EnvFailed {
		return fmt.Errorf("cannot fail %q from state %s", name, cur)
	}
	if cur == EnvRunning {
		state[name] = EnvFailed
	}

	start := node.canonicalIndex
	visited := make([]bool, len(g.nodes))
	visited[start] = true

	hq := &indexHeap{}
	heap.Init(hq)
	for _, d := range g.outgoing[start] {
		heap.Push(hq, d)
	}

	for hq.Len() > 0 {
		u := heap.Pop(hq).(int)
		if visited[u] {
			continue
		}
		visited[u] = true

		depName := g.nodes[u].Name
		st, ok := state[depName]
		if !ok {
			return fmt.Errorf("missing state for %q", depName)
		}

		switch st {
		case EnvPending:
			state[depName] = EnvSkipped
		case EnvRunning:
			return fmt.Errorf("invariant violation: dependent %q is RUNNING during failure propagation", depName)
		default:
			// Terminal already. Leave unchanged.
		}

		for _, v := range g.outgoing[u] {
			if !visited[v] {
				heap.Push(hq, v)
			}
		}
	}

	return nil
}
