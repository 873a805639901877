package matrix

import "sort"

// ReadyEnvs returns the deterministically ordered list of environments
// eligible to run.
//
// Policy:
//   - An environment is ready iff it is PENDING and all its dependencies
//     are PASSED or UPTODATE.
//   - The returned list is sorted by (topological depth asc, name asc).
//
// This function is pure: it does not mutate graph or state.
func ReadyEnvs(g *Graph, state ExecutionState) []string {
	if g == nil {
		return nil
	}

	ready := make([]string, 0)
	for _, node := range g.nodes {
		st, ok := state[node.Name]
		if !ok || st != EnvPending {
			continue
		}

		depsOK := true
		for _, parentIdx := range g.incoming[node.canonicalIndex] {
			pst, ok := state[g.nodes[parentIdx].Name]
			if !ok || !IsSuccessful(pst) {
				depsOK = false
				break
			}
		}
		if depsOK {
			ready = append(ready, node.Name)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		ad, _ := g.Depth(a)
		bd, _ := g.Depth(b)
		if ad != bd {
			return ad < bd
		}
		return a < b
	})

	return ready
}
