package matrix

import (
	"container/heap"
)

// validateAcyclic rejects any dependency cycle among environments.
//
// Kahn's algorithm over the canonical indices doubles as the
// topological-order builder; if the order comes up short, some environments
// sit on a cycle and a DFS extracts one stable witness path for the error.
func (g *Graph) validateAcyclic() error {
	if len(g.topoOrderIndices()) == len(g.nodes) {
		return nil
	}
	return cycleError(g.cycleWitness())
}

// indexHeap is a min-heap of canonical node indices.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns the canonical topological ordering of node
// indices. Ready environments drain smallest canonical index first, so two
// equal matrices always order identically.
func (g *Graph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &indexHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// cycleWitness extracts one dependency cycle as environment names, in edge
// direction and closing on the repeated environment.
//
// The DFS visits canonical indices ascending and sorted adjacency lists, so
// the witness is a pure function of the matrix definition: the same config
// always produces the same error message.
func (g *Graph) cycleWitness() []string {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // fully explored
	)

	color := make([]uint8, len(g.nodes))
	path := make([]int, 0, len(g.nodes))
	var witness []string

	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = gray
		path = append(path, u)

		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				if visit(v) {
					return true
				}
			case gray:
				// v is on the current path: the cycle runs from v's position
				// through u and closes back on v.
				start := 0
				for i, n := range path {
					if n == v {
						start = i
						break
					}
				}
				for _, n := range path[start:] {
					witness = append(witness, g.nodes[n].Name)
				}
				witness = append(witness, g.nodes[v].Name)
				return true
			}
		}

		path = path[:len(path)-1]
		color[u] = black
		return false
	}

	for i := range g.nodes {
		if color[i] == white && visit(i) {
			return witness
		}
	}
	return nil
}
