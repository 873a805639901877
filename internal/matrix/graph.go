package matrix

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"envmatrix/internal/env"
)

// MatrixHash is the deterministic identity of a Graph.
//
// It is computed solely from environment definition content and dependency
// structure and is stable across declaration order.
type MatrixHash string

// String returns the hex form of the hash.
func (h MatrixHash) String() string { return string(h) }

// EnvDefHash is the deterministic identity of an environment definition as
// used by the matrix model.
//
// This is distinct from env.Fingerprint (execution identity): the definition
// hash covers configuration only, never input file contents.
type EnvDefHash string

// String returns the hex form of the hash.
func (h EnvDefHash) String() string { return string(h) }

// Edge represents a dependency relation: To depends on From, so To can only
// run after From passes.
type Edge struct {
	From string
	To   string
}

// Node is an immutable node in the Graph.
type Node struct {
	Name           string
	Env            env.Environment
	DefinitionHash EnvDefHash
	canonicalIndex int
}

// CanonicalIndex returns the node's deterministic position in the graph's
// canonical ordering.
func (n *Node) CanonicalIndex() int { return n.canonicalIndex }

type edgeIndex struct {
	from int
	to   int
}

// Graph is an immutable, validated environment matrix.
//
// It is safe for concurrent read access.
type Graph struct {
	nodesByName map[string]*Node
	nodes       []*Node // canonical order

	edges []edgeIndex // sorted

	outgoing [][]int // by canonical index, sorted ascending
	incoming [][]int // by canonical index, sorted ascending
	indeg    []int   // by canonical index
	depth    []int   // by canonical index (topological depth)

	hash MatrixHash
}

// NewGraph builds and validates a Graph.
//
// Validation runs immediately and rejects:
//   - empty matrix or duplicate environment names
//   - edges referencing unknown environments
//   - duplicate edges
//   - self-loops
//   - any cycle (direct or indirect)
func NewGraph(envs []env.Environment, edges []Edge) (*Graph, error) {
	if len(envs) == 0 {
		return nil, invalidf("no environments")
	}

	nodesByName := make(map[string]*Node, len(envs))
	nodes := make([]*Node, 0, len(envs))

	for _, e := range envs {
		if e.Name == "" {
			return nil, invalidf("environment name is required")
		}
		if _, exists := nodesByName[e.Name]; exists {
			return nil, invalidf("duplicate environment name: %q", e.Name)
		}

		node := &Node{Name: e.Name, Env: e, DefinitionHash: computeEnvDefHash(e)}
		nodesByName[e.Name] = node
		nodes = append(nodes, node)
	}

	// Canonicalize nodes: sort by definition hash primarily, then by name as
	// a stable tie-breaker.
	sort.Slice(nodes, func(i, j int) bool {
		ai, aj := nodes[i], nodes[j]
		if ai.DefinitionHash != aj.DefinitionHash {
			return ai.DefinitionHash < aj.DefinitionHash
		}
		return ai.Name < aj.Name
	})
	for i, n := range nodes {
		n.canonicalIndex = i
	}

	nameToIndex := make(map[string]int, len(nodes))
	for _, n := range nodes {
		nameToIndex[n.Name] = n.canonicalIndex
	}

	// Canonicalize edges: map to indices, reject invalid, sort, reject
	// duplicates.
	mapped := make([]edgeIndex, 0, len(edges))
	seen := make(map[edgeIndex]struct{}, len(edges))
	for _, e := range edges {
		fromNode, okFrom := nodesByName[e.From]
		toNode, okTo := nodesByName[e.To]
		if !okFrom {
			return nil, invalidf("%q depends on unknown environment %q", e.To, e.From)
		}
		if !okTo {
			return nil, invalidf("dependency edge targets unknown environment %q", e.To)
		}
		if fromNode.Name == toNode.Name {
			return nil, invalidf("environment %q depends on itself", e.From)
		}

		pair := edgeIndex{from: nameToIndex[fromNode.Name], to: nameToIndex[toNode.Name]}
		if _, exists := seen[pair]; exists {
			return nil, invalidf("duplicate dependency: %q -> %q", e.From, e.To)
		}
		seen[pair] = struct{}{}
		mapped = append(mapped, pair)
	}

	sort.Slice(mapped, func(i, j int) bool {
		a, b := mapped[i], mapped[j]
		if a.from != b.from {
			return a.from < b.from
		}
		return a.to < b.to
	})

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for _, e := range mapped {
		outgoing[e.from] = append(outgoing[e.from], e.to)
		incoming[e.to] = append(incoming[e.to], e.from)
		indeg[e.to]++
	}
	for i := range outgoing {
		sort.Ints(outgoing[i])
	}
	for i := range incoming {
		sort.Ints(incoming[i])
	}

	g := &Graph{
		nodesByName: nodesByName,
		nodes:       nodes,
		edges:       mapped,
		outgoing:    outgoing,
		incoming:    incoming,
		indeg:       indeg,
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}

	g.depth = g.computeDepth()
	g.hash = g.computeMatrixHash()
	return g, nil
}

// Hash returns the stable identity for this matrix.
func (g *Graph) Hash() MatrixHash { return g.hash }

// Node returns a node by environment name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Nodes returns the nodes in canonical order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the dependency edges as stable (From, To) name pairs in
// canonical order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: g.nodes[e.from].Name, To: g.nodes[e.to].Name})
	}
	return out
}

// Depth returns the deterministic topological depth of the environment: the
// length of the longest dependency chain leading to it.
func (g *Graph) Depth(name string) (int, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.canonicalIndex], true
}

// TopologicalOrder returns a deterministic topological ordering of
// environment names. Since the graph is validated on construction, this
// cannot fail.
func (g *Graph) TopologicalOrder() []string {
	order := g.topoOrderIndices()
	names := make([]string, 0, len(order))
	for _, idx := range order {
		names = append(names, g.nodes[idx].Name)
	}
	return names
}

// SelectionClosure expands a requested environment selection with every
// transitive dependency, returned in deterministic topological order.
//
// An unknown name in the selection is an error.
func (g *Graph) SelectionClosure(names []string) ([]string, error) {
	include := make([]bool, len(g.nodes))
	var mark func(idx int)
	mark = func(idx int) {
		if include[idx] {
			return
		}
		include[idx] = true
		for _, p := range g.incoming[idx] {
			mark(p)
		}
	}
	for _, name := range names {
		n, ok := g.nodesByName[name]
		if !ok {
			return nil, invalidf("unknown environment: %q", name)
		}
		mark(n.canonicalIndex)
	}

	out := make([]string, 0, len(names))
	for _, idx := range g.topoOrderIndices() {
		if include[idx] {
			out = append(out, g.nodes[idx].Name)
		}
	}
	return out, nil
}

func (g *Graph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	order := g.topoOrderIndices()
	for _, u := range order {
		maxParent := 0
		for _, p := range g.incoming[u] {
			if cand := depth[p] + 1; cand > maxParent {
				maxParent = cand
			}
		}
		depth[u] = maxParent
	}
	return depth
}

func (g *Graph) computeMatrixHash() MatrixHash {
	h := sha256.New()

	writeField := func(data []byte) {
		length := uint64(len(data))
		h.Write([]byte{
			byte(length >> 56),
			byte(length >> 48),
			byte(length >> 40),
			byte(length >> 32),
			byte(length >> 24),
			byte(length >> 16),
			byte(length >> 8),
			byte(length),
		})
		h.Write(data)
	}

	// Nodes (canonical order)
	writeField([]byte{byte(len(g.nodes))})
	for _, n := range g.nodes {
		writeField([]byte(n.DefinitionHash))
	}

	// Edges (canonical order)
	writeField([]byte{byte(len(g.edges))})
	for _, e := range g.edges {
		writeField([]byte{byte(e.from >> 24), byte(e.from >> 16), byte(e.from >> 8), byte(e.from)})
		writeField([]byte{byte(e.to >> 24), byte(e.to >> 16), byte(e.to >> 8), byte(e.to)})
	}

	return MatrixHash(hex.EncodeToString(h.Sum(nil)))
}

// computeEnvDefHash hashes the declarative definition of an environment:
// name, basepython, ordered commands, variables, and input patterns.
//
// Input file *contents* are deliberately excluded; definition identity must
// not change because a source file changed.
func computeEnvDefHash(e env.Environment) EnvDefHash {
	h := sha256.New()

	writeField := func(data []byte) {
		length := uint64(len(data))
		h.Write([]byte{
			byte(length >> 56),
			byte(length >> 48),
			byte(length >> 40),
			byte(length >> 32),
			byte(length >> 24),
			byte(length >> 16),
			byte(length >> 8),
			byte(length),
		})
		h.Write(data)
	}

	writeField([]byte(e.Name))
	writeField([]byte(e.BasePython))

	writeField([]byte{byte(len(e.Commands))})
	for _, c := range e.Commands {
		writeField([]byte(c.Raw))
		if c.IgnoreExit {
			writeField([]byte{1})
		} else {
			writeField([]byte{0})
		}
	}

	keys := make([]string, 0, len(e.SetEnv))
	for k := range e.SetEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeField([]byte{byte(len(keys))})
	for _, k := range keys {
		writeField([]byte(k))
		writeField([]byte(e.SetEnv[k]))
	}

	passenv := make([]string, len(e.PassEnv))
	copy(passenv, e.PassEnv)
	sort.Strings(passenv)
	writeField([]byte{byte(len(passenv))})
	for _, name := range passenv {
		writeField([]byte(name))
	}

	inputs := make([]string, len(e.Inputs))
	copy(inputs, e.Inputs)
	sort.Strings(inputs)
	writeField([]byte{byte(len(inputs))})
	for _, in := range inputs {
		writeField([]byte(in))
	}

	return EnvDefHash(hex.EncodeToString(h.Sum(nil)))
}
